// Package server exposes the session manager over HTTP: chunk upload and
// completion, session monitoring, a websocket live feed per session, health,
// configuration, statistics and Prometheus metrics.
package server

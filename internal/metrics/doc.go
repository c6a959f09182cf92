// Package metrics defines the Prometheus metrics of the transcription service.
package metrics

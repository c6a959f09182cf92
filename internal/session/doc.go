// Package session orchestrates recording sessions.
//
// A Manager creates a session on the first chunk for an id. Each chunk is
// recorded, billed and, in per-chunk mode, submitted as its own
// transcription job. A background routine sweeps the jobs of every session
// once per poll interval so text accumulates while the recording is still
// running. CompleteSession seals the session, waits for every job within
// its budget and returns the merged transcript with audio, processing and
// billing statistics. Jobs that fail or time out are listed as omissions.
//
// Closed sessions stay readable for the retention period and are then
// evicted. Live updates for a session are available through Subscribe.
package session

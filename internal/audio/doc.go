// Package audio keeps the per-session chunk log and the WAV helpers used to
// inspect, split and reassemble recorded audio.
// A ChunkLog stores chunks in arrival order and sums their declared durations;
// Assemble turns a log back into a single file for whole-recording jobs.
package audio

// Package jobs tracks the transcription jobs of a session.
// A Tracker submits chunk audio to a transcription.Engine, polls outstanding
// jobs on a fixed interval and forces any job that outlives its Budget to
// fail with a timeout, so waiting for a session to drain is always bounded.
package jobs

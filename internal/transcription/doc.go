// Package transcription implements the client for the external speech-to-text engine.
// It exposes the engine as two calls, Submit and Poll, over the AssemblyAI
// upload/transcript REST protocol, limits concurrent requests with a semaphore
// and reports every transport or protocol failure as ErrUpstreamUnavailable.
// Retrying is left to the caller.
package transcription

// Package transcript merges the text of completed jobs into one session transcript.
package transcript

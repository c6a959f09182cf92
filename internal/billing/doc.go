// Package billing turns processed audio seconds into a running cost estimate.
package billing

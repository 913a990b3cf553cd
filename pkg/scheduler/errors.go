package scheduler

import "errors"

// ErrCanceled is the result of a job that was canceled, or superseded by a
// newer job for the same key.
var ErrCanceled = errors.New("job canceled")

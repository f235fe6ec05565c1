package model

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat = errors.New("model: unsupported model format")
	ErrNoLabels          = errors.New("model: metadata declares no labels")
	ErrBadShape          = errors.New("model: invalid tensor shape")
	ErrInputSize         = errors.New("model: input tensor has the wrong size")
	ErrOutputMismatch    = errors.New("model: output shorter than class count")
	ErrClosed            = errors.New("model: closed")
)

// StatusError is returned when a model artifact cannot be fetched.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model: GET %s returned status %d", e.URL, e.StatusCode)
}

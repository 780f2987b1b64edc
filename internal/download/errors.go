package download

import "errors"

var (
	// ErrInProgress is returned when the destination file is already being
	// downloaded.
	ErrInProgress = errors.New("download already in progress")

	// ErrUnexpectedStatus is returned for non-2xx responses.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
)

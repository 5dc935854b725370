package ports

import "errors"

var (
	// ErrNetwork marks transport failures: the exchange could not be reached.
	// The loop waits for connectivity instead of counting these as errors.
	ErrNetwork = errors.New("network unavailable")

	// ErrNotFound is returned when a lookup has no result.
	ErrNotFound = errors.New("not found")
)

package core

import "errors"

var (
	// ErrInvalidURL is returned for configuration input that is not an http(s) URL.
	ErrInvalidURL = errors.New("invalid URL")
	// ErrScanFailed is returned when the playlist listing could not be obtained.
	ErrScanFailed = errors.New("playlist scan failed")
	// ErrEmptyPlaylist is returned when a scan yields no entries; removal passes must not run on it.
	ErrEmptyPlaylist = errors.New("playlist contained no entries")
	// ErrCancelled is returned when the user declines a confirmation prompt.
	ErrCancelled = errors.New("operation cancelled")
)

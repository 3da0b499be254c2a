// Package fluxerr defines the engine's error taxonomy: a small set of
// kinds (IO, Corruption, InvalidFormat, Compression, NotFound, Config)
// that every engine-internal failure is classified under, wrapped with
// github.com/cockroachdb/errors so callers retain stack traces and
// errors.Is/As compatibility across package boundaries.
package fluxerr

import (
	"github.com/cockroachdb/errors"
)

// Kind classifies an engine error per the error handling design.
type Kind int

const (
	KindIO Kind = iota
	KindCorruption
	KindInvalidFormat
	KindCompression
	KindNotFound
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindCorruption:
		return "corruption"
	case KindInvalidFormat:
		return "invalid_format"
	case KindCompression:
		return "compression"
	case KindNotFound:
		return "not_found"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// kindError is the sentinel each Kind wraps around; errors.Is matches on
// the sentinel, not on message text.
type kindError struct{ kind Kind }

func (e *kindError) Error() string { return e.kind.String() }

var (
	ErrIO             error = &kindError{KindIO}
	ErrCorruption     error = &kindError{KindCorruption}
	ErrInvalidFormat  error = &kindError{KindInvalidFormat}
	ErrCompression    error = &kindError{KindCompression}
	ErrNotFound       error = &kindError{KindNotFound}
	ErrConfig         error = &kindError{KindConfig}
)

func sentinelFor(k Kind) error {
	switch k {
	case KindIO:
		return ErrIO
	case KindCorruption:
		return ErrCorruption
	case KindInvalidFormat:
		return ErrInvalidFormat
	case KindCompression:
		return ErrCompression
	case KindNotFound:
		return ErrNotFound
	case KindConfig:
		return ErrConfig
	default:
		return ErrIO
	}
}

// New builds a new error of the given kind with a formatted message and a
// captured stack trace.
func New(k Kind, format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), sentinelFor(k))
}

// Wrap marks an existing error with a kind, preserving the original cause
// for errors.Is/As/Unwrap.
func Wrap(k Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, format, args...), sentinelFor(k))
}

// Is reports whether err is marked with the given kind.
func Is(err error, k Kind) bool {
	return errors.Is(err, sentinelFor(k))
}

// IsRetryable reports whether err is the kind of failure a caller may
// retry (IO only, per the error handling design).
func IsRetryable(err error) bool {
	return Is(err, KindIO)
}

// IsCorruption reports whether err indicates data corruption.
func IsCorruption(err error) bool {
	return Is(err, KindCorruption)
}

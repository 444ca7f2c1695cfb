package fdata

import "errors"

// Sentinel errors forming the error taxonomy from the design notes: every
// error this package returns wraps exactly one of these via fmt.Errorf's
// %w verb, so callers can use errors.Is to classify a failure regardless
// of the human-readable detail attached to it.
var (
	// ErrInvalidArgument reports a NULL out-pointer, negative size, unknown
	// whence value, or an out-of-range index caught at the argument layer.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadySet reports construction into a non-empty destination.
	ErrAlreadySet = errors.New("already set")

	// ErrValueMissing reports a required callback that is absent at the
	// point of need, or dependent state that was never initialized.
	ErrValueMissing = errors.New("required value missing")

	// ErrUnsupported reports an operation forbidden by the current node
	// kind (e.g. appending a sub-node to a leaf) or by a missing optional
	// callback.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrOutOfBounds reports a cursor or index beyond the constructed
	// extent.
	ErrOutOfBounds = errors.New("out of bounds")

	// ErrMemory reports an allocation failure.
	ErrMemory = errors.New("memory error")

	// ErrIO reports a callback-returned error. The original error's text is
	// appended to the message with %v; the cause itself is not wrapped, so
	// errors.Is and errors.As match only this sentinel.
	ErrIO = errors.New("i/o error")
)

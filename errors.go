package rockyardkv

import "errors"

// Error kinds returned by public operations (§7). Each is a sentinel
// suitable for errors.Is; callers wanting the wrapped context should
// inspect the message, not parse it.
var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("rockyardkv: not found")

	// ErrCorruption covers checksum mismatches, bad magic numbers,
	// truncated records, and unknown manifest tags.
	ErrCorruption = errors.New("rockyardkv: corruption")

	// ErrIOError wraps a failure from the underlying storage.
	ErrIOError = errors.New("rockyardkv: io error")

	// ErrInvalidArgument covers caller misuse: an unknown partition
	// handle, an out-of-order writer input, a malformed option.
	ErrInvalidArgument = errors.New("rockyardkv: invalid argument")

	// ErrBusy is returned when an operation conflicts with another
	// in-progress one (e.g. a second CompactRange on the same partition
	// while one is already running).
	ErrBusy = errors.New("rockyardkv: busy")

	// ErrNotSupported is reserved for stubs and options this build
	// recognizes but does not implement.
	ErrNotSupported = errors.New("rockyardkv: not supported")

	// ErrClosed is returned by any operation on a DB that has already
	// been closed.
	ErrClosed = errors.New("rockyardkv: closed")
)

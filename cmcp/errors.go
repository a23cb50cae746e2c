package cmcp

import "errors"

// Sentinel errors classifying public API failures. Callers should compare
// with errors.Is; wrapped context (fmt.Errorf("...: %w", err)) is added at
// call sites.
var (
	// ErrInvalidArgument covers a nil handle, an empty address, a command
	// id >= 2^15, or a duplicate parameter id passed to DataList.Add.
	ErrInvalidArgument = errors.New("cmcp: invalid argument")

	// ErrAlreadyInitialized is returned by Connect/Bind on a Node that has
	// already left StateUninitialized.
	ErrAlreadyInitialized = errors.New("cmcp: already initialized")

	// ErrCapacity is returned by DataList.Add when the list is full. A full
	// server registry is not reported through it: the announcing client is
	// answered with ServerNackClient instead.
	ErrCapacity = errors.New("cmcp: capacity exceeded")

	// ErrLookup is returned when a parameter id is missing or its length
	// does not match the caller's expectation.
	ErrLookup = errors.New("cmcp: lookup failed")

	// ErrNotConnected is returned by Client.Send before the handshake
	// reaches Connected, and by Client.Connect when establishing a
	// connection does not complete before its deadline.
	ErrNotConnected = errors.New("cmcp: not connected")

	// ErrTransport wraps a failure reported by the underlying Transport.
	ErrTransport = errors.New("cmcp: transport error")
)

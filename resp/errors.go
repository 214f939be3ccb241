package resp

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels wrapped by ProtocolError.
var (
	// ErrInvalidState reports a malformed stream: an unknown type marker, a
	// line without CRLF, a length that is not a number. The stream position
	// can no longer be trusted.
	ErrInvalidState = errors.New("resp: invalid state")

	// ErrEOF reports a stream that ended before a complete reply was read.
	ErrEOF = errors.New("resp: unexpected end of stream")
)

// ErrorReply is an error line ("-ERR message") sent by the server.
//
// The reply was well-formed, so the connection stays usable. It is the
// failure of one command, not of the transport.
//
// Connection handling: REUSE
type ErrorReply struct {
	Message string
}

func (e *ErrorReply) Error() string {
	return e.Message
}

// Prefix returns the error code, the first word of the message ("ERR",
// "WRONGTYPE", "NOAUTH"...).
func (e *ErrorReply) Prefix() string {
	prefix, _, _ := strings.Cut(e.Message, " ")
	return prefix
}

// ShouldCloseConnection returns false - the stream is still aligned.
func (e *ErrorReply) ShouldCloseConnection() bool {
	return false
}

// ProtocolError reports a stream that cannot be decoded. Err is ErrInvalidState
// or ErrEOF.
//
// Connection handling: CLOSE
type ProtocolError struct {
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return e.Err.Error() + ": " + e.Message
	}
	return "resp: " + e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - the stream is desynchronized.
func (e *ProtocolError) ShouldCloseConnection() bool {
	return true
}

// ConnectionError wraps a transport failure during a read or a write.
//
// Connection handling: CLOSE, then reconnect
type ConnectionError struct {
	Op  string // read or write
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("resp: connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - the transport is broken.
func (e *ConnectionError) ShouldCloseConnection() bool {
	return true
}

// TypeError is returned by Reply accessors used on the wrong variant.
type TypeError struct {
	Want Kind
	Got  Kind
}

func (e *TypeError) Error() string {
	return "resp: reply is " + e.Got.String() + ", not " + e.Want.String()
}

// ErrorWithConnectionState is implemented by the errors of this package.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether err leaves the connection unusable.
//
// Returns false for nil and *ErrorReply. Unknown errors are treated as fatal
// for the connection.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	return true
}

func invalidState(format string, args ...any) error {
	return &ProtocolError{Message: fmt.Sprintf(format, args...), Err: ErrInvalidState}
}

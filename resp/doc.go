// Package resp implements the RESP wire protocol used by Redis-compatible
// servers: command encoding, typed reply decoding and the error types that
// tell a client whether a connection is still usable.
//
// The package has no notion of connections, retries or queues. Higher-level
// clients build on it with whatever architecture they need.
//
// # Core Types
//
//   - Reply: a tagged union of the reply kinds (integer, simple string, bulk,
//     nil bulk, array, nil array, error value)
//   - Kind: the active variant of a Reply
//
// # Encoding and Decoding
//
// WriteCommand serializes one command as an array of bulk strings:
//
//	w := bufio.NewWriter(conn)
//	err := resp.WriteCommand(w, "SET", resp.Args("key", 42))
//	err = w.Flush()
//
// ReadReply decodes exactly one reply:
//
//	reply, err := resp.ReadReply(bufio.NewReader(conn))
//	if err != nil {
//	    if resp.ShouldCloseConnection(err) {
//	        conn.Close()
//	    }
//	    return err
//	}
//
// # Error Handling
//
// Server error lines ("-ERR ...") are returned as *ErrorReply errors, never as
// values, including when they appear inside an array. The stream is left
// positioned after the complete reply, so the connection remains usable.
//
// Malformed input returns *ProtocolError wrapping ErrInvalidState, and a
// stream that ends in the middle of a reply returns *ProtocolError wrapping
// ErrEOF. Both mean the stream position can no longer be trusted.
//
// Transport failures are wrapped in *ConnectionError.
//
// # Server Side
//
// ReadCommand and WriteReply implement the opposite direction. They exist for
// fakes, proxies and tools that need to speak as a server.
package resp

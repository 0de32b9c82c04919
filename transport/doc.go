// Package transport provides the framed byte-stream channel between the
// worker and its host process.
//
// A frame is a fixed 24-byte big-endian header followed by the payload:
//
//	magic(4) version(2) type(1) flags(1) id(8) payload_len(8) payload
//
// Payloads are limited to DefaultMaxPayload unless overridden. The frame
// type distinguishes requests, responses and the host's shutdown
// instruction; FlagError marks an error response.
//
// Dial connects to the host's unix socket, optionally retrying with
// backoff, and returns a Channel. A Channel supports one reader and any
// number of concurrent writers. Recv reports io.EOF once the host closes
// the stream or the channel is closed locally.
package transport

// Package protocol owns the message codec that sits between raw frames and
// the arbiter.
//
// Ownership boundary:
// - message kind classification (invocation, oneway, reply)
// - header validation (magic, version, kind)
// - request/reply encoding
//
// Framing itself lives in protocol/frame.
package protocol

// Package transport owns the byte-level duplex connection under an arbiter.
//
// Ownership boundary:
// - framed read/write over a stream connection
// - dial with retry/backoff, accept
// - in-memory transports for tests and local wiring
//
// A Transport has exactly one reader. Writers may be concurrent; Stream
// serializes them so frames never interleave.
package transport

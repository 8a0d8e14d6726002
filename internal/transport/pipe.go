package transport

import "net"

// Pipe returns two Streams joined by a synchronous in-memory net.Conn pair.
// Writes block until the peer reads, as on a real socket with no buffer.
func Pipe(cfg Config) (*Stream, *Stream) {
	a, b := net.Pipe()
	return NewStream(a, cfg), NewStream(b, cfg)
}

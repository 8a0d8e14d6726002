package protocol

import (
	"github.com/danmuck/callmux/internal/protocol/frame"
)

func (c FrameCodec) EncodeRequest(seq uint64, payload []byte) ([]byte, error) {
	return c.encode(KindInvocation, 0, seq, payload)
}

func (c FrameCodec) EncodeOneway(seq uint64, payload []byte) ([]byte, error) {
	return c.encode(KindOneway, 0, seq, payload)
}

func (c FrameCodec) EncodeReply(seq uint64, payload []byte) ([]byte, error) {
	return c.encode(KindReply, 0, seq, payload)
}

// EncodeErrorReply encodes a reply that the receiving side surfaces as a
// remote error rather than a payload.
func (c FrameCodec) EncodeErrorReply(seq uint64, msg string) ([]byte, error) {
	return c.encode(KindReply, frame.FlagIsError, seq, []byte(msg))
}

func (c FrameCodec) encode(kind Kind, flags uint8, seq uint64, payload []byte) ([]byte, error) {
	limits := c.Limits
	if limits.MaxPayloadBytes == 0 {
		limits = frame.DefaultLimits()
	}
	return frame.Marshal(frame.Frame{
		Header: frame.Header{
			Magic:    frame.Magic,
			Version:  frame.Version,
			Kind:     uint8(kind),
			Flags:    flags,
			Sequence: seq,
		},
		Payload: payload,
	}, limits)
}

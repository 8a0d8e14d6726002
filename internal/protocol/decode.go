package protocol

import (
	"errors"
	"fmt"

	"github.com/danmuck/callmux/internal/protocol/frame"
)

// Codec turns raw frames into messages and back.
type Codec interface {
	Decode(raw []byte) (Message, error)
	EncodeRequest(seq uint64, payload []byte) ([]byte, error)
	EncodeOneway(seq uint64, payload []byte) ([]byte, error)
	EncodeReply(seq uint64, payload []byte) ([]byte, error)
	EncodeErrorReply(seq uint64, msg string) ([]byte, error)
}

// FrameCodec is the default Codec over protocol/frame. It is stateless and
// safe for concurrent use.
type FrameCodec struct {
	Limits frame.Limits
}

var _ Codec = FrameCodec{}

func NewFrameCodec() FrameCodec {
	return FrameCodec{Limits: frame.DefaultLimits()}
}

// Decode validates the fixed header and classifies the message. Every error
// it returns wraps ErrDecode.
func (c FrameCodec) Decode(raw []byte) (Message, error) {
	f, err := frame.Unmarshal(raw)
	if err != nil {
		if errors.Is(err, frame.ErrShortHeader) || errors.Is(err, frame.ErrShortPayload) {
			return Message{}, decodeErr(ErrTruncated, err.Error())
		}
		return Message{}, decodeErr(err, "")
	}
	h := f.Header
	if h.Magic != frame.Magic {
		return Message{}, decodeErr(ErrInvalidMagic, fmt.Sprintf("got=%#x", h.Magic))
	}
	if h.Version != frame.Version {
		return Message{}, decodeErr(ErrUnsupportedVersion, fmt.Sprintf("got=%d", h.Version))
	}
	kind := Kind(h.Kind)
	if !kind.Valid() {
		return Message{}, decodeErr(ErrUnknownKind, fmt.Sprintf("got=%d seq=%d", h.Kind, h.Sequence))
	}
	return Message{
		Kind:     kind,
		Sequence: h.Sequence,
		Payload:  f.Payload,
		IsError:  kind == KindReply && h.Flags&frame.FlagIsError != 0,
	}, nil
}

func decodeErr(reason error, detail string) error {
	if detail == "" {
		return fmt.Errorf("%w: %w", ErrDecode, reason)
	}
	return fmt.Errorf("%w: %w: %s", ErrDecode, reason, detail)
}

package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderLen uint16 = 24

	Magic   uint32 = 0xCA11F00D
	Version uint16 = 1

	FlagIsError uint8 = 0x01
)

var (
	ErrShortHeader     = errors.New("frame: short fixed header")
	ErrShortPayload    = errors.New("frame: short payload")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Header is the fixed wire header.
type Header struct {
	Magic      uint32
	Version    uint16
	Kind       uint8
	Flags      uint8
	Sequence   uint64
	PayloadLen uint64
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// ReadFrame reads one frame. Magic, version and kind are not checked here, so
// a frame with a bad header but an intact length leaves r positioned at the
// next frame.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.PayloadLen, limits.MaxPayloadBytes)
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return Frame{}, ErrShortPayload
			}
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

// ReadRaw reads one frame and returns its exact wire bytes.
func ReadRaw(r io.Reader, limits Limits) ([]byte, error) {
	f, err := ReadFrame(r, limits)
	if err != nil {
		return nil, err
	}
	return Marshal(f, limits)
}

// WriteFrame writes header and payload with a single Write call so that
// concurrent writers serialized by the caller never interleave partial frames.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	buf, err := Marshal(f, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Marshal encodes f, filling in PayloadLen from the payload.
func Marshal(f Frame, limits Limits) ([]byte, error) {
	payloadLen := uint64(len(f.Payload))
	if payloadLen > limits.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, payloadLen, limits.MaxPayloadBytes)
	}
	h := f.Header
	h.PayloadLen = payloadLen
	buf := make([]byte, int(HeaderLen)+len(f.Payload))
	copy(buf, EncodeHeader(h))
	copy(buf[HeaderLen:], f.Payload)
	return buf, nil
}

// Unmarshal decodes a complete frame held in b.
func Unmarshal(b []byte) (Frame, error) {
	if len(b) < int(HeaderLen) {
		return Frame{}, ErrShortHeader
	}
	h, err := DecodeHeader(b[:HeaderLen])
	if err != nil {
		return Frame{}, err
	}
	rest := b[HeaderLen:]
	if uint64(len(rest)) != h.PayloadLen {
		return Frame{}, fmt.Errorf("%w: header says %d, have %d", ErrShortPayload, h.PayloadLen, len(rest))
	}
	payload := make([]byte, len(rest))
	copy(payload, rest)
	return Frame{Header: h, Payload: payload}, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	buf[6] = h.Kind
	buf[7] = h.Flags
	binary.BigEndian.PutUint64(buf[8:16], h.Sequence)
	binary.BigEndian.PutUint64(buf[16:24], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(HeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		Kind:       b[6],
		Flags:      b[7],
		Sequence:   binary.BigEndian.Uint64(b[8:16]),
		PayloadLen: binary.BigEndian.Uint64(b[16:24]),
	}, nil
}

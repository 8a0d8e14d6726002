package protocol

import "fmt"

// Kind classifies a message. Only the three declared values are valid; any
// other wire value is rejected at decode time.
type Kind uint8

const (
	KindInvocation Kind = 1
	KindOneway     Kind = 2
	KindReply      Kind = 3
)

func (k Kind) Valid() bool {
	switch k {
	case KindInvocation, KindOneway, KindReply:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	switch k {
	case KindInvocation:
		return "invocation"
	case KindOneway:
		return "oneway"
	case KindReply:
		return "reply"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is one decoded frame.
type Message struct {
	Kind     Kind
	Sequence uint64
	Payload  []byte
	// IsError marks a reply whose payload is an error string from the peer.
	IsError bool
}

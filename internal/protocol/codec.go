package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

var ErrMalformedFrame = errors.New("malformed frame")

// TokenChecker reports whether a buffer is a serialized discovery token.
// The ranging engine provides it.
type TokenChecker interface {
	CheckToken(data []byte) error
}

type TokenCheckerFunc func(data []byte) error

func (f TokenCheckerFunc) CheckToken(data []byte) error { return f(data) }

type Codec struct {
	tokens TokenChecker
}

func NewCodec(tokens TokenChecker) *Codec {
	return &Codec{tokens: tokens}
}

func EncodeText(message string) []byte {
	buf := make([]byte, 0, len(TextPrefix)+len(message))
	buf = append(buf, TextPrefix...)
	return append(buf, message...)
}

func EncodeAck(senderID string) []byte {
	buf := make([]byte, 0, len(AckPrefix)+len(senderID))
	buf = append(buf, AckPrefix...)
	return append(buf, senderID...)
}

func EncodeToken(token []byte) []byte {
	return bytes.Clone(token)
}

func (c *Codec) Encode(w io.Writer, f Frame) error {
	data, err := c.EncodeToBytes(f)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (c *Codec) EncodeToBytes(f Frame) ([]byte, error) {
	switch m := f.(type) {
	case Text:
		return EncodeText(m.Message), nil
	case *Text:
		return EncodeText(m.Message), nil
	case Ack:
		return EncodeAck(m.SenderID), nil
	case *Ack:
		return EncodeAck(m.SenderID), nil
	case TokenShare:
		return EncodeToken(m.Token), nil
	case *TokenShare:
		return EncodeToken(m.Token), nil
	default:
		return nil, fmt.Errorf("unsupported frame %T", f)
	}
}

// DecodeFromBytes classifies a received datagram. Text is tried first, then
// Ack, then the engine's token format; anything else is ErrMalformedFrame.
func (c *Codec) DecodeFromBytes(data []byte) (Frame, error) {
	if msg, ok := bytes.CutPrefix(data, []byte(TextPrefix)); ok {
		return Text{Message: string(msg)}, nil
	}
	if sender, ok := bytes.CutPrefix(data, []byte(AckPrefix)); ok {
		return Ack{SenderID: string(sender)}, nil
	}

	if len(data) == 0 || c.tokens == nil {
		return nil, ErrMalformedFrame
	}
	if err := c.tokens.CheckToken(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return TokenShare{Token: bytes.Clone(data)}, nil
}

func (c *Codec) Decode(r io.Reader) (Frame, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return c.DecodeFromBytes(data)
}

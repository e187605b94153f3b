package protocol

import (
	"bytes"
	"errors"
	"testing"
)

var errNotToken = errors.New("not a token")

func testCodec() *Codec {
	return NewCodec(TokenCheckerFunc(func(data []byte) error {
		if len(data) < 4 || data[0] != 0x0a {
			return errNotToken
		}
		return nil
	}))
}

func TestCodecTextRoundTrip(t *testing.T) {
	codec := testCodec()

	messages := []string{
		"hello",
		"",
		"MSG:",
		"ACK:",
		"before MSG: after",
		"some ACK:ABCD inside",
		"MSG:ACK:MSG:",
		"안녕하세요",
	}

	for _, m := range messages {
		decoded, err := codec.DecodeFromBytes(EncodeText(m))
		if err != nil {
			t.Fatalf("Decode text %q failed: %v", m, err)
		}

		text, ok := decoded.(Text)
		if !ok {
			t.Fatalf("Expected Text for %q, got %T", m, decoded)
		}
		if text.Message != m {
			t.Errorf("Expected %q, got %q", m, text.Message)
		}
	}
}

func TestCodecAckRoundTrip(t *testing.T) {
	codec := testCodec()

	for _, sender := range []string{"A1B2", "", "MSG:X"} {
		decoded, err := codec.DecodeFromBytes(EncodeAck(sender))
		if err != nil {
			t.Fatalf("Decode ack %q failed: %v", sender, err)
		}

		ack, ok := decoded.(Ack)
		if !ok {
			t.Fatalf("Expected Ack for %q, got %T", sender, decoded)
		}
		if ack.SenderID != sender {
			t.Errorf("Expected sender %q, got %q", sender, ack.SenderID)
		}
	}
}

func TestCodecTokenPassthrough(t *testing.T) {
	codec := testCodec()
	token := []byte{0x0a, 0x03, 'a', 'b', 'c', 0x10, 0x01}

	encoded := EncodeToken(token)
	if !bytes.Equal(encoded, token) {
		t.Fatalf("EncodeToken modified the token: %x", encoded)
	}

	decoded, err := codec.DecodeFromBytes(encoded)
	if err != nil {
		t.Fatalf("Decode token failed: %v", err)
	}

	share, ok := decoded.(TokenShare)
	if !ok {
		t.Fatalf("Expected TokenShare, got %T", decoded)
	}
	if !bytes.Equal(share.Token, token) {
		t.Errorf("Token mismatch: %x", share.Token)
	}

	encoded[2] = 'z'
	if share.Token[2] != 'a' {
		t.Error("decoded token aliases the input buffer")
	}
}

func TestCodecMalformed(t *testing.T) {
	codec := testCodec()

	inputs := [][]byte{
		nil,
		[]byte("xyz"),
		[]byte("MS"),
		[]byte("ack:lowercase"),
		{0x0a, 0x01},
	}

	for _, in := range inputs {
		frame, err := codec.DecodeFromBytes(in)
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("Expected ErrMalformedFrame for %q, got frame=%v err=%v", in, frame, err)
		}
	}
}

func TestCodecWithoutTokenChecker(t *testing.T) {
	codec := NewCodec(nil)

	if _, err := codec.DecodeFromBytes([]byte{0x0a, 0x03, 'a', 'b', 'c'}); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Expected ErrMalformedFrame, got %v", err)
	}
	if _, err := codec.DecodeFromBytes(EncodeText("still works")); err != nil {
		t.Errorf("Text decode failed: %v", err)
	}
}

func TestCodecEncodeFrames(t *testing.T) {
	codec := testCodec()
	var buf bytes.Buffer

	if err := codec.Encode(&buf, &Text{Message: "hi"}); err != nil {
		t.Fatalf("Encode Text failed: %v", err)
	}

	decoded, err := codec.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Kind() != KindText {
		t.Errorf("Expected TEXT, got %s", decoded.Kind())
	}

	data, err := codec.EncodeToBytes(Ack{SenderID: "QW12"})
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}
	if string(data) != "ACK:QW12" {
		t.Errorf("Expected ACK:QW12, got %q", data)
	}
}

func TestFrameKindString(t *testing.T) {
	tests := map[FrameKind]string{
		KindTokenShare:  "TOKEN_SHARE",
		KindText:        "TEXT",
		KindAck:         "ACK",
		FrameKind(0x7f): "UNKNOWN",
	}

	for kind, want := range tests {
		if got := kind.String(); got != want {
			t.Errorf("FrameKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

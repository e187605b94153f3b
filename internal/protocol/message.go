package protocol

// Frame is one application message carried in a single transport datagram.
type Frame interface {
	Kind() FrameKind
}

// TokenShare carries the sender's ranging discovery token, serialized by the
// ranging engine. The codec never looks inside it.
type TokenShare struct {
	Token []byte
}

func (TokenShare) Kind() FrameKind { return KindTokenShare }

type Text struct {
	Message string
}

func (Text) Kind() FrameKind { return KindText }

// Ack confirms receipt of a Text frame. SenderID is the identity of the
// device sending the acknowledgment.
type Ack struct {
	SenderID string
}

func (Ack) Kind() FrameKind { return KindAck }

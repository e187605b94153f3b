package protocol

const (
	TextPrefix = "MSG:"
	AckPrefix  = "ACK:"
)

type FrameKind uint8

const (
	KindTokenShare FrameKind = 0x01
	KindText       FrameKind = 0x02
	KindAck        FrameKind = 0x03
)

func (k FrameKind) String() string {
	switch k {
	case KindTokenShare:
		return "TOKEN_SHARE"
	case KindText:
		return "TEXT"
	case KindAck:
		return "ACK"
	default:
		return "UNKNOWN"
	}
}

package ranging

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldSessionID protowire.Number = 1
	fieldDeviceID  protowire.Number = 2
	fieldIssuedAt  protowire.Number = 3
)

// DiscoveryToken identifies one ranging session of one device. On the wire
// it is a protobuf message:
//
//	message DiscoveryToken {
//	  string session_id = 1; // uuid
//	  string device_id  = 2;
//	  int64  issued_at  = 3; // unix nanos
//	}
type DiscoveryToken struct {
	SessionID uuid.UUID
	DeviceID  string
	IssuedAt  time.Time
}

func NewDiscoveryToken(deviceID string) DiscoveryToken {
	return DiscoveryToken{
		SessionID: uuid.New(),
		DeviceID:  deviceID,
		IssuedAt:  time.Now(),
	}
}

func (t DiscoveryToken) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSessionID, protowire.BytesType)
	b = protowire.AppendString(b, t.SessionID.String())
	b = protowire.AppendTag(b, fieldDeviceID, protowire.BytesType)
	b = protowire.AppendString(b, t.DeviceID)
	b = protowire.AppendTag(b, fieldIssuedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.IssuedAt.UnixNano()))
	return b
}

func UnmarshalDiscoveryToken(data []byte) (DiscoveryToken, error) {
	var (
		tok        DiscoveryToken
		sawSession bool
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return DiscoveryToken{}, fmt.Errorf("%w: %v", ErrInvalidToken, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldSessionID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return DiscoveryToken{}, fmt.Errorf("%w: %v", ErrInvalidToken, protowire.ParseError(n))
			}
			id, err := uuid.Parse(v)
			if err != nil {
				return DiscoveryToken{}, fmt.Errorf("%w: session id: %v", ErrInvalidToken, err)
			}
			tok.SessionID = id
			sawSession = true
			data = data[n:]
		case num == fieldDeviceID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return DiscoveryToken{}, fmt.Errorf("%w: %v", ErrInvalidToken, protowire.ParseError(n))
			}
			tok.DeviceID = v
			data = data[n:]
		case num == fieldIssuedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return DiscoveryToken{}, fmt.Errorf("%w: %v", ErrInvalidToken, protowire.ParseError(n))
			}
			tok.IssuedAt = time.Unix(0, int64(v))
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return DiscoveryToken{}, fmt.Errorf("%w: %v", ErrInvalidToken, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if !sawSession {
		return DiscoveryToken{}, fmt.Errorf("%w: missing session id", ErrInvalidToken)
	}
	return tok, nil
}

// CheckToken is the protocol.TokenChecker for DiscoveryToken buffers.
func CheckToken(data []byte) error {
	_, err := UnmarshalDiscoveryToken(data)
	return err
}

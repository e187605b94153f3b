package sim

import (
	"bytes"

	"github.com/rudransh-shrivastava/halozone/internal/queue"
	"github.com/rudransh-shrivastava/halozone/internal/ranging"
)

type Engine struct {
	space    *Space
	deviceID string
}

var _ ranging.Engine = (*Engine)(nil)

func (e *Engine) NewSession() (ranging.Session, error) {
	tok := ranging.NewDiscoveryToken(e.deviceID)
	sess := &session{
		space:  e.space,
		token:  tok,
		raw:    tok.Marshal(),
		events: queue.New[ranging.Event](),
	}
	e.space.register(sess)
	return sess, nil
}

func (e *Engine) CheckToken(data []byte) error {
	return ranging.CheckToken(data)
}

// session fields other than space, token, raw and events are guarded by
// space.mu.
type session struct {
	space  *Space
	token  ranging.DiscoveryToken
	raw    []byte
	events *queue.Queue[ranging.Event]

	peer     *ranging.DiscoveryToken
	peerRaw  []byte
	ranged   bool
	timedOut bool
}

func (s *session) LocalToken() []byte {
	return bytes.Clone(s.raw)
}

func (s *session) Run(peerToken []byte) error {
	peer, err := ranging.UnmarshalDiscoveryToken(peerToken)
	if err != nil {
		return err
	}
	return s.space.configure(s, peer, peerToken)
}

func (s *session) Invalidate() {
	s.space.unregister(s)
	s.events.Close()
}

func (s *session) Events() <-chan ranging.Event {
	return s.events.Out()
}

package coordinator

type snapshot struct {
	peers   []Peer
	blocked []string
}

// Peers returns the directory as of the last processed event, in connection
// order.
func (c *Coordinator) Peers() []Peer {
	snap := c.current.Load()
	peers := make([]Peer, len(snap.peers))
	copy(peers, snap.peers)
	return peers
}

func (c *Coordinator) Blocked() []string {
	snap := c.current.Load()
	ids := make([]string, len(snap.blocked))
	copy(ids, snap.blocked)
	return ids
}

// Subscribe returns a channel that always holds the latest directory. Slow
// readers skip intermediate snapshots. The channel closes when Run returns or
// cancel is called.
func (c *Coordinator) Subscribe() (<-chan []Peer, func()) {
	ch := make(chan []Peer, 1)
	ch <- c.Peers()

	c.subMu.Lock()
	select {
	case <-c.stopped:
		c.subMu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (c *Coordinator) publish() {
	snap := &snapshot{peers: c.dir.snapshot(), blocked: c.blockedList()}
	c.current.Store(snap)

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		peers := make([]Peer, len(snap.peers))
		copy(peers, snap.peers)
		ch <- peers
	}
}

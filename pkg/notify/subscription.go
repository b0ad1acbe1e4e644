package notify

import "sync"

const subscriptionBuffer = 16

// Subscription receives invalidations for a set of topics. Invalidations are
// idempotent, so a full buffer drops rather than blocking the reader.
type Subscription struct {
	C <-chan Invalidation

	ch     chan Invalidation
	topics map[string]struct{}
	owner  *Channel
	once   sync.Once
}

// Subscribe registers for the given topics, or every topic when none are
// named.
func (c *Channel) Subscribe(topics ...string) *Subscription {
	ch := make(chan Invalidation, subscriptionBuffer)
	s := &Subscription{C: ch, ch: ch, owner: c}
	if len(topics) > 0 {
		s.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			s.topics[t] = struct{}{}
		}
	}

	c.subMu.Lock()
	c.subs[s] = struct{}{}
	c.subMu.Unlock()
	return s
}

// Unsubscribe detaches the subscription and closes C.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.owner.subMu.Lock()
		delete(s.owner.subs, s)
		s.owner.subMu.Unlock()
		close(s.ch)
	})
}

// dropSubscribers closes every subscription so readers stop waiting on a
// channel that will never publish again.
func (c *Channel) dropSubscribers() {
	c.subMu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.subMu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

func (s *Subscription) wants(topic string) bool {
	if s.topics == nil {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

func (c *Channel) publish(inv Invalidation) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for s := range c.subs {
		if !s.wants(inv.Topic) {
			continue
		}
		select {
		case s.ch <- inv:
		default:
			c.logger.Debug().Str("topic", inv.Topic).Msg("subscriber busy, invalidation coalesced")
		}
	}
}

package ticketing

import (
	"sync"
)

// conversationLocks serializes state-machine mutations per conversation
// key (tenant + contact). Workers race on redelivered or bursty provider
// events; holding the conversation lock guarantees at most one in-flight
// ticket mutation per conversation within this process.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*conversationLock
}

type conversationLock struct {
	mu   sync.Mutex
	refs int
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[string]*conversationLock)}
}

// acquire blocks until the key's lock is held. The returned release
// function must be called exactly once.
func (c *conversationLocks) acquire(key string) (release func()) {
	c.mu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &conversationLock{}
		c.locks[key] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, key)
		}
		c.mu.Unlock()
	}
}

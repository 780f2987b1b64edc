package session

import (
	"sync"

	"github.com/nao1215/onionfetch/internal/feed"
)

// Subscription delivers bootstrap statuses to one consumer.
type Subscription struct {
	manager *Manager
	queue   *feed.Queue[BootstrapStatus]
	once    sync.Once
}

// C returns the status channel. It is closed when bootstrap completes, the
// Manager is closed, or the subscription is closed.
func (s *Subscription) C() <-chan BootstrapStatus {
	return s.queue.C()
}

// Close unsubscribes and discards undelivered statuses.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.manager.unsubscribe(s)
		s.queue.Stop()
	})
}

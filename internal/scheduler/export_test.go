package scheduler

import (
	"context"
	"time"
)

// FireDaily runs the registered daily job the way cron does, through its
// wrapper chain.
func (s *Scheduler) FireDaily() {
	s.mu.Lock()
	id := s.entryID
	s.mu.Unlock()
	s.cron.Entry(id).WrappedJob.Run()
}

// SetWait replaces the pause between tenants.
func (s *Scheduler) SetWait(fn func(context.Context, time.Duration) error) {
	s.wait = fn
}

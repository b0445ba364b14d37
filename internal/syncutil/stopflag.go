package syncutil

import (
	"sync"
	"sync/atomic"
)

// StopFlag is the single cooperative shutdown gate shared by all workers.
// The signal handler or any worker that hits a fatal error raises it;
// every worker loop polls it.
type StopFlag struct {
	stopped atomic.Bool
	once    sync.Once
	done    chan struct{}
	initMu  sync.Mutex
}

// Stop requests shutdown. Safe to call from any goroutine, repeatedly.
func (f *StopFlag) Stop() {
	f.stopped.Store(true)
	f.ensureDone()
	f.once.Do(func() { close(f.done) })
}

// Stopped reports whether shutdown was requested.
func (f *StopFlag) Stopped() bool {
	return f.stopped.Load()
}

// Done returns a channel closed once shutdown is requested, for use in
// select statements.
func (f *StopFlag) Done() <-chan struct{} {
	f.ensureDone()
	return f.done
}

func (f *StopFlag) ensureDone() {
	f.initMu.Lock()
	if f.done == nil {
		f.done = make(chan struct{})
	}
	f.initMu.Unlock()
}

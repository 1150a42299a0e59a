package services

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// watcherSet tracks one cancellable background goroutine per key. Cancel
// waits for the goroutine to finish so that a slot is never handed back to
// the scheduler while a stale timer could still fire against it.
type watcherSet struct {
	mu     sync.Mutex
	active map[string]*watcher
}

type watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func newWatcherSet() *watcherSet {
	return &watcherSet{active: make(map[string]*watcher)}
}

func slotKey(slotID uint) string {
	return strconv.FormatUint(uint64(slotID), 10)
}

// start launches run under a fresh context. With replace set, a pending
// watcher for the same key is canceled and awaited first; otherwise an
// existing watcher wins and start reports false.
func (s *watcherSet) start(key string, replace bool, run func(ctx context.Context)) bool {
	s.mu.Lock()
	if existing, ok := s.active[key]; ok {
		if !replace {
			s.mu.Unlock()
			return false
		}
		s.mu.Unlock()
		existing.cancel()
		<-existing.done
		s.mu.Lock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{cancel: cancel, done: make(chan struct{})}
	s.active[key] = w
	s.mu.Unlock()

	go func() {
		defer func() {
			close(w.done)
			s.mu.Lock()
			if s.active[key] == w {
				delete(s.active, key)
			}
			s.mu.Unlock()
		}()
		run(ctx)
	}()
	return true
}

// cancel stops the watcher for key and waits for it to exit. No-op when
// nothing is pending.
func (s *watcherSet) cancel(key string) {
	s.mu.Lock()
	w, ok := s.active[key]
	s.mu.Unlock()
	if !ok {
		return
	}
	w.cancel()
	<-w.done
}

// shutdown cancels every watcher and waits for all of them.
func (s *watcherSet) shutdown() {
	s.mu.Lock()
	ws := make([]*watcher, 0, len(s.active))
	for _, w := range s.active {
		ws = append(ws, w)
	}
	s.mu.Unlock()

	for _, w := range ws {
		w.cancel()
		<-w.done
	}
}

// sleepCtx waits for d or until ctx is canceled, reporting whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

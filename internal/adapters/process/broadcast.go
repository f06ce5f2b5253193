package process

import (
	"sync"
	"sync/atomic"
)

// LineFunc observes one line of child output.
type LineFunc func(line string)

type subscriber struct {
	id int
	fn LineFunc
}

// lineBroadcaster fans every published line out to all current
// subscribers, in publication order. Once closed it starts no new callbacks.
type lineBroadcaster struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscriber
	closed atomic.Bool
}

func (b *lineBroadcaster) subscribe(fn LineFunc) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

func (b *lineBroadcaster) publish(line string) {
	if b.closed.Load() {
		return
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if b.closed.Load() {
			return
		}
		s.fn(line)
	}
}

func (b *lineBroadcaster) close() {
	b.closed.Store(true)
}

// Tail keeps the most recent lines of a stream, for error reports.
type Tail struct {
	mu    sync.Mutex
	size  int
	lines []string
}

func NewTail(size int) *Tail {
	if size < 1 {
		size = 1
	}
	return &Tail{size: size}
}

// Add records a line. It satisfies LineFunc.
func (t *Tail) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == t.size {
		copy(t.lines, t.lines[1:])
		t.lines = t.lines[:t.size-1]
	}
	t.lines = append(t.lines, line)
}

// Lines returns a copy of the retained lines, oldest first.
func (t *Tail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}

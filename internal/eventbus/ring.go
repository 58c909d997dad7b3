package eventbus

import (
	"sync"

	"github.com/Chunkys0up7/Atoms-sub002/model"
)

// ring is a fixed-capacity buffer of the most recent events. When full, the
// oldest entry is overwritten.
type ring struct {
	mu    sync.Mutex
	buf   []model.ProcessEvent
	next  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]model.ProcessEvent, capacity)}
}

func (r *ring) add(e model.ProcessEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// snapshot returns the buffered events, oldest first.
func (r *ring) snapshot() []model.ProcessEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]model.ProcessEvent, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		result = append(result, r.buf[(start+i)%len(r.buf)])
	}
	return result
}

package voice

import "sync"

// Interrupt is the per-session stop signal.
//
// Each Set starts a new epoch. A turn records the epoch it started in and
// stops once the epoch moves on, so an interrupt only reaches the turn in
// flight when it arrives. Utterances still queued behind that turn start
// clear.
type Interrupt struct {
	mu    sync.Mutex
	epoch uint64
	done  chan struct{}
}

// NewInterrupt returns an Interrupt in epoch zero.
func NewInterrupt() *Interrupt {
	return &Interrupt{done: make(chan struct{})}
}

// Set interrupts the turn in flight.
func (i *Interrupt) Set() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.epoch++
	close(i.done)
	i.done = make(chan struct{})
}

// Watch returns the current epoch and a channel closed by the next Set.
func (i *Interrupt) Watch() (uint64, <-chan struct{}) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.epoch, i.done
}

// Since reports whether an interrupt arrived after epoch.
func (i *Interrupt) Since(epoch uint64) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.epoch != epoch
}

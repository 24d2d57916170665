// Package semaphore bounds how many connections may sit in a pre-routing
// state (such as protocol sniffing) at once.
package semaphore

// Semaphore is a counting semaphore backed by a buffered channel. A nil
// *Semaphore never blocks.
type Semaphore struct {
	slots chan struct{}
}

// New creates a semaphore with n free slots.
func New(n int) *Semaphore {
	if n < 1 {
		n = 1
	}
	return &Semaphore{slots: make(chan struct{}, n)}
}

// TryAcquire takes a slot if one is free.
func (s *Semaphore) TryAcquire() bool {
	if s == nil {
		return true
	}

	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot taken by TryAcquire.
func (s *Semaphore) Release() {
	if s == nil {
		return
	}
	<-s.slots
}

// InUse returns the number of taken slots.
func (s *Semaphore) InUse() int {
	if s == nil {
		return 0
	}
	return len(s.slots)
}

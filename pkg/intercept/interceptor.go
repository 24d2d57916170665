// Package intercept lets middleware look at inbound UDP datagrams before the
// game server's receive path does, and optionally consume them and reply.
//
// Receive and send happen on network goroutines. Observers must not touch
// tick-owned state directly; hand work to the tick goroutine through a
// dispatch queue instead.
package intercept

import (
	"errors"
	"fmt"
	"sync"

	"dominicbreuker/gamenet/pkg/log"
	"dominicbreuker/gamenet/pkg/peer"
)

// ErrSendWithoutCallback is returned by Send before SetSendCallback was called.
var ErrSendWithoutCallback = errors.New("send without transport callback")

// Event is one inbound datagram as seen by observers. Data must be treated
// as read-only and must not be retained after the observer returns.
type Event struct {
	From peer.Address
	Data []byte

	// Local is the bound socket the datagram arrived on. It is the zero
	// Address when the receive path does not know it.
	Local peer.Address

	// Intercepted is set by an observer that fully handled the datagram.
	Intercepted bool
}

// Observer inspects a datagram. Setting ev.Intercepted skips the normal
// receive path; later observers still run.
type Observer func(ev *Event)

// SendFunc writes one datagram to the wire. via names the local socket to
// send from; the zero Address lets the transport pick one.
type SendFunc func(via, to peer.Address, data []byte) error

// Handle identifies an attached observer.
type Handle uint64

type entry struct {
	h  Handle
	fn Observer
}

// Interceptor holds the ordered observer list and the transport callback.
type Interceptor struct {
	logger *log.Logger

	mu        sync.RWMutex
	observers []entry // copy on write
	next      Handle
	send      SendFunc
}

// New ...
func New(logger *log.Logger) *Interceptor {
	return &Interceptor{logger: logger}
}

// Attach appends an observer. Observers run in attach order.
func (i *Interceptor) Attach(fn Observer) Handle {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.next++
	obs := make([]entry, len(i.observers), len(i.observers)+1)
	copy(obs, i.observers)
	i.observers = append(obs, entry{h: i.next, fn: fn})
	return i.next
}

// Remove detaches an observer. It reports whether h was attached.
func (i *Interceptor) Remove(h Handle) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	for idx, e := range i.observers {
		if e.h != h {
			continue
		}
		obs := make([]entry, 0, len(i.observers)-1)
		obs = append(obs, i.observers[:idx]...)
		i.observers = append(obs, i.observers[idx+1:]...)
		return true
	}
	return false
}

// Len returns the number of attached observers.
func (i *Interceptor) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.observers)
}

// Intercept runs every observer on the datagram and reports whether any of
// them intercepted it. A panicking observer is logged and skipped.
func (i *Interceptor) Intercept(from peer.Address, data []byte) bool {
	return i.InterceptAt(peer.Address{}, from, data)
}

// InterceptAt is Intercept for a datagram received on the socket bound to
// local. Replies sent with Reply leave through that socket.
func (i *Interceptor) InterceptAt(local, from peer.Address, data []byte) bool {
	i.mu.RLock()
	obs := i.observers
	i.mu.RUnlock()

	ev := &Event{From: from, Data: data, Local: local}
	intercepted := false
	for _, e := range obs {
		// an observer only ever adds to the verdict, it cannot clear an
		// earlier observer's intercept
		ev.Intercepted = intercepted
		i.invoke(e, ev)
		intercepted = intercepted || ev.Intercepted
	}
	ev.Intercepted = intercepted
	return intercepted
}

func (i *Interceptor) invoke(e entry, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.ErrorMsg("intercept observer %d panicked on datagram from %s: %v", e.h, ev.From, r)
		}
	}()
	e.fn(ev)
}

// SetSendCallback sets the transport send function. The last call wins.
func (i *Interceptor) SetSendCallback(fn SendFunc) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.send = fn
}

// Send writes a datagram through the transport callback, which picks the
// local socket.
func (i *Interceptor) Send(to peer.Address, data []byte) error {
	return i.sendVia(peer.Address{}, to, data)
}

// Reply answers ev from the socket it arrived on.
func (i *Interceptor) Reply(ev *Event, data []byte) error {
	return i.sendVia(ev.Local, ev.From, data)
}

func (i *Interceptor) sendVia(via, to peer.Address, data []byte) error {
	i.mu.RLock()
	send := i.send
	i.mu.RUnlock()

	if send == nil {
		return fmt.Errorf("send to %s: %w", to, ErrSendWithoutCallback)
	}
	return send(via, to, data)
}

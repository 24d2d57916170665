package intercept

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dominicbreuker/gamenet/pkg/log"
	"dominicbreuker/gamenet/pkg/peer"
)

var client = peer.MustParse("10.0.0.7:50000")

func TestIntercept_AllObserversRun(t *testing.T) {
	t.Parallel()

	i := New(nil)

	var order []string
	i.Attach(func(ev *Event) {
		order = append(order, "first")
		ev.Intercepted = true
	})
	i.Attach(func(ev *Event) {
		order = append(order, "second")
		if !ev.Intercepted {
			t.Error("second observer did not see the intercepted flag")
		}
	})

	if got := i.Intercept(client, []byte("hello")); !got {
		t.Error("Intercept() = false, want true")
	}
	if strings.Join(order, ",") != "first,second" {
		t.Errorf("observer order = %v, want [first second]", order)
	}
}

func TestIntercept_LaterObserverCannotClear(t *testing.T) {
	t.Parallel()

	i := New(nil)
	i.Attach(func(ev *Event) { ev.Intercepted = true })
	i.Attach(func(ev *Event) { ev.Intercepted = false })

	if !i.Intercept(client, []byte("x")) {
		t.Error("Intercept() = false after the first observer intercepted")
	}
}

func TestIntercept_NoObservers(t *testing.T) {
	t.Parallel()

	if New(nil).Intercept(client, []byte("x")) {
		t.Error("Intercept() with no observers = true, want false")
	}
}

func TestIntercept_DataUnchanged(t *testing.T) {
	t.Parallel()

	i := New(nil)
	var seen []byte
	i.Attach(func(ev *Event) {
		seen = append([]byte{}, ev.Data...)
		if !ev.From.Equal(client) {
			t.Errorf("ev.From = %v, want %v", ev.From, client)
		}
	})

	data := []byte{1, 2, 3}
	i.Intercept(client, data)
	if !bytes.Equal(seen, []byte{1, 2, 3}) || !bytes.Equal(data, []byte{1, 2, 3}) {
		t.Errorf("seen = %v, data = %v", seen, data)
	}
}

func TestIntercept_RemoveByHandle(t *testing.T) {
	t.Parallel()

	i := New(nil)
	calls := 0
	h1 := i.Attach(func(ev *Event) { calls++ })
	h2 := i.Attach(func(ev *Event) { calls += 10 })

	if !i.Remove(h1) {
		t.Fatal("Remove(h1) = false")
	}
	if i.Remove(h1) {
		t.Error("second Remove(h1) = true, want false")
	}

	i.Intercept(client, nil)
	if calls != 10 {
		t.Errorf("calls = %d, want 10", calls)
	}

	i.Remove(h2)
	if i.Len() != 0 {
		t.Errorf("Len() = %d, want 0", i.Len())
	}
}

func TestIntercept_PanickingObserverIsIsolated(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	i := New(log.NewLoggerTo(&buf, false))

	i.Attach(func(ev *Event) { panic("boom") })
	ran := false
	i.Attach(func(ev *Event) {
		ran = true
		ev.Intercepted = true
	})

	if !i.Intercept(client, []byte("x")) {
		t.Error("Intercept() = false, want true")
	}
	if !ran {
		t.Error("observer after the panicking one did not run")
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("log = %q, want panic logged", buf.String())
	}
}

func TestSend_WithoutCallback(t *testing.T) {
	t.Parallel()

	err := New(nil).Send(client, []byte("x"))
	if !errors.Is(err, ErrSendWithoutCallback) {
		t.Errorf("Send() error = %v, want ErrSendWithoutCallback", err)
	}
}

func TestSend_LastCallbackWins(t *testing.T) {
	t.Parallel()

	i := New(nil)
	var got []string
	i.SetSendCallback(func(via, to peer.Address, data []byte) error {
		got = append(got, "old")
		return nil
	})
	i.SetSendCallback(func(via, to peer.Address, data []byte) error {
		got = append(got, "new:"+to.String()+":"+string(data))
		return nil
	})

	if err := i.Send(client, []byte("pong")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(got) != 1 || got[0] != "new:10.0.0.7:50000:pong" {
		t.Errorf("callbacks = %v", got)
	}
}

func TestReply_UsesReceivingSocket(t *testing.T) {
	t.Parallel()

	i := New(nil)
	var gotVia peer.Address
	i.SetSendCallback(func(via, to peer.Address, data []byte) error {
		gotVia = via
		return nil
	})

	local := peer.MustParse("[::1]:27960")
	if err := i.Reply(&Event{From: client, Local: local}, []byte("x")); err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if !gotVia.Equal(local) {
		t.Errorf("via = %s, want %s", gotVia, local)
	}

	if err := i.Send(client, []byte("x")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !gotVia.IsZero() {
		t.Errorf("Send() via = %s, want zero address", gotVia)
	}
}

func TestIntercept_ConcurrentAttach(t *testing.T) {
	t.Parallel()

	i := New(nil)
	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h := i.Attach(func(ev *Event) {})
			i.Remove(h)
		}()
		go func() {
			defer wg.Done()
			i.Intercept(client, []byte("x"))
		}()
	}
	wg.Wait()
}

func TestFloodGuard(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	g := NewFloodGuard(1, 3)
	g.now = func() time.Time { return now }

	other := peer.MustParse("10.0.0.8:50000")

	for n := 0; n < 3; n++ {
		ev := &Event{From: client}
		g.Observe(ev)
		if ev.Intercepted {
			t.Fatalf("datagram %d intercepted inside burst", n)
		}
	}

	ev := &Event{From: client}
	g.Observe(ev)
	if !ev.Intercepted {
		t.Error("datagram over burst not intercepted")
	}

	ev = &Event{From: other}
	g.Observe(ev)
	if ev.Intercepted {
		t.Error("other peer limited by first peer's budget")
	}

	now = now.Add(time.Second)
	ev = &Event{From: client}
	g.Observe(ev)
	if ev.Intercepted {
		t.Error("datagram intercepted after refill")
	}

	if g.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", g.Dropped())
	}
}

func TestInfoResponder(t *testing.T) {
	t.Parallel()

	i := New(nil)
	local := peer.MustParse("127.0.0.2:30120")
	var replies [][]byte
	i.SetSendCallback(func(via, to peer.Address, data []byte) error {
		if !via.Equal(local) || !to.Equal(client) {
			t.Errorf("reply via %s to %s, want via %s to %s", via, to, local, client)
		}
		replies = append(replies, data)
		return nil
	})

	r := NewInfoResponder(i, nil, func() map[string]string {
		return map[string]string{"hostname": "test\\server", "clients": "2"}
	})
	i.Attach(r.Observe)

	query := append(append([]byte{}, OOBPrefix...), "getinfo abc123"...)
	if !i.InterceptAt(local, client, query) {
		t.Fatal("getinfo not intercepted")
	}
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(replies))
	}
	want := "\xff\xff\xff\xffinfoResponse\n\\clients\\2\\hostname\\testserver\\challenge\\abc123"
	if string(replies[0]) != want {
		t.Errorf("reply = %q, want %q", replies[0], want)
	}

	other := append(append([]byte{}, OOBPrefix...), "rcon status"...)
	if !i.InterceptAt(local, client, other) {
		t.Error("unknown OOB command not intercepted")
	}
	if len(replies) != 1 {
		t.Errorf("unknown OOB command produced a reply")
	}

	if i.Intercept(client, []byte("regular game packet")) {
		t.Error("regular datagram intercepted")
	}
}

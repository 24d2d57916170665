// Package helpers provides common utilities for integration and end-to-end tests.
package helpers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	mocks_tcp "dominicbreuker/gamenet/mocks/tcp"
	"dominicbreuker/gamenet/pkg/config"
	"dominicbreuker/gamenet/pkg/instance"
)

// TCPAddr is where test instances bind their multiplexed TCP endpoint on the
// mock network.
const TCPAddr = "127.0.0.1:30120"

// Setup holds a running instance and the mocked network it listens on.
type Setup struct {
	TCPNetwork *mocks_tcp.MockTCPNetwork
	Config     *config.Config
	Instance   *instance.Instance
}

// NewConfig returns a config with one mock TCP endpoint and one real
// loopback UDP endpoint.
func NewConfig(mockNet *mocks_tcp.MockTCPNetwork) *config.Config {
	cfg := config.Default()
	cfg.Listen.TCPEndpoints = []string{TCPAddr}
	cfg.Listen.UDPEndpoints = []string{"127.0.0.1:0"}
	cfg.Tick.FPS = 100
	cfg.UDP.Hostname = "integration"
	cfg.Deps = &config.Dependencies{TCPListener: mockNet.ListenTCP}
	return cfg
}

// StartInstance builds an instance from NewConfig, applies mutate, starts it
// and runs its tick loop until the test ends.
func StartInstance(t *testing.T, mutate func(*config.Config), opts ...instance.Option) *Setup {
	t.Helper()

	mockNet := mocks_tcp.NewMockTCPNetwork()
	cfg := NewConfig(mockNet)
	if mutate != nil {
		mutate(cfg)
	}

	inst, err := instance.New(cfg, nil, opts...)
	if err != nil {
		t.Fatalf("instance.New() error = %v", err)
	}
	if err := inst.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- inst.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
		_ = inst.Close()
	})

	return &Setup{TCPNetwork: mockNet, Config: cfg, Instance: inst}
}

// UDPAddr returns the bound address of the first UDP endpoint.
func (s *Setup) UDPAddr() string {
	for _, ep := range s.Instance.Endpoints().Endpoints() {
		if ep.UDP != "" {
			return ep.UDP
		}
	}
	return ""
}

// HTTPClient returns a client that dials through the mock network. It has
// no timeout since websocket dials reject one; use contexts instead.
func (s *Setup) HTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return s.TCPNetwork.Dial(addr)
			},
		},
	}
}

// WaitFor polls cond until it holds or the timeout (in milliseconds) elapses.
func WaitFor(t *testing.T, what string, timeoutMs int, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

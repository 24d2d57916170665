// Package instance wires one game server: listen manager, UDP interceptor,
// session hub and tick loop. Everything is owned by the Instance; nothing is
// registered globally, so several instances can run in one process.
package instance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"dominicbreuker/gamenet/pkg/config"
	"dominicbreuker/gamenet/pkg/dispatch"
	"dominicbreuker/gamenet/pkg/intercept"
	"dominicbreuker/gamenet/pkg/listen"
	"dominicbreuker/gamenet/pkg/log"
	"dominicbreuker/gamenet/pkg/metrics"
	"dominicbreuker/gamenet/pkg/multiplex"
	"dominicbreuker/gamenet/pkg/mux"
	"dominicbreuker/gamenet/pkg/session"
	"dominicbreuker/gamenet/pkg/tick"
	"dominicbreuker/gamenet/pkg/transport/ws"
)

// Transport names reported by sessions.
const (
	TransportKCP       = "kcp"
	TransportYamux     = "yamux"
	TransportWebsocket = "ws"
)

// TickFunc is a game-tick consumer. It runs on the tick goroutine after the
// hub delivered the frame's messages.
type TickFunc func()

// Instance is one running server.
type Instance struct {
	cfg    *config.Config
	logger *log.Logger

	metrics     *metrics.Metrics
	interceptor *intercept.Interceptor
	flood       *intercept.FloodGuard
	queue       *dispatch.Queue
	hub         *session.Hub
	manager     *listen.Manager
	loop        *tick.Loop

	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	mu          sync.Mutex
	consumers   []TickFunc
	lastDropped time.Duration // tick goroutine only
}

// Option customises an Instance.
type Option func(*options)

type options struct {
	handler session.MessageHandler
}

// WithMessageHandler replaces the default relay handler of the hub.
func WithMessageHandler(h session.MessageHandler) Option {
	return func(o *options) { o.handler = h }
}

// New validates cfg and builds an instance. Nothing is bound until Start.
func New(cfg *config.Config, logger *log.Logger, opts ...Option) (*Instance, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	i := &Instance{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics.New(),
		interceptor: intercept.New(logger),
		queue:       dispatch.New(cfg.Session.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}

	i.hub = session.NewHub(i.queue, session.Options{
		Handler:      o.handler,
		WriteTimeout: cfg.Session.WriteTimeout,
		Logger:       logger,
		Metrics:      i.metrics,
	})

	if cfg.UDP.FloodRate >= 0 {
		i.flood = intercept.NewFloodGuard(cfg.UDP.FloodRate, cfg.UDP.FloodBurst)
		i.interceptor.Attach(i.flood.Observe)
	}
	info := intercept.NewInfoResponder(i.interceptor, logger, i.serverInfo)
	i.interceptor.Attach(info.Observe)

	i.manager = listen.NewManager(listen.ManagerOptions{
		Logger:      logger,
		Metrics:     i.metrics,
		Deps:        cfg.Deps,
		Interceptor: i.interceptor,
		SessionHandler: func(conn net.Conn) error {
			return i.hub.Attach(conn, TransportKCP)
		},
		PeekSize:     cfg.Listen.PeekSize,
		SniffTimeout: cfg.Listen.SniffTimeout,
		MaxPending:   cfg.Listen.MaxPending,
	})
	i.interceptor.SetSendCallback(i.manager.SendUDPVia)
	i.manager.OnInitializeMultiplexServer(i.initMultiplexServer)

	loop, err := tick.WithProcessTick(cfg.Tick.FPS, i, tick.WithMaxCatchUp(cfg.Tick.MaxCatchUp))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("tick.WithProcessTick(%d): %w", cfg.Tick.FPS, err)
	}
	i.loop = loop

	return i, nil
}

// initMultiplexServer attaches the built-in routes and the raw yamux
// protocol to a new multiplex server.
func (i *Instance) initMultiplexServer(srv *multiplex.Server) error {
	router := srv.HTTP()
	if i.cfg.HTTP.Metrics {
		router.Handle("/metrics", i.metrics.Handler())
	}
	if i.cfg.HTTP.Info {
		router.GET("/info.json", i.serveInfo)
	}
	router.Handle("/ws", ws.NewHandler(i.ctx, func(conn net.Conn) error {
		return i.hub.Attach(conn, TransportWebsocket)
	}, i.cfg.Session.MaxWebsockets, i.logger))

	return srv.Register(multiplex.ProtoYamux, multiplex.IsYamux, i.serveYamux)
}

func (i *Instance) serveYamux(conn net.Conn) {
	err := mux.Serve(conn, func(stream net.Conn) error {
		return i.hub.Attach(stream, TransportYamux)
	}, i.logger)
	if err != nil {
		i.logger.ErrorMsg("yamux session from %s: %s", conn.RemoteAddr(), err)
	}
}

// Start binds the configured endpoints. It fails only when nothing could be
// bound; failures of single endpoints are logged.
func (i *Instance) Start(ctx context.Context) error {
	i.started = time.Now()

	err := i.manager.Initialize(ctx, i.cfg.Listen)
	if err != nil {
		if errors.Is(err, listen.ErrNotListening) {
			return err
		}
		i.logger.ErrorMsg("%s", err)
	}
	return nil
}

// Run drives the tick loop until ctx is cancelled or the instance is
// closed. A closed queue no longer blocks the waiter, so the loop must not
// outlive Close.
func (i *Instance) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(i.ctx, cancel)
	defer stop()

	i.logger.InfoMsg("Ticking at %d fps (frame time %s)", i.cfg.Tick.FPS, i.loop.FrameTime())
	return i.loop.Run(ctx)
}

// Wait is the tick loop's waiter: it runs queued network callbacks for up to
// budget.
func (i *Instance) Wait(budget time.Duration) {
	i.queue.RunFor(budget)

	if d := i.loop.Dropped(); d > i.lastDropped {
		i.metrics.DroppedSeconds.Add((d - i.lastDropped).Seconds())
		i.logger.VerboseMsg("Tick loop behind, dropped %s", d-i.lastDropped)
		i.lastDropped = d
	}
}

// Tick runs one simulation step.
func (i *Instance) Tick() {
	start := time.Now()

	i.hub.Tick()

	i.mu.Lock()
	consumers := i.consumers
	i.mu.Unlock()
	for _, fn := range consumers {
		fn()
	}

	i.metrics.Ticks.Inc()
	i.metrics.TickDuration.Observe(time.Since(start).Seconds())
}

// OnTick adds a game-tick consumer.
func (i *Instance) OnTick(fn TickFunc) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.consumers = append(i.consumers[:len(i.consumers):len(i.consumers)], fn)
}

// Post runs fn on the tick goroutine during the next wait.
func (i *Instance) Post(fn func()) error {
	return i.queue.Post(fn)
}

// Endpoints is the administrative surface used by the console.
func (i *Instance) Endpoints() *listen.Manager {
	return i.manager
}

// Interceptor returns the UDP interceptor so callers can attach observers.
func (i *Instance) Interceptor() *intercept.Interceptor {
	return i.interceptor
}

// Metrics returns the instance metrics.
func (i *Instance) Metrics() *metrics.Metrics {
	return i.metrics
}

// Hub returns the session hub.
func (i *Instance) Hub() *session.Hub {
	return i.hub
}

// Loop returns the tick loop.
func (i *Instance) Loop() *tick.Loop {
	return i.loop
}

// Close unbinds every endpoint and closes all sessions.
func (i *Instance) Close() error {
	err := i.manager.Close()
	i.cancel()
	i.hub.Close()
	i.queue.Close()
	return err
}

// serverInfo feeds the getinfo responder.
func (i *Instance) serverInfo() map[string]string {
	return map[string]string{
		"hostname": i.cfg.UDP.Hostname,
		"clients":  strconv.Itoa(i.hub.Count()),
		"fps":      strconv.Itoa(i.cfg.Tick.FPS),
	}
}

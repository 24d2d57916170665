package multiplex

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"dominicbreuker/gamenet/pkg/log"

	"github.com/gin-gonic/gin"
)

func init() {
	// no route dumps or debug banners on stdout
	gin.SetMode(gin.ReleaseMode)
}

// HTTPRouter serves HTTP on connections a multiplex server routed to it.
// Routes should be registered before the server starts accepting.
type HTTPRouter struct {
	engine *gin.Engine
	l      *connListener
	srv    *http.Server
	logger *log.Logger

	startOnce sync.Once
}

func newHTTPRouter(addr net.Addr, logger *log.Logger) *HTTPRouter {
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, err any) {
		logger.ErrorMsg("http handler panic on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.AbortWithStatus(http.StatusInternalServerError)
	}))

	return &HTTPRouter{
		engine: engine,
		l:      newConnListener(addr),
		logger: logger,
		srv: &http.Server{
			Handler: engine,

			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       0, // websocket upgrades are long-lived
			WriteTimeout:      0,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Handle routes every method on path to a plain net/http handler.
func (r *HTTPRouter) Handle(path string, h http.Handler) {
	r.engine.Any(path, gin.WrapH(h))
}

// HandleFunc is Handle for a handler function.
func (r *HTTPRouter) HandleFunc(path string, fn func(http.ResponseWriter, *http.Request)) {
	r.engine.Any(path, gin.WrapF(fn))
}

// GET routes GET and HEAD requests on path. Other methods get 405.
func (r *HTTPRouter) GET(path string, handlers ...gin.HandlerFunc) {
	r.engine.GET(path, handlers...)
	r.engine.HEAD(path, handlers...)
}

// ServeConn is the multiplex Handler for HTTP connections. It hands conn to
// the HTTP server, which owns it from then on.
func (r *HTTPRouter) ServeConn(conn net.Conn) {
	r.start()
	if err := r.l.push(conn); err != nil {
		_ = conn.Close()
	}
}

func (r *HTTPRouter) start() {
	r.startOnce.Do(func() {
		go func() {
			if err := r.srv.Serve(r.l); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
				r.logger.ErrorMsg("http.Server.Serve(): %s", err)
			}
		}()
	})
}

// Close stops the HTTP server and closes its connections.
func (r *HTTPRouter) Close() error {
	_ = r.l.Close()
	return r.srv.Close()
}

// connListener is a net.Listener fed with already accepted connections.
type connListener struct {
	addr  net.Addr
	ch    chan net.Conn
	done  chan struct{}
	close sync.Once
}

func newConnListener(addr net.Addr) *connListener {
	return &connListener{
		addr: addr,
		ch:   make(chan net.Conn),
		done: make(chan struct{}),
	}
}

func (l *connListener) push(conn net.Conn) error {
	select {
	case l.ch <- conn:
		return nil
	case <-l.done:
		return net.ErrClosed
	}
}

func (l *connListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.ch:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *connListener) Close() error {
	l.close.Do(func() { close(l.done) })
	return nil
}

func (l *connListener) Addr() net.Addr {
	return l.addr
}

var _ net.Listener = (*connListener)(nil)

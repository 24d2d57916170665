// Package mux carries many game sessions over one raw TCP connection using
// yamux streams. The server side accepts streams and hands each one to a
// transport.Handler; the client side opens them.
package mux

import (
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"sync"

	"dominicbreuker/gamenet/pkg/log"
	"dominicbreuker/gamenet/pkg/transport"

	"github.com/hashicorp/yamux"
)

// Serve runs a yamux server session on conn and calls handler for every
// accepted stream in its own goroutine. It returns when the session ends and
// all handlers have returned. A clean remote shutdown returns nil.
func Serve(conn net.Conn, handler transport.Handler, logger *log.Logger) error {
	sess, err := yamux.Server(conn, config())
	if err != nil {
		return fmt.Errorf("yamux.Server(conn): %w", err)
	}
	defer sess.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		stream, err := sess.Accept()
		if err != nil {
			if isSessionEnd(err) {
				return nil
			}
			return fmt.Errorf("session.Accept(): %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer stream.Close()
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorMsg("yamux stream handler panic: %v", r)
				}
			}()

			if err := handler(stream); err != nil {
				logger.ErrorMsg("handle yamux stream %s: %s", conn.RemoteAddr(), err)
			}
		}()
	}
}

func isSessionEnd(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, yamux.ErrSessionShutdown) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}

func config() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.LogOutput = nil
	cfg.Logger = stdlog.New(io.Discard, "", stdlog.LstdFlags) // discard all console logging in yamux
	return cfg
}

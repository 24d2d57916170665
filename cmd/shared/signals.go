package shared

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"dominicbreuker/gamenet/pkg/log"
)

// ShutdownGrace is how long the process waits for endpoints and sessions to
// close after the first signal before exiting anyway.
const ShutdownGrace = 5 * time.Second

// SetupSignalHandling cancels the server on the first signal. A second signal,
// or an unfinished shutdown after ShutdownGrace, exits the process.
func SetupSignalHandling(cancel context.CancelFunc, logger *log.Logger) {
	sigCh := make(chan os.Signal, 2)

	sigs := []os.Signal{os.Interrupt}
	if runtime.GOOS != "windows" {
		sigs = append(sigs, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
		// a client vanishing mid-write must not kill the server
		signal.Ignore(syscall.SIGPIPE)
	}
	signal.Notify(sigCh, sigs...)

	go func() {
		s := <-sigCh
		logger.InfoMsg("Received %s, closing endpoints", s)
		cancel()

		select {
		case <-sigCh:
			logger.ErrorMsg("second signal, exiting now")
			if ss, ok := s.(syscall.Signal); ok {
				os.Exit(128 + int(ss))
			}
			os.Exit(1)
		case <-time.After(ShutdownGrace):
			logger.ErrorMsg("shutdown took longer than %s", ShutdownGrace)
			os.Exit(0)
		}
	}()
}

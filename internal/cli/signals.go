package cli

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"boletobot/internal/app"
)

// signalContext is signal.NotifyContext that also remembers which signal
// fired, so Stop can log a precise reason.
func signalContext(parent context.Context) (context.Context, func() app.StopReason, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	var got atomic.Value
	got.Store(app.StopUnknown)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigs:
			got.Store(reasonFor(s))
			cancel()
		case <-ctx.Done():
		}
	}()

	stop := func() {
		signal.Stop(sigs)
		cancel()
	}
	return ctx, func() app.StopReason { return got.Load().(app.StopReason) }, stop
}

func reasonFor(s os.Signal) app.StopReason {
	switch s {
	case os.Interrupt:
		return app.StopSIGINT
	case syscall.SIGTERM:
		return app.StopSIGTERM
	}
	return app.StopUnknown
}

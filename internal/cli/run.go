package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"boletobot/internal/app"
	"boletobot/internal/eventbus"
	"boletobot/internal/session"
	"boletobot/internal/sender"
)

func newRunCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run in the foreground: keep the session, watch folders, serve ops and scheduled sends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := ro.open(false)
			if err != nil {
				return err
			}
			events, unsub := a.Bus().Subscribe(32,
				eventbus.TopicSessionQR, eventbus.TopicSessionReady, eventbus.TopicSendComplete)
			defer unsub()

			if err := a.Start(cmd.Context()); err != nil {
				_ = a.Stop(cmd.Context(), app.StopFatalError)
				return err
			}

			qr := &printQR{w: cmd.ErrOrStderr()}
			for {
				select {
				case <-a.Done():
					// canceled by the supervisor, not by a signal
					reason := app.StopFatalError
					if cmd.Context().Err() != nil {
						reason = ro.stopReason()
					}
					return finish(a, reason)
				case <-cmd.Context().Done():
					return finish(a, ro.stopReason())
				case e := <-events:
					switch e.Topic {
					case eventbus.TopicSessionQR:
						if ev, ok := e.Data.(session.Event); ok {
							qr.show(ev.QR)
						}
					case eventbus.TopicSessionReady:
						fmt.Fprintln(cmd.ErrOrStderr(), "Sessão pronta.")
					case eventbus.TopicSendComplete:
						if p, ok := e.Data.(sender.Progress); ok {
							printSummary(cmd.OutOrStdout(), p)
						}
					}
				}
			}
		},
	}
}

func finish(a *app.App, reason app.StopReason) error {
	runErr := a.Err()
	ctx, cancel := stopContext()
	defer cancel()
	if err := a.Stop(ctx, reason); err != nil && runErr == nil {
		return err
	}
	return runErr
}

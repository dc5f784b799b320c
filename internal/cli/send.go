package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"boletobot/internal/app"
	"boletobot/internal/eventbus"
	"boletobot/internal/sender"
)

func newSendCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send",
		Short: "Send every pending document to its mapped group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ro.withSession(cmd, func(a *app.App) error {
				events, unsub := a.Bus().Subscribe(64, eventbus.TopicSendProgress)
				done := make(chan struct{})
				go func() {
					defer close(done)
					for e := range events {
						p, ok := e.Data.(sender.Progress)
						if !ok || ro.json || p.Status != sender.StatusSending || p.CurrentFile == "" {
							continue
						}
						fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] %s: %s\n", p.Sent, p.Total, p.CurrentGroup, p.CurrentFile)
					}
				}()

				p, err := a.SendAll(cmd.Context())
				unsub()
				<-done
				if err != nil && p.RunID == "" {
					return err
				}
				if ro.json {
					if jerr := writeJSON(cmd.OutOrStdout(), p); jerr != nil {
						return jerr
					}
				} else {
					printSummary(cmd.OutOrStdout(), p)
				}
				return err
			})
		},
	}
}

func printSummary(w io.Writer, p sender.Progress) {
	took := p.FinishedAt.Sub(p.StartedAt).Round(100 * time.Millisecond)
	if p.Total == 0 {
		fmt.Fprintln(w, "Nenhum boleto pendente.")
		return
	}
	fmt.Fprintf(w, "Enviados %s de %s boletos em %s.\n",
		humanize.Comma(int64(p.Sent)), humanize.Comma(int64(p.Total)), took)
	for _, e := range p.Errors {
		fmt.Fprintf(w, "  erro %s / %s: %s\n", e.Group, e.File, e.Error)
	}
}

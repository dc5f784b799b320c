package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"boletobot/internal/app"
	"boletobot/internal/session"
)

// printQR renders a pairing payload once per distinct value.
type printQR struct {
	w    io.Writer
	mu   sync.Mutex
	last string
}

func (p *printQR) show(payload string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if payload == "" || payload == p.last {
		return
	}
	p.last = payload
	fmt.Fprintln(p.w, "Escaneie o código ou abra o link para parear:")
	qrterminal.GenerateHalfBlock(payload, qrterminal.L, p.w)
	fmt.Fprintln(p.w, payload)
}

// connect starts the app and waits for a ready session, printing any
// pairing code shown meanwhile. The caller owns Stop.
func (ro *rootOptions) connect(cmd *cobra.Command, a *app.App) error {
	if err := a.Start(cmd.Context()); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), ro.wait)
	defer cancel()
	qr := &printQR{w: cmd.ErrOrStderr()}
	if err := a.WaitReady(ctx, qr.show); err != nil {
		return fmt.Errorf("session not ready: %w", err)
	}
	return nil
}

// withSession runs fn against a connected app and always stops it.
func (ro *rootOptions) withSession(cmd *cobra.Command, fn func(a *app.App) error) (err error) {
	a, err := ro.open(true)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ro.close(a); err == nil {
			err = cerr
		}
	}()
	if err := ro.connect(cmd, a); err != nil {
		return err
	}
	return fn(a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPairCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Pair with the chat account and wait until the session is ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ro.withSession(cmd, func(a *app.App) error {
				fmt.Fprintln(cmd.OutOrStdout(), "Sessão pronta.")
				return nil
			})
		},
	}
}

func newStatusCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Connect and report session state, folder and mappings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := ro.open(true)
			if err != nil {
				return err
			}
			defer ro.close(a)

			// a failed connect still has a status worth printing
			_ = ro.connect(cmd, a)
			r := a.Report()
			if ro.json {
				return writeJSON(cmd.OutOrStdout(), r)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "session: %s\n", stateLabel(r.Session.State))
			if r.Session.LastError != "" {
				fmt.Fprintf(w, "error:   %s\n", r.Session.LastError)
			}
			fmt.Fprintf(w, "folder:  %s\n", r.Folder)
			fmt.Fprintf(w, "groups:  %d mapped\n", len(r.Groups))
			return nil
		},
	}
}

func newGroupsCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List the remote groups the session can deliver to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ro.withSession(cmd, func(a *app.App) error {
				groups := a.ListGroups(cmd.Context())
				if ro.json {
					return writeJSON(cmd.OutOrStdout(), groups)
				}
				if len(groups) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Nenhum grupo encontrado. Adicione o bot a um grupo e envie uma mensagem.")
					return nil
				}
				for _, g := range groups {
					fmt.Fprintf(cmd.OutOrStdout(), "%-20s  %s\n", g.ID, g.Name)
				}
				return nil
			})
		},
	}
}

func newLogoutCmd(ro *rootOptions) *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Drop the current session and clear stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := ro.open(true)
			if err != nil {
				return err
			}
			defer ro.close(a)
			if err := a.Start(cmd.Context()); err != nil {
				return err
			}
			if err := a.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Sessão encerrada.")
			if !repair {
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), ro.wait)
			defer cancel()
			qr := &printQR{w: cmd.ErrOrStderr()}
			if err := a.WaitReady(ctx, qr.show); err != nil {
				return fmt.Errorf("session not ready: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Sessão pronta.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&repair, "pair", false, "pair again right after logging out")
	return cmd
}

func stateLabel(s session.State) string {
	switch s {
	case session.Connected:
		return "conectado"
	case session.Connecting:
		return "conectando"
	case session.Error:
		return "erro"
	}
	return "desconectado"
}

// Package cli is the boletobot command tree.
package cli

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"boletobot/internal/app"
)

const envConfig = "BOLETOBOT_CONFIG"

type rootOptions struct {
	cfgPath string
	verbose bool
	json    bool
	wait    time.Duration

	// reason reports which signal ended the command, if any.
	reason func() app.StopReason
	// newApp is replaced in tests.
	newApp func(cfgPath string, opts app.Options) (*app.App, error)
}

// Execute runs the command tree until it finishes or SIGINT/SIGTERM arrives.
func Execute() error {
	ctx, reason, cancel := signalContext(context.Background())
	defer cancel()
	return newRootCmd(&rootOptions{reason: reason, newApp: app.New}).ExecuteContext(ctx)
}

func newRootCmd(ro *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "boletobot",
		Short:         "Deliver boleto PDFs from per-group folders to chat groups",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&ro.cfgPath, "config", "c", defaultConfigPath(), "config file (.json, .yaml or .toml)")
	pf.BoolVarP(&ro.verbose, "verbose", "v", false, "log to the console")
	pf.BoolVar(&ro.json, "json", false, "print JSON instead of text")
	pf.DurationVar(&ro.wait, "wait", 2*time.Minute, "how long to wait for the session to become ready")

	rootCmd.AddCommand(
		newRunCmd(ro),
		newPairCmd(ro),
		newStatusCmd(ro),
		newGroupsCmd(ro),
		newLogoutCmd(ro),
		newSendCmd(ro),
		newScanCmd(ro),
		newAddCmd(ro),
		newDeleteCmd(ro),
		newOpenCmd(ro),
		newPathCmd(ro),
		newMapCmd(ro),
		newConfigCmd(ro),
	)
	return rootCmd
}

func defaultConfigPath() string {
	if p := os.Getenv(envConfig); p != "" {
		return p
	}
	if d, err := os.UserConfigDir(); err == nil && d != "" {
		return filepath.Join(d, "boletobot", "config.json")
	}
	return "config.json"
}

// open builds the app without starting it. One-shot commands keep the
// console quiet unless --verbose is set.
func (ro *rootOptions) open(quiet bool) (*app.App, error) {
	return ro.newApp(ro.cfgPath, app.Options{Quiet: quiet && !ro.verbose})
}

func (ro *rootOptions) stopReason() app.StopReason {
	if ro.reason == nil {
		return app.StopCommand
	}
	if r := ro.reason(); r != app.StopUnknown {
		return r
	}
	return app.StopCommand
}

// close stops a started or unstarted app within a fixed budget.
func (ro *rootOptions) close(a *app.App) error {
	ctx, cancel := stopContext()
	defer cancel()
	return a.Stop(ctx, ro.stopReason())
}

// stopContext is detached from the command context, which is usually
// already canceled by the time Stop runs.
func stopContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

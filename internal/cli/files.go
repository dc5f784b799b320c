package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type scanRow struct {
	Group    string    `json:"group"`
	RemoteID string    `json:"remote_id,omitempty"`
	Files    int       `json:"files"`
	Bytes    uint64    `json:"bytes"`
	Newest   time.Time `json:"newest,omitempty"`
}

func newScanCmd(ro *rootOptions) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List group folders with their pending documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := ro.open(true)
			if err != nil {
				return err
			}
			defer ro.close(a)

			groups := a.Scan()
			rows := make([]scanRow, 0, len(groups))
			for _, g := range groups {
				r := scanRow{Group: g.Name, RemoteID: g.RemoteID, Files: g.FileCount}
				for _, f := range g.Files {
					fi, err := os.Stat(f)
					if err != nil {
						continue
					}
					r.Bytes += uint64(fi.Size())
					if fi.ModTime().After(r.Newest) {
						r.Newest = fi.ModTime()
					}
				}
				rows = append(rows, r)
			}
			if ro.json {
				return writeJSON(cmd.OutOrStdout(), rows)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "GRUPO\tDESTINO\tARQUIVOS\tTAMANHO\tMAIS RECENTE")
			for i, r := range rows {
				dest, newest := r.RemoteID, "-"
				if dest == "" {
					dest = "(sem mapeamento)"
				}
				if !r.Newest.IsZero() {
					newest = humanize.Time(r.Newest)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Group, dest, r.Files, humanize.Bytes(r.Bytes), newest)
				if list {
					for _, f := range groups[i].Files {
						fmt.Fprintf(tw, "  %s\t\t\t\t\n", filepath.Base(f))
					}
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list file names under each group")
	return cmd
}

func newAddCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <group> <file>...",
		Short: "Copy documents into a group folder",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ro.open(true)
			if err != nil {
				return err
			}
			defer ro.close(a)

			sources := make([]string, 0, len(args)-1)
			for _, s := range args[1:] {
				if abs, err := filepath.Abs(s); err == nil {
					s = abs
				}
				sources = append(sources, s)
			}
			results, err := a.AddFiles(args[0], sources)
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "falhou %s: %v\n", r.Original, r.Err)
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), r.Copied)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files not added", failed, len(results))
			}
			return nil
		},
	}
}

func newDeleteCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <file>...",
		Short: "Remove pending documents from their group folders",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ro.open(true)
			if err != nil {
				return err
			}
			defer ro.close(a)
			for _, p := range args {
				if abs, err := filepath.Abs(p); err == nil {
					p = abs
				}
				if err := a.DeleteFile(p); err != nil {
					return fmt.Errorf("delete %s: %w", p, err)
				}
			}
			return nil
		},
	}
}

func newOpenCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "open <file>",
		Short: "Open a pending document in the default application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ro.open(true)
			if err != nil {
				return err
			}
			defer ro.close(a)
			p := args[0]
			if abs, err := filepath.Abs(p); err == nil {
				p = abs
			}
			return a.OpenFile(p)
		},
	}
}

func newPathCmd(ro *rootOptions) *cobra.Command {
	var create bool
	cmd := &cobra.Command{
		Use:   "path [group]",
		Short: "Print the root folder or a group folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ro.open(true)
			if err != nil {
				return err
			}
			defer ro.close(a)

			var p string
			switch {
			case len(args) == 0:
				p = a.Config().Folder
			case create:
				p, err = a.CreateGroupFolder(args[0])
			default:
				p, err = a.GroupPath(args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "create the group folder when missing")
	return cmd
}

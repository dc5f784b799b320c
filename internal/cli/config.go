package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"boletobot/internal/config"
)

func newMapCmd(ro *rootOptions) *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "map <group> [remote-id]",
		Short: "Bind a group folder to a remote group id",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !remove && len(args) != 2 {
				return errors.New("remote-id is required unless --remove is set")
			}
			a, err := ro.open(true)
			if err != nil {
				return err
			}
			defer ro.close(a)

			id := ""
			if !remove {
				id = args[1]
			}
			if err := a.MapGroup(cmd.Context(), args[0], id); err != nil {
				return err
			}
			if !remove {
				// the folder is where documents for this group get dropped
				if _, err := a.CreateGroupFolder(args[0]); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "delete the mapping")
	return cmd
}

func newConfigCmd(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and edit the config file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				fmt.Fprintln(cmd.OutOrStdout(), ro.cfgPath)
				return nil
			},
		},
		&cobra.Command{
			Use:   "get [key]",
			Short: "Print the effective config or one dotted key",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := ro.open(true)
				if err != nil {
					return err
				}
				defer ro.close(a)

				tree, err := toTree(a.Config())
				if err != nil {
					return err
				}
				var v any = tree
				if len(args) == 1 {
					if v, err = lookup(tree, args[0]); err != nil {
						return err
					}
				}
				if s, ok := v.(string); ok && !ro.json {
					fmt.Fprintln(cmd.OutOrStdout(), s)
					return nil
				}
				return writeJSON(cmd.OutOrStdout(), v)
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set one dotted key; the value is parsed as JSON when it can be",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := ro.open(true)
				if err != nil {
					return err
				}
				defer ro.close(a)
				_, err = a.SetConfig(cmd.Context(), func(cfg *config.Config) error {
					return setKey(cfg, args[0], args[1])
				})
				return err
			},
		},
	)
	return cmd
}

func toTree(cfg *config.Config) (map[string]any, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(b, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func lookup(tree map[string]any, key string) (any, error) {
	var cur any = tree
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config: %q is not an object", key)
		}
		if cur, ok = m[part]; !ok {
			return nil, fmt.Errorf("config: unknown key %q", key)
		}
	}
	return cur, nil
}

// setKey writes raw at a dotted path and decodes the result strictly back
// into cfg, so unknown keys and wrong types are rejected. A value that only
// fits as a string ("123" for a message) is retried as one.
func setKey(cfg *config.Config, key, raw string) error {
	var val any
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		val = raw
	}
	next, err := withKey(cfg, key, val)
	if err != nil {
		if _, isString := val.(string); isString {
			return err
		}
		if next, err = withKey(cfg, key, raw); err != nil {
			return err
		}
	}
	*cfg = *next
	return nil
}

func withKey(cfg *config.Config, key string, val any) (*config.Config, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(key, ".")
	cur := tree
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = val

	b, err := json.Marshal(tree)
	if err != nil {
		return nil, err
	}
	var next config.Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		return nil, fmt.Errorf("config: set %s: %w", key, err)
	}
	return &next, nil
}

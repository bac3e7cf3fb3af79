package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kamune-org/keyscope"
	"github.com/kamune-org/keyscope/pkg/codec"
	"github.com/kamune-org/keyscope/pkg/keytree"
)

func display(s string) string {
	return codec.Decode([]byte(s)).String()
}

func (a *app) keysCmd() *cobra.Command {
	var (
		filter string
		flat   bool
	)
	cmd := &cobra.Command{
		Use:   "keys [pattern]",
		Short: "List keys as a tree, or one per line with --flat",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			return a.withSession(cmd, func(ctx context.Context, s *keyscope.Session) error {
				tree, err := s.Tree(ctx, pattern)
				if err != nil {
					return err
				}
				if filter != "" {
					tree = keytree.Filter(tree, filter)
				}
				out := cmd.OutOrStdout()
				if flat {
					for _, k := range tree.Keys() {
						printf(out, "%s\n", display(k))
					}
					return nil
				}
				printTree(out, tree)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "keep keys containing this text, ignoring case")
	cmd.Flags().BoolVar(&flat, "flat", false, "print full key names one per line")
	return cmd
}

// printTree prints groups with their delimiter and key count. A group that is
// also a key is marked with an asterisk.
func printTree(w io.Writer, tree *keytree.Tree) {
	tree.Walk(func(n *keytree.Node, depth int) bool {
		indent := strings.Repeat("  ", depth)
		switch {
		case n.IsGroup():
			mark := ""
			if n.IsKey {
				mark = " *"
			}
			printf(w, "%s%s%s (%d)%s\n", indent, display(n.Segment), keytree.Delimiter, n.Count(), mark)
		default:
			printf(w, "%s%s\n", indent, display(n.Segment))
		}
		return true
	})
}

func (a *app) getCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a key's value in its editable text form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *keyscope.Session) error {
				entry, err := s.Load(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if raw {
					v, ok := entry.Value.(keyscope.StringValue)
					if !ok {
						return fmt.Errorf("%w: --raw needs a string, %q is a %s",
							keyscope.ErrValidation, args[0], entry.Kind())
					}
					_, err := out.Write(v)
					return err
				}

				draft, err := keyscope.Format(entry.Value)
				if err != nil {
					return err
				}
				note := ""
				if draft.Binary {
					note = ", base64"
				}
				printf(cmd.ErrOrStderr(), "# %s, %d items, ttl %s%s\n",
					entry.Kind(), entry.Value.Len(), entry.TTL, note)
				printf(out, "%s\n", draft.Text)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "write a string's bytes unchanged")
	return cmd
}

func (a *app) setCmd() *cobra.Command {
	var (
		kind    string
		ttl     int64
		keepTTL bool
		binary  bool
	)
	cmd := &cobra.Command{
		Use:   "set <key> [value]",
		Short: "Replace a key with a value given as text, read from stdin when omitted",
		Long: "Strings take the value as is. Hashes, lists, sets and sorted sets take " +
			"the JSON document that get prints.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := keyscope.ParseKind(kind)
			if err != nil {
				return fmt.Errorf("%w: type %q", keyscope.ErrValidation, kind)
			}
			var text string
			if len(args) == 2 {
				text = args[1]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading value: %w", err)
				}
				text = string(data)
			}
			value, err := keyscope.Parse(keyscope.Draft{Kind: k, Text: text, Binary: binary})
			if err != nil {
				return err
			}

			var opts []keyscope.WriteOption
			switch {
			case cmd.Flags().Changed("ttl"):
				opts = append(opts, keyscope.WithTTL(ttl))
			case keepTTL:
				opts = append(opts, keyscope.KeepTTL())
			}
			return a.withSession(cmd, func(ctx context.Context, s *keyscope.Session) error {
				return s.Write(ctx, args[0], value, opts...)
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&kind, "type", "t", keyscope.KindString.String(), "string, hash, list, set or zset")
	f.Int64Var(&ttl, "ttl", 0, "expire after this many seconds")
	f.BoolVar(&keepTTL, "keep-ttl", false, "keep the key's current expiry")
	f.BoolVar(&binary, "base64", false, "the string value is base64")
	cmd.MarkFlagsMutuallyExclusive("ttl", "keep-ttl")
	return cmd
}

func (a *app) ttlCmd() *cobra.Command {
	var persist bool
	cmd := &cobra.Command{
		Use:   "ttl <key> [seconds]",
		Short: "Print a key's remaining lifetime, or set it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *keyscope.Session) error {
				switch {
				case persist:
					return s.SetTTL(ctx, args[0], int64(keyscope.NoExpiry))
				case len(args) == 2:
					secs, err := strconv.ParseInt(args[1], 10, 64)
					if err != nil || secs < 0 {
						return fmt.Errorf("%w: seconds %q", keyscope.ErrValidation, args[1])
					}
					return s.SetTTL(ctx, args[0], secs)
				}
				ttl, err := s.GetTTL(ctx, args[0])
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "%d\n", int64(ttl))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&persist, "persist", false, "remove the expiry")
	return cmd
}

func (a *app) delCmd() *cobra.Command {
	var tree bool
	cmd := &cobra.Command{
		Use:   "del <key>...",
		Short: "Delete keys, or whole groups of keys with --tree",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *keyscope.Session) error {
				if !tree {
					return report(cmd, s.DeleteMany(ctx, args))
				}
				t, err := s.Tree(ctx, "")
				if err != nil {
					return err
				}
				var total keyscope.BatchResult
				for _, path := range args {
					node, ok := t.Find(path)
					if !ok {
						return fmt.Errorf("group %q: %w", path, keyscope.ErrNotFound)
					}
					res := s.DeleteSubtree(ctx, node)
					total.Deleted = append(total.Deleted, res.Deleted...)
					total.Failures = append(total.Failures, res.Failures...)
					total.Succeeded += res.Succeeded
					total.Failed += res.Failed
				}
				return report(cmd, total)
			})
		},
	}
	cmd.Flags().BoolVar(&tree, "tree", false, "treat arguments as groups and delete everything beneath them")
	return cmd
}

// report prints a batch summary and fails when any key was not deleted.
func report(cmd *cobra.Command, res keyscope.BatchResult) error {
	for _, f := range res.Failures {
		printf(cmd.ErrOrStderr(), "%s: %v\n", display(f.Key), f.Err)
	}
	printf(cmd.OutOrStdout(), "deleted %d\n", res.Succeeded)
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d keys not deleted: %w",
			res.Failed, res.Succeeded+res.Failed, res.Failures[0].Err)
	}
	return nil
}

func (a *app) flushCmd() *cobra.Command {
	var all, yes bool
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Remove every key in the selected database, or in all of them with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *keyscope.Session) error {
				target := fmt.Sprintf("database %d on %s", s.Database(), s.Endpoint().Addr())
				if all {
					target = "every database on " + s.Endpoint().Addr()
				}
				if !yes {
					ok, err := confirm(cmd, "Remove every key in "+target+"?")
					if err != nil {
						return err
					}
					if !ok {
						return errAborted
					}
				}
				if all {
					return s.FlushAll(ctx)
				}
				return s.FlushDatabase(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "flush every database")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

var errAborted = fmt.Errorf("%w: aborted", keyscope.ErrValidation)

func confirm(cmd *cobra.Command, question string) (bool, error) {
	printf(cmd.ErrOrStderr(), "%s [y/N] ", question)
	answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

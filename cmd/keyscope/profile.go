package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kamune-org/keyscope/pkg/profile"
)

func (a *app) profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage saved connection profiles",
	}
	cmd.AddCommand(a.profileAddCmd(), a.profileListCmd(), a.profileRmCmd())
	return cmd
}

func (a *app) profileAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Save the connection given by --host, --port, --db and --ask-pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, err := a.endpoint()
			if err != nil {
				return err
			}
			store, err := a.openProfiles()
			if err != nil {
				return err
			}
			defer store.Close()

			err = store.Put(profile.Profile{
				Name:     args[0],
				Host:     ep.Host,
				Port:     ep.Port,
				Secret:   ep.Secret,
				Database: ep.Database,
			})
			if err != nil {
				return profileError(err)
			}
			printf(cmd.OutOrStdout(), "saved %s (%s, database %d)\n", args[0], ep.Addr(), ep.Database)
			return nil
		},
	}
}

func (a *app) profileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles, most recently used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openProfiles()
			if err != nil {
				return err
			}
			defer store.Close()

			profiles, err := store.List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tADDRESS\tDB\tSECRET\tLAST USED")
			for _, p := range profiles {
				secret, used := "no", "never"
				if p.Secret != "" {
					secret = "yes"
				}
				if !p.LastUsed.IsZero() {
					used = p.LastUsed.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", p.Name, p.Endpoint().Addr(), p.Database, secret, used)
			}
			return w.Flush()
		},
	}
}

func (a *app) profileRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openProfiles()
			if err != nil {
				return err
			}
			defer store.Close()
			return profileError(store.Remove(args[0]))
		},
	}
}

package main

import (
	"context"
	"fmt"
	"time"

	"docs4usync/internal/backends"
	"docs4usync/internal/connector"
	"docs4usync/internal/docs4u"
	"docs4usync/internal/outputdesc"
	"docs4usync/internal/specfile"

	"github.com/spf13/cobra"
)

func checkCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the connection to the Docs4U repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := settings(root)
			if err != nil {
				return err
			}
			c, err := newConnector(st)
			if err != nil {
				return err
			}
			defer c.Disconnect()
			msg, err := c.Check(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Docs4U repository root (overrides DOCS4U_ROOT)")
	return cmd
}

func describeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <spec-file>",
		Short: "Print the output description for a job specification file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := specfile.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), outputdesc.Encode(spec))
			return nil
		},
	}
}

func installCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Create the identity cache storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := backends.IdentityCacheFromEnv()
			if err != nil {
				return err
			}
			return connector.New(connector.Options{Cache: cache}).Install(cmd.Context())
		},
	}
}

func deinstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deinstall",
		Short: "Drop the identity cache storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := backends.IdentityCacheFromEnv()
			if err != nil {
				return err
			}
			return connector.New(connector.Options{Cache: cache}).Deinstall(cmd.Context())
		},
	}
}

func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired identity cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := backends.IdentityCacheFromEnv()
			if err != nil {
				return err
			}
			return cache.PurgeExpired(cmd.Context(), time.Now())
		},
	}
}

func repoCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Administer a Docs4U repository",
	}
	cmd.PersistentFlags().StringVar(&root, "root", "", "Docs4U repository root (overrides DOCS4U_ROOT)")

	withSession := func(ctx context.Context, fn func(*docs4u.Session) error) error {
		st, err := settings(root)
		if err != nil {
			return err
		}
		sess, err := docs4u.Open(ctx, st.RootDirectory)
		if err != nil {
			return err
		}
		defer sess.Close()
		return fn(sess)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Create an empty repository",
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := settings(root)
				if err != nil {
					return err
				}
				return docs4u.Create(cmd.Context(), st.RootDirectory)
			},
		},
		&cobra.Command{
			Use:   "add-principal <name>...",
			Short: "Register users or groups and print their IDs",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(cmd.Context(), func(s *docs4u.Session) error {
					for _, name := range args {
						id, err := s.AddUserOrGroup(cmd.Context(), name)
						if err != nil {
							return err
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, id)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "add-metadata <name>...",
			Short: "Register metadata names",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSession(cmd.Context(), func(s *docs4u.Session) error {
					for _, name := range args {
						if err := s.AddMetadataName(cmd.Context(), name); err != nil {
							return err
						}
					}
					return nil
				})
			},
		},
	)
	return cmd
}

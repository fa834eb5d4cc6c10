package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mizan-grc/mizan/pkg/security"
	"github.com/mizan-grc/mizan/pkg/stores"
)

func newUserCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User account management",
		Long: `Manage user accounts.

The administrator account is protected: it cannot be deleted, demoted or
disabled, and no other account can be given the admin role. Deleting a user
also deletes the risks, roadmap initiatives and sessions it owns.`,
	}

	cmd.AddCommand(newUserCreateCommand())
	cmd.AddCommand(newUserListCommand())
	cmd.AddCommand(newUserDeleteCommand())
	cmd.AddCommand(newUserSetAPIKeyCommand())
	cmd.AddCommand(newUserSetRoleCommand())
	cmd.AddCommand(newUserUnlockCommand())

	return cmd
}

func newUserCreateCommand() *cobra.Command {
	var (
		password string
		email    string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "create USERNAME",
		Short: "Register a user",
		Example: `  # Create a user with a generated password
  mizan user create alice

  # Create a user with an explicit password and email
  mizan user create bob --password 'S3cure!pass' --email bob@example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			username := args[0]
			generated := password == ""
			if generated {
				if password, err = security.GenerateToken(12); err != nil {
					return err
				}
			}

			err = a.change(cmd.Context(), stores.ActionUserRegistered, "user:"+username, "", func(ctx context.Context) error {
				_, err := a.store.Users.Create(ctx, stores.NewUser{
					Username: username,
					Password: password,
					Email:    stores.StringPtr(email),
					Role:     stores.Role(role),
				})
				return err
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created user %s\n", username)
			if generated {
				fmt.Fprintf(out, "Password: %s\n", password)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "initial password (generated when empty)")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", string(stores.RoleUser), "role")

	return cmd
}

func newUserListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			users, err := a.store.Users.ListAll(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, users)
			}

			tw := newTable(out)
			fmt.Fprintln(tw, "USERNAME\tROLE\tACTIVE\tEMAIL\tCREATED\tLAST LOGIN")
			for _, u := range users {
				lastLogin := "never"
				if u.LastLogin != nil {
					lastLogin = u.LastLogin.Format(timeLayout)
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\n",
					u.Username, u.Role, u.IsActive, deref(u.Email), u.CreatedAt.Format(timeLayout), lastLogin)
			}
			return tw.Flush()
		},
	}

	return cmd
}

func newUserDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete USERNAME",
		Short: "Delete a user and everything it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			username := args[0]
			err = a.change(cmd.Context(), stores.ActionUserDeleted, "user:"+username, "", func(ctx context.Context) error {
				return a.store.Users.Delete(ctx, username)
			})
			if err != nil {
				return err
			}

			log.Info().Str("username", username).Msg("User deleted")
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted user %s\n", username)
			return nil
		},
	}

	return cmd
}

func newUserSetAPIKeyCommand() *cobra.Command {
	var revoke bool

	cmd := &cobra.Command{
		Use:   "set-api-key USERNAME",
		Short: "Issue or revoke a user's API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			username := args[0]
			key := ""
			details := "revoked"
			if !revoke {
				if key, err = security.GenerateAPIKey(""); err != nil {
					return err
				}
				details = "issued"
			}

			err = a.change(cmd.Context(), stores.ActionAPIKeyUpdated, "user:"+username, details, func(ctx context.Context) error {
				return a.store.Users.UpdateAPIKey(ctx, username, key)
			})
			if err != nil {
				return err
			}

			if revoke {
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked API key of %s\n", username)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "API key for %s: %s\n", username, key)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&revoke, "revoke", false, "revoke the key instead of issuing one")

	return cmd
}

func newUserSetRoleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-role USERNAME ROLE",
		Short: "Change a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			username, role := args[0], args[1]
			err = a.change(cmd.Context(), stores.ActionUserUpdated, "user:"+username, "role="+role, func(ctx context.Context) error {
				return a.store.Users.SetRole(ctx, username, stores.Role(role))
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "User %s now has role %s\n", username, role)
			return nil
		},
	}

	return cmd
}

func newUserUnlockCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock USERNAME",
		Short: "Clear a login lockout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			username := args[0]
			err = a.change(cmd.Context(), stores.ActionUserUpdated, "user:"+username, "unlocked", func(ctx context.Context) error {
				return a.store.Users.Unlock(ctx, username)
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Unlocked %s\n", username)
			return nil
		},
	}

	return cmd
}

// cmd/library/commands.go
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"libraryhub/internal/membership"
	"libraryhub/internal/relay"
	"libraryhub/internal/seed"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			// openApp migrates on start; this reports the result.
			a := appFrom(cmd)
			if err := a.db.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load demo users, books and loans",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			res, err := seed.New(a.db, a.events, seed.WithLogger(a.logger)).Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users, %d books, %d issues\n", res.Users, res.Books, res.Issues)
			return nil
		},
	}
}

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage library accounts",
	}

	var nu membership.NewUser
	var role string
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an account, prompting for the password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			nu.Username = args[0]
			nu.Role = membership.Role(role)

			password, err := readPassword(cmd, fmt.Sprintf("Password for %s: ", nu.Username))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			nu.Password = password

			u, err := a.members.RegisterUser(cmd.Context(), nu)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s user %s (%s)\n", u.Role, u.Username, u.ID)
			return nil
		},
	}
	add.Flags().StringVar(&role, "role", string(membership.RoleStudent), "admin, student, teacher or assistant")
	add.Flags().StringVar(&nu.MemberCode, "member-code", "", "library card code, e.g. S123")
	add.Flags().StringVar(&nu.Email, "email", "", "contact address")

	cmd.AddCommand(add)
	return cmd
}

// readPassword reads a masked password from a terminal, or one line from a
// pipe.
func readPassword(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func newRelayCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Forward stored events to RabbitMQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			if a.cfg.RabbitURL == "" {
				return errors.New("RABBITMQ_URL is not set")
			}
			pub, err := relay.DialAMQP(a.cfg.RabbitURL, a.cfg.RelayExchange)
			if err != nil {
				return err
			}
			defer pub.Close()

			r := relay.New(a.db, a.events, pub,
				relay.WithLogger(a.logger),
				relay.WithInterval(a.cfg.RelayInterval))
			if !once {
				return r.Run(cmd.Context())
			}
			n, err := r.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d events\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "deliver one batch and exit")
	return cmd
}

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/roadtrip/internal/config"
	"github.com/bryan-buckman/roadtrip/internal/server"
)

func newAddUserCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "adduser <username>",
		Short: "Create an account for the admin API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password must not be empty")
			}

			hash, err := server.HashPassword(password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			store, err := openStore(config.FromEnv())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.CreateUser(cmd.Context(), args[0], hash); err != nil {
				return fmt.Errorf("create user %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %s created.\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password (read from stdin when omitted)")
	return cmd
}

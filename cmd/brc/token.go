// cmd/brc/token.go
package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Corphon/BugReportConstructor/internal/auth"
	"github.com/Corphon/BugReportConstructor/internal/storage"
)

func newTokenCmd(c *cli) *cobra.Command {
	var (
		expires   time.Duration
		newSecret bool
	)
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Issue a bearer token signed with auth_secret",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if newSecret {
				secret, err := auth.GenerateSecret(32)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(c.stdout, secret)
				return err
			}

			userID := c.cfg.UserID
			if len(args) == 1 {
				userID = args[0]
			}
			if userID == "" {
				return errors.New("user id is required")
			}
			if err := storage.ValidateUserID(userID); err != nil {
				return err
			}

			tokenConfig := auth.NewTokenConfig(c.cfg.AuthSecret, expires)
			token, err := auth.GenerateToken(userID, tokenConfig)
			if err != nil {
				if errors.Is(err, auth.ErrNoSecret) {
					return errors.New("auth_secret is not configured (set BRC_AUTH_SECRET)")
				}
				return err
			}
			_, err = fmt.Fprintln(c.stdout, token)
			return err
		},
	}
	cmd.Flags().DurationVar(&expires, "expires", auth.DefaultExpiration, "token lifetime")
	cmd.Flags().BoolVar(&newSecret, "new-secret", false, "print a fresh random secret instead")
	return cmd
}

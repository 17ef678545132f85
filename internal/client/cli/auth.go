package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/farmkeeper/internal/client/auth"
)

func (c *Cli) registerCommand() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a farm account on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := c.open(ctx); err != nil {
				return err
			}
			return c.runRegister(ctx, username)
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	return cmd
}

func (c *Cli) runRegister(ctx context.Context, username string) error {
	c.io.Println("=== Registration ===")

	username, err := c.askUsername(username)
	if err != nil {
		return err
	}

	password, err := c.askPassword("Password: ")
	if err != nil {
		return err
	}
	if c.getenv(PasswordEnv) == "" {
		confirm, err := c.io.ReadPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		if confirm != password {
			return fmt.Errorf("passwords do not match")
		}
	}

	userID, err := c.authService.Register(ctx, username, password)
	if err != nil {
		return err
	}

	c.io.Println("✓ Registration successful!")
	c.io.Printf("User ID: %s\n", userID)
	c.io.Println("Run 'farmkeeper login' to start a session.")
	return nil
}

func (c *Cli) loginCommand() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Start a session so queued edits can be synchronized",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := c.open(ctx); err != nil {
				return err
			}
			return c.runLogin(ctx, username)
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	return cmd
}

func (c *Cli) runLogin(ctx context.Context, username string) error {
	username, err := c.askUsername(username)
	if err != nil {
		return err
	}
	password, err := c.askPassword("Password: ")
	if err != nil {
		return err
	}

	session, err := c.authService.Login(ctx, username, password)
	if err != nil {
		return err
	}

	c.io.Println("✓ Login successful!")
	c.io.Printf("Username: %s\n", session.Username)
	c.io.Printf("Session expires: %s\n", time.Unix(session.ExpiresAt, 0).Format(time.RFC3339))

	if n := c.reconciler.Queue().Len(); n > 0 {
		c.io.Printf("%d operation(s) are waiting, run 'farmkeeper sync' to send them.\n", n)
	}
	return nil
}

func (c *Cli) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the local session, queued edits are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := c.open(ctx); err != nil {
				return err
			}
			if err := c.authService.Logout(ctx); err != nil {
				return err
			}
			c.io.Println("✓ Logged out")
			if n := c.reconciler.Queue().Len(); n > 0 {
				c.io.Printf("%d operation(s) stay queued until the next login.\n", n)
			}
			return nil
		},
	}
}

func (c *Cli) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := c.open(ctx); err != nil {
				return err
			}
			session, err := c.authService.Session(ctx)
			switch {
			case errors.Is(err, auth.ErrNotAuthenticated), errors.Is(err, auth.ErrSessionExpired):
				c.io.Printf("Not logged in (%v)\n", err)
				return nil
			case err != nil:
				return err
			}
			c.io.Printf("Username: %s\n", session.Username)
			c.io.Printf("User ID:  %s\n", session.UserID)
			c.io.Printf("Server:   %s\n", c.cfg.ServerURL)
			c.io.Printf("Expires:  %s\n", time.Unix(session.ExpiresAt, 0).Format(time.RFC3339))
			return nil
		},
	}
}

func (c *Cli) askUsername(username string) (string, error) {
	if username != "" {
		return username, nil
	}
	username, err := c.io.ReadInput("Username: ")
	if err != nil {
		return "", fmt.Errorf("failed to read username: %w", err)
	}
	return username, nil
}

// askPassword берет пароль из PasswordEnv или спрашивает его без эха
func (c *Cli) askPassword(prompt string) (string, error) {
	if password := c.getenv(PasswordEnv); password != "" {
		return password, nil
	}
	password, err := c.io.ReadPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

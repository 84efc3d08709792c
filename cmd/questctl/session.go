package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	loginEmail    string
	loginPassword string
	signupName    string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			pw, err := password()
			if err != nil {
				return err
			}
			_ = a.auth.Init(ctx)
			if err := a.auth.Login(ctx, loginEmail, pw); err != nil {
				return err
			}
			printSession(a.out, a.auth.Snapshot())
			return nil
		})
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account and store the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			pw, err := password()
			if err != nil {
				return err
			}
			_ = a.auth.Init(ctx)
			if err := a.auth.Signup(ctx, signupName, loginEmail, pw); err != nil {
				return err
			}
			printSession(a.out, a.auth.Snapshot())
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.auth.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Logged out.")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.auth.Init(ctx); err != nil {
				a.logger.Debug("Stored session could not be restored", "error", err)
			}
			printSession(a.out, a.auth.Snapshot())
			return nil
		})
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the stored session with the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.requireSession(ctx); err != nil {
				return err
			}
			if err := a.auth.ValidateSession(ctx); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Session is valid.")
			return nil
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the refresh token for new credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.requireSession(ctx); err != nil {
				return err
			}
			if err := a.auth.RefreshSession(ctx); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Session refreshed.")
			return nil
		})
	},
}

// password prefers the flag, then QUESTLINE_PASSWORD, then prompts on a
// terminal without echo.
func password() (string, error) {
	if loginPassword != "" {
		return loginPassword, nil
	}
	if pw := os.Getenv("QUESTLINE_PASSWORD"); pw != "" {
		return pw, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no password given; use --password or QUESTLINE_PASSWORD")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, signupCmd} {
		c.Flags().StringVar(&loginEmail, "email", "", "Account email")
		c.Flags().StringVar(&loginPassword, "password", "", "Account password (or QUESTLINE_PASSWORD)")
		_ = c.MarkFlagRequired("email")
	}
	signupCmd.Flags().StringVar(&signupName, "username", "", "Display name")
	_ = signupCmd.MarkFlagRequired("username")

	rootCmd.AddCommand(loginCmd, signupCmd, logoutCmd, whoamiCmd, validateCmd, refreshCmd)
}

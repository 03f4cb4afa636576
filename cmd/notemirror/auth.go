package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/notemirror/notemirror/internal/auth"
	"github.com/notemirror/notemirror/internal/ui"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	GroupID: "setup",
	Short:   "Manage the Microsoft account login",
	Long: `Sign in with the device-code flow and manage the cached tokens.

The tokens are stored in auth.cache_path (default ~/.notemirror/token.json),
readable only by the current user. Setting auth.token (or
NOTEMIRROR_AUTH_TOKEN) bypasses the login entirely.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with a device code",
	Run: func(cmd *cobra.Command, args []string) {
		if cfg.Auth.Token != "" {
			fmt.Printf("%s auth.token is set; the device login is not used\n", ui.RenderWarn("⚠"))
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		provider := deviceCode()
		err := provider.Login(ctx, func(da *auth.DeviceAuthorization) {
			fmt.Println()
			fmt.Printf("Open %s and enter the code %s\n", da.VerificationURI, ui.RenderAccent(da.UserCode))
			if da.VerificationURIComplete != "" {
				fmt.Printf("or open %s\n", da.VerificationURIComplete)
			}
			fmt.Println()
		})
		if err != nil {
			fatal("%v", err)
		}

		creds, err := provider.Status()
		if err != nil || creds == nil {
			fmt.Printf("%s Logged in\n", ui.RenderPass("✓"))
			return
		}
		fmt.Printf("%s Logged in as %s\n", ui.RenderPass("✓"), accountName(creds))
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the cached tokens",
	Run: func(cmd *cobra.Command, args []string) {
		if err := deviceCode().Logout(); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Logged out\n", ui.RenderPass("✓"))
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the login state",
	Run: func(cmd *cobra.Command, args []string) {
		if cfg.Auth.Token != "" {
			fmt.Println(ui.KeyValue("Auth", "static token (auth.token)"))
			return
		}
		creds, err := deviceCode().Status()
		if err != nil {
			fatal("%v", err)
		}
		if creds == nil {
			fmt.Println(ui.KeyValue("Auth", ui.RenderWarn("logged out")))
			fmt.Println("   Run 'notemirror auth login' to sign in")
			return
		}

		now := time.Now()
		fmt.Println(ui.KeyValue("Account", accountName(creds)))
		fmt.Println(ui.KeyValue("Cache", cfg.Auth.CachePath))
		switch {
		case creds.ExpiresAt().IsZero():
			fmt.Println(ui.KeyValue("Expires", "unknown"))
		case creds.Expired(now, 0):
			state := ui.RenderWarn("expired")
			if creds.CanRefresh() {
				state += " (refreshed on next use)"
			}
			fmt.Println(ui.KeyValue("Expires", state))
		default:
			fmt.Println(ui.KeyValue("Expires", fmt.Sprintf("in %v", creds.ExpiresAt().Sub(now).Round(time.Minute))))
		}
		if creds.Scope != "" {
			fmt.Println(ui.KeyValue("Scope", creds.Scope))
		}
	},
}

func accountName(creds *auth.Credentials) string {
	if creds.Account == "" {
		return "unknown account"
	}
	return creds.Account
}

func init() {
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	rootCmd.AddCommand(authCmd)
}

package main

import (
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Session Commands
// =============================================================================

// buildRunCmd creates the "run" command that keeps a session mounted.
func buildRunCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Log in, stream location and watch who is nearby",
		Long: `Log in and keep the session mounted until interrupted.

The chat, groups, location and notifications channels stay connected,
the device location is streamed on every sample and the radar is
re-rendered whenever the nearby list changes. A /metrics endpoint is
served when metrics.addr is configured.`,
		Example: `  # Use the default config and prompt for the password
  proximo run --email me@example.com

  # Replay a recorded route
  proximo run -c walk.yaml --email me@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := resolveCredentials(cmd, email)
			if err != nil {
				return err
			}
			return runSession(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), flagString(cmd, "config"), flagBool(cmd, "debug"), creds)
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email (default: $PROXIMO_EMAIL)")
	return cmd
}

// buildRadarCmd creates the "radar" command that prints the nearby users once.
func buildRadarCmd() *cobra.Command {
	var (
		email   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "radar",
		Short: "Report the current location once and print who is nearby",
		Long: `Log in, read one location sample, report it over REST and print
the users within the discovery radius along with recent re-encounters.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := resolveCredentials(cmd, email)
			if err != nil {
				return err
			}
			return runRadar(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), flagString(cmd, "config"), flagBool(cmd, "debug"), creds, timeout)
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email (default: $PROXIMO_EMAIL)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall deadline")
	return cmd
}

// buildLoginCmd creates the "login" command that verifies credentials.
func buildLoginCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Verify credentials and show the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := resolveCredentials(cmd, email)
			if err != nil {
				return err
			}
			return runLogin(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), flagString(cmd, "config"), creds)
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email (default: $PROXIMO_EMAIL)")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigValidate(cmd.OutOrStdout(), flagString(cmd, "config"))
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration as YAML",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigShow(cmd.OutOrStdout(), flagString(cmd, "config"))
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Print the JSON Schema of the configuration file",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigSchema(cmd.OutOrStdout())
			},
		},
	)
	return cmd
}

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func flagBool(cmd *cobra.Command, name string) bool {
	v, _ := cmd.Flags().GetBool(name)
	return v
}

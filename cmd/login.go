package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"gate-checkin/internal/gateway"
)

func newLoginCmd() *cobra.Command {
	var flags gateFlags
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in as a gate operator and store the token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if password == "" {
				password = os.Getenv("GATE_PASSWORD")
			}
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimSpace(line)
			}

			client, err := gateway.New(gateway.Options{BaseURL: cfg.ServerURL, Timeout: cfg.RequestTimeout, RetryMax: cfg.RetryMax})
			if err != nil {
				return err
			}
			resp, err := client.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if err := gateway.WriteTokenFile(cfg.TokenFile, resp.Token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", resp.Name, resp.Role)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&email, "email", "", "operator email")
	cmd.Flags().StringVar(&password, "password", "", "operator password (or GATE_PASSWORD; prompted when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

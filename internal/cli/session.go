package cli

import (
	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Session operations",
	}

	cmd.AddCommand(newSessionRecoverCmd())

	return cmd
}

func newSessionRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Recover the saved session after a disconnect",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.SessionToken == "" {
				NewOutput(cfg.Output).PrintMessage("No saved session to recover")
				return nil
			}

			body := map[string]any{"session_token": cfg.SessionToken}
			var result JoinResult
			if err := client.Post("/api/v1/sessions/recover", body, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

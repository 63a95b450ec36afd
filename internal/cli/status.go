package cli

import (
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Player status operations",
	}

	cmd.AddCommand(newStatusUpdateCmd())
	cmd.AddCommand(newStatusReturnCmd())
	cmd.AddCommand(newStatusReturnAllCmd())
	cmd.AddCommand(newStatusGameEndCmd())

	return cmd
}

func newStatusUpdateCmd() *cobra.Command {
	var (
		userID    string
		status    string
		location  string
		immediate bool
		reason    string
	)

	cmd := &cobra.Command{
		Use:   "update <code>",
		Short: "Report a player's status and location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"user_id":   userID,
				"status":    status,
				"location":  location,
				"immediate": immediate,
				"reason":    reason,
			}
			if err := client.Post("/api/v1/rooms/"+args[0]+"/status", body, nil); err != nil {
				return err
			}
			NewOutput(cfg.Output).PrintMessage("Status update accepted")
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	cmd.Flags().StringVar(&status, "status", "connected", "Status: connected, disconnected")
	cmd.Flags().StringVar(&location, "location", "lobby", "Location: lobby, game, disconnected")
	cmd.Flags().BoolVar(&immediate, "immediate", false, "Bypass the deferred queue")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the update")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newStatusReturnCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "return <code>",
		Short: "Return a player to the lobby",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"user_id": userID}
			var result StatusResult
			if err := client.Post("/api/v1/rooms/"+args[0]+"/return", body, &result); err != nil {
				return err
			}
			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newStatusReturnAllCmd() *cobra.Command {
	var (
		userID string
		reason string
	)

	cmd := &cobra.Command{
		Use:   "return-all <code>",
		Short: "Return the whole group to the lobby (host only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"user_id": userID,
				"reason":  reason,
			}
			if err := client.Post("/api/v1/rooms/"+args[0]+"/return-all", body, nil); err != nil {
				return err
			}
			NewOutput(cfg.Output).PrintMessage("Group return initiated")
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID of the host (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the return")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newStatusGameEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "game-end <code>",
		Short: "Signal that the room's external activity has ended",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Post("/api/v1/rooms/"+args[0]+"/game-end", map[string]any{}, nil); err != nil {
				return err
			}
			NewOutput(cfg.Output).PrintMessage("Game end processed")
			return nil
		},
	}
}

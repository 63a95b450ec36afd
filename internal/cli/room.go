package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRoomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Room operations",
	}

	cmd.AddCommand(newRoomCreateCmd())
	cmd.AddCommand(newRoomJoinCmd())
	cmd.AddCommand(newRoomLeaveCmd())
	cmd.AddCommand(newRoomGetCmd())
	cmd.AddCommand(newRoomValidateCmd())

	return cmd
}

func newRoomCreateCmd() *cobra.Command {
	var (
		userID       string
		displayName  string
		activityType string
		maxPlayers   int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a room",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"user_id":      userID,
				"display_name": displayName,
			}
			if activityType != "" {
				body["activity_type"] = activityType
			}
			if maxPlayers > 0 {
				body["max_players"] = maxPlayers
			}

			var result RoomView
			if err := client.Post("/api/v1/rooms", body, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name (required)")
	cmd.Flags().StringVar(&activityType, "activity", "", "Activity type")
	cmd.Flags().IntVar(&maxPlayers, "max-players", 0, "Maximum connected players")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newRoomJoinCmd() *cobra.Command {
	var (
		userID      string
		displayName string
		customName  string
	)

	cmd := &cobra.Command{
		Use:   "join <code>",
		Short: "Join a room by code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"user_id":      userID,
				"display_name": displayName,
			}
			if customName != "" {
				body["custom_name"] = customName
			}

			var result JoinResult
			if err := client.Post("/api/v1/rooms/"+args[0]+"/join", body, &result); err != nil {
				return err
			}

			// Persist the session token so recover works after a drop
			if err := cfg.SaveSession(result.SessionToken); err != nil {
				return fmt.Errorf("joined but failed to save session: %w", err)
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name (required)")
	cmd.Flags().StringVar(&customName, "custom-name", "", "Custom display name override")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newRoomLeaveCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "leave <code>",
		Short: "Leave a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"user_id": userID}
			if err := client.Post("/api/v1/rooms/"+args[0]+"/leave", body, nil); err != nil {
				return err
			}
			NewOutput(cfg.Output).PrintMessage("Left room " + args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newRoomGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <code>",
		Short: "Show a room and its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result RoomView
			if err := client.Get("/api/v1/rooms/"+args[0]+"/snapshot", &result); err != nil {
				return err
			}
			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newRoomValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <code>",
		Short: "Check whether a room code is joinable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result ValidateResult
			if err := client.Get("/api/v1/rooms/"+args[0], &result); err != nil {
				return err
			}
			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

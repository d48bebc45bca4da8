package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/wagerengine/internal/crypto"
	"github.com/alanyoungcy/wagerengine/internal/domain"
)

// AdminCmd performs admin handoffs.
func AdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin role handoff",
	}

	transfer := &cobra.Command{
		Use:   "transfer <new-admin>",
		Short: "Immediately hand the admin role to a key with a verified backup",
		Long: "Refuses to run unless --backup decrypts to the key of <new-admin>, so the " +
			"role can never move to a key nobody holds. Requests the confirmation token " +
			"and completes the transfer.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			newAdmin, ok := domain.ParseIdentity(args[0])
			if !ok {
				return fmt.Errorf("invalid new admin address %q", args[0])
			}
			backupPath, _ := cmd.Flags().GetString("backup")
			blob, err := os.ReadFile(backupPath)
			if err != nil {
				return fmt.Errorf("read backup: %w", err)
			}
			pw, err := password(cmd)
			if err != nil {
				return err
			}
			if err := crypto.VerifyBackup(blob, pw, newAdmin); err != nil {
				return fmt.Errorf("backup check failed: %w", err)
			}

			c, err := newClient(cmd, true)
			if err != nil {
				return err
			}
			var challenge struct {
				Confirmation string `json:"confirmation"`
			}
			req := map[string]string{"new_admin": newAdmin.Hex()}
			if err := c.postJSON(cmd.Context(), "/api/protocol/admin/challenge", req, &challenge); err != nil {
				return err
			}
			req["confirmation"] = challenge.Confirmation

			var cfg domain.GlobalConfig
			if err := c.postJSON(cmd.Context(), "/api/protocol/admin/transfer", req, &cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin is now %s (config version %d)\n", cfg.Admin.Hex(), cfg.Version)
			return nil
		},
	}
	transfer.Flags().String("backup", "", "encrypted backup of the new admin key")
	transfer.Flags().String("password", "", "backup password (or WAGER_KEY_PASSWORD)")
	_ = transfer.MarkFlagRequired("backup")

	propose := &cobra.Command{
		Use:   "propose <new-admin>",
		Short: "Start a timelocked handoff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			newAdmin, ok := domain.ParseIdentity(args[0])
			if !ok {
				return fmt.Errorf("invalid new admin address %q", args[0])
			}
			c, err := newClient(cmd, true)
			if err != nil {
				return err
			}
			var cfg domain.GlobalConfig
			if err := c.postJSON(cmd.Context(), "/api/protocol/admin/propose",
				map[string]string{"new_admin": newAdmin.Hex()}, &cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "proposed %s, eligible at unix %d\n", newAdmin.Hex(), cfg.PendingAdminEligibleAt)
			return nil
		},
	}

	accept := &cobra.Command{
		Use:   "accept",
		Short: "Accept a pending handoff as the proposed admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(cmd, true)
			if err != nil {
				return err
			}
			var cfg domain.GlobalConfig
			if err := c.postJSON(cmd.Context(), "/api/protocol/admin/accept", struct{}{}, &cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin is now %s\n", cfg.Admin.Hex())
			return nil
		},
	}

	cmd.AddCommand(transfer, propose, accept)
	return cmd
}

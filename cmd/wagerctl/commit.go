package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/wagerengine/internal/commitment"
	"github.com/alanyoungcy/wagerengine/internal/domain"
)

// CommitCmd builds the commitment of a prediction.
func CommitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Compute the commitment of a prediction",
		RunE:  commit,
	}
	cmd.Flags().Int64("low", 0, "range low")
	cmd.Flags().Int64("high", 0, "range high")
	cmd.Flags().Int64("target", 0, "target value")
	cmd.Flags().String("salt", "", "hex salt; a random 32-byte salt is generated when empty")
	return cmd
}

func commit(cmd *cobra.Command, _ []string) error {
	low, _ := cmd.Flags().GetInt64("low")
	high, _ := cmd.Flags().GetInt64("high")
	target, _ := cmd.Flags().GetInt64("target")
	saltHex, _ := cmd.Flags().GetString("salt")

	var salt []byte
	if saltHex == "" {
		var err error
		if salt, err = commitment.NewSalt(); err != nil {
			return err
		}
	} else {
		var err error
		if salt, err = hexutil.Decode(saltHex); err != nil {
			return fmt.Errorf("salt: %w", err)
		}
	}

	digest := commitment.Commit(low, high, target, salt)
	fmt.Fprintf(cmd.OutOrStdout(), "commitment: %s\nsalt:       %s\n", digest.Hex(), hexutil.Encode(salt))
	return nil
}

// IDsCmd derives deterministic identifiers.
func IDsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ids",
		Short: "Derive market, bet and vault identifiers",
	}

	market := &cobra.Command{
		Use:   "market <fixed|pool> <name>",
		Short: "Market id from kind and name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), domain.MarketID(domain.MarketKind(args[0]), args[1]))
			return nil
		},
	}

	bet := &cobra.Command{
		Use:   "bet <market-id> <owner> <request-id>",
		Short: "Bet id from market, owner and request id",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, ok := domain.ParseIdentity(args[1])
			if !ok {
				return fmt.Errorf("invalid owner address %q", args[1])
			}
			fmt.Fprintln(cmd.OutOrStdout(), domain.BetID(args[0], owner, args[2]))
			return nil
		},
	}

	vault := &cobra.Command{
		Use:   "vault <market-id>",
		Short: "Vault identity holding a market's escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), domain.VaultIdentity(args[0]).Hex())
			return nil
		},
	}

	request := &cobra.Command{
		Use:   "request",
		Short: "Fresh random request id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), uuid.NewString())
			return nil
		},
	}

	cmd.AddCommand(market, bet, vault, request)
	return cmd
}

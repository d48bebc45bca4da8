package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// AmountCmd converts between display amounts and base units.
func AmountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amount",
		Short: "Convert token amounts between display and base units",
	}
	cmd.PersistentFlags().Int32("decimals", 6, "token decimals")

	toBase := &cobra.Command{
		Use:   "to-base <amount>",
		Short: "1.5 -> 1500000 with 6 decimals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decimals, _ := cmd.Flags().GetInt32("decimals")
			base, err := toBaseUnits(args[0], decimals)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base)
			return nil
		},
	}

	fromBase := &cobra.Command{
		Use:   "from-base <units>",
		Short: "1500000 -> 1.5 with 6 decimals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decimals, _ := cmd.Flags().GetInt32("decimals")
			d, err := decimal.NewFromString(args[0])
			if err != nil || !d.IsInteger() || d.IsNegative() {
				return fmt.Errorf("invalid base amount %q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), d.Shift(-decimals).String())
			return nil
		},
	}

	cmd.AddCommand(toBase, fromBase)
	return cmd
}

// toBaseUnits scales a display amount to integer base units, rejecting
// negative values, excess precision and anything above uint64.
func toBaseUnits(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount %q overflows", s)
	}
	return bi.Uint64(), nil
}

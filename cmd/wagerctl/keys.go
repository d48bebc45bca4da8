package main

import (
	"errors"
	"fmt"
	"os"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/wagerengine/internal/crypto"
)

// KeysCmd manages signing keys.
func KeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate, back up and restore signing keys",
	}

	generate := &cobra.Command{
		Use:   "new",
		Short: "Generate a key and write an encrypted backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString("out")
			pw, err := password(cmd)
			if err != nil {
				return err
			}
			pk, err := ethcrypto.GenerateKey()
			if err != nil {
				return err
			}
			keyHex := fmt.Sprintf("%x", ethcrypto.FromECDSA(pk))
			if err := crypto.BackupFile(out, keyHex, pw); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nbackup:  %s\n",
				ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(), out)
			return nil
		},
	}
	generate.Flags().String("out", "wager-key.json", "backup file to create")

	backup := &cobra.Command{
		Use:   "backup",
		Short: "Encrypt the --key private key into a backup file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keyHex, _ := cmd.Flags().GetString("key")
			out, _ := cmd.Flags().GetString("out")
			if keyHex == "" {
				return errors.New("--key is required")
			}
			signer, err := crypto.NewSigner(keyHex)
			if err != nil {
				return err
			}
			pw, err := password(cmd)
			if err != nil {
				return err
			}
			if err := crypto.BackupFile(out, keyHex, pw); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nbackup:  %s\n", signer.Address().Hex(), out)
			return nil
		},
	}
	backup.Flags().String("out", "wager-key.json", "backup file to create")

	restore := &cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Decrypt a backup and print its address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := password(cmd)
			if err != nil {
				return err
			}
			keyHex, err := crypto.LoadKey(crypto.KeyConfig{EncryptedKeyPath: args[0], KeyPassword: pw})
			if err != nil {
				return err
			}
			signer, err := crypto.NewSigner(keyHex)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address: %s\n", signer.Address().Hex())
			if show, _ := cmd.Flags().GetBool("show-key"); show {
				fmt.Fprintf(cmd.OutOrStdout(), "key:     %s\n", keyHex)
			}
			return nil
		},
	}
	restore.Flags().Bool("show-key", false, "also print the private key")

	cmd.PersistentFlags().String("password", "", "backup password (or WAGER_KEY_PASSWORD)")
	cmd.AddCommand(generate, backup, restore)
	return cmd
}

func password(cmd *cobra.Command) (string, error) {
	pw, _ := cmd.Flags().GetString("password")
	if pw == "" {
		pw = os.Getenv("WAGER_KEY_PASSWORD")
	}
	if pw == "" {
		return "", errors.New("a backup password is required: pass --password or set WAGER_KEY_PASSWORD")
	}
	return pw, nil
}

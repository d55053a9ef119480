package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/cascadebot/internal/crypto"
)

const (
	envPrivateKey  = "CASCADEBOT_WALLET_PRIVATE_KEY"
	envKeyPassword = "CASCADEBOT_WALLET_KEY_PASSWORD"
)

var encryptOut string

// encryptKeyCmd seals a raw private key into the file format read by
// wallet.encrypted_key_path. The key is read from the environment or stdin
// so it never appears in shell history.
var encryptKeyCmd = &cobra.Command{
	Use:   "encrypt-key",
	Short: "Encrypt a hex private key with a password",
	RunE: func(cmd *cobra.Command, args []string) error {
		key := os.Getenv(envPrivateKey)
		if key == "" {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading private key from stdin: %w", err)
			}
			key = strings.TrimSpace(line)
		}
		password := os.Getenv(envKeyPassword)
		if password == "" {
			return errors.New(envKeyPassword + " must be set")
		}

		sealed, err := crypto.EncryptKey(key, password)
		if err != nil {
			return err
		}
		if err := os.WriteFile(encryptOut, sealed, 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", encryptOut, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "encrypted key written to %s\n", encryptOut)
		return nil
	},
}

func init() {
	encryptKeyCmd.Flags().StringVarP(&encryptOut, "out", "o", "wallet.key.json", "output file")
	rootCmd.AddCommand(encryptKeyCmd)
}

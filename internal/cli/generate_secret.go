package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fern-network/fern/internal/identity"
)

func init() {
	generateSecretCmd.Flags().StringVar(&generateSecretPath, "path", "", "Path to write the new secret key to")
	generateSecretCmd.MarkFlagRequired("path")
	rootCmd.AddCommand(generateSecretCmd)
}

var generateSecretPath string

var generateSecretCmd = &cobra.Command{
	Use:   "generate-secret",
	Short: "Generate a new node identity secret key",
	Long:  `Generate a random 32-byte secret key and write it to the given path.`,
	RunE:  runGenerateSecret,
}

func runGenerateSecret(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(generateSecretPath); err == nil {
		return fmt.Errorf("secret key already exists at %s", generateSecretPath)
	}

	id, err := identity.Generate()
	if err != nil {
		return fmt.Errorf("generate secret key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(generateSecretPath), 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(generateSecretPath, id.SecretKey[:], 0o600); err != nil {
		return fmt.Errorf("write secret key: %w", err)
	}

	fmt.Printf("Wrote new secret key to %s\n", generateSecretPath)
	return nil
}

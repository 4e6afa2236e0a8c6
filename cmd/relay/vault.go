package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mtzanidakis/relay/internal/store"
	"github.com/mtzanidakis/relay/internal/vault"
	"github.com/spf13/cobra"
)

var (
	secretValue       string
	secretFile        string
	secretDescription string
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage encrypted secrets",
	Long: `Secrets are encrypted with a key derived from RELAY_VAULT_PASSPHRASE (or
vault.passphrase) and kept in the store. Credential fields of the config file
can reference them as "secret:<name>".`,
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List secrets (metadata only)",
	Args:  cobra.NoArgs,
	RunE: withSecrets(func(cmd *cobra.Command, sec *vault.Secrets, args []string) error {
		secrets, err := sec.List()
		if err != nil {
			return err
		}
		if len(secrets) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No secrets stored.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESCRIPTION\tUPDATED")
		for _, s := range secrets {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Description, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	}),
}

var vaultSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Store a secret from --value or --file",
	Args:  cobra.ExactArgs(1),
	RunE: withSecrets(func(cmd *cobra.Command, sec *vault.Secrets, args []string) error {
		value, err := secretInput()
		if err != nil {
			return err
		}
		if err := sec.Set(args[0], secretDescription, value); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Secret %q saved\n", args[0])
		return nil
	}),
}

var vaultGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Decrypt and print a secret",
	Args:  cobra.ExactArgs(1),
	RunE: withSecrets(func(cmd *cobra.Command, sec *vault.Secrets, args []string) error {
		value, err := sec.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), value)
		if !strings.HasSuffix(value, "\n") {
			fmt.Fprintln(cmd.OutOrStdout())
		}
		return nil
	}),
}

var vaultDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a secret",
	Args:  cobra.ExactArgs(1),
	RunE: withSecrets(func(cmd *cobra.Command, sec *vault.Secrets, args []string) error {
		if err := sec.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Secret %q deleted\n", args[0])
		return nil
	}),
}

func init() {
	vaultSetCmd.Flags().StringVar(&secretValue, "value", "", "secret value")
	vaultSetCmd.Flags().StringVar(&secretFile, "file", "", "read the secret value from a file")
	vaultSetCmd.Flags().StringVar(&secretDescription, "description", "", "what the secret is for")
	vaultSetCmd.MarkFlagsMutuallyExclusive("value", "file")
	vaultSetCmd.MarkFlagsOneRequired("value", "file")

	vaultCmd.AddCommand(vaultListCmd, vaultSetCmd, vaultGetCmd, vaultDeleteCmd)
}

// withSecrets opens the store and the vault around a vault subcommand.
func withSecrets(fn func(cmd *cobra.Command, sec *vault.Secrets, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Vault.Passphrase == "" {
			return errors.New("RELAY_VAULT_PASSPHRASE environment variable is required")
		}

		db, err := store.New(cfg.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		return fn(cmd, vault.NewSecrets(vault.New(cfg.Vault.Passphrase), db), args)
	}
}

func secretInput() (string, error) {
	if secretFile == "" {
		return secretValue, nil
	}
	data, err := os.ReadFile(secretFile)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}

package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/segmentkeeper/internal/core/auth"
	"github.com/solatis/segmentkeeper/internal/core/config"
)

var (
	keyTenant   string
	keyName     string
	keySecretID string
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Issue and revoke tenant API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a new API key",
	Long: `Create issues a key for a tenant. Only the HMAC of the key is stored,
so the printed key cannot be recovered later.`,
	RunE: runAPIKeyCreate,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAPIKeyRevoke,
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyRevokeCmd)
	apikeyCmd.PersistentFlags().StringVar(&keyTenant, "tenant", "", "tenant id")
	_ = apikeyCmd.MarkPersistentFlagRequired("tenant")
	apikeyCreateCmd.Flags().StringVar(&keyName, "name", "", "human readable key name")
	apikeyCreateCmd.Flags().StringVar(&keySecretID, "secret-id", "", "HMAC secret id (defaults to the lowest configured id)")
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no HMAC secrets configured (set SK_HMAC_SECRET environment variable)")
	}
	secretID := keySecretID
	if secretID == "" {
		ids := make([]string, 0, len(secrets))
		for id := range secrets {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		secretID = ids[0]
	}

	database, queries, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	issued, err := auth.CreateAPIKey(ctx, queries, secrets, secretID, keyTenant, keyName, time.Now())
	if err != nil {
		return err
	}
	return printJSON(cmd, issued)
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	database, queries, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := auth.RevokeAPIKey(ctx, queries, keyTenant, args[0], time.Now()); err != nil {
		return fmt.Errorf("failed to revoke %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
	return nil
}

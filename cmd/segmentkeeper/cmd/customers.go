package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/segmentkeeper/internal/core/db"
	"github.com/solatis/segmentkeeper/internal/types"
)

var importTenant string

var customersCmd = &cobra.Command{
	Use:   "customers",
	Short: "Manage customer records",
}

var customersImportCmd = &cobra.Command{
	Use:   "import <customers.json|->",
	Short: "Upsert customers from a JSON array",
	Long: `Import reads a JSON array of customers and upserts each one for the
given tenant, keyed by externalCustomerId. Existing tags are replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: runCustomersImport,
}

func init() {
	rootCmd.AddCommand(customersCmd)
	customersCmd.AddCommand(customersImportCmd)
	customersImportCmd.Flags().StringVar(&importTenant, "tenant", "", "tenant that owns the customers")
	_ = customersImportCmd.MarkFlagRequired("tenant")
}

func runCustomersImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	data, err := readInput(cmd, args[0])
	if err != nil {
		return fmt.Errorf("failed to read customers: %w", err)
	}
	var customers []types.Customer
	if err := json.Unmarshal(data, &customers); err != nil {
		return fmt.Errorf("customers must be a JSON array: %w", err)
	}

	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, "import")

	database, queries, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	store := db.NewCustomerStore(queries)
	var created, updated int
	for i, c := range customers {
		c.Owner = importTenant
		if c.ExternalID == "" {
			return fmt.Errorf("customer %d: externalCustomerId is required", i)
		}
		_, isNew, err := store.Upsert(ctx, c)
		if err != nil {
			return fmt.Errorf("customer %q: %w", c.ExternalID, err)
		}
		if isNew {
			created++
		} else {
			updated++
		}
	}

	logger.Info().
		Str("tenant_id", importTenant).
		Int("created", created).
		Int("updated", updated).
		Msg("customers imported")
	fmt.Fprintf(cmd.OutOrStdout(), "created %d, updated %d\n", created, updated)
	return nil
}

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solatis/segmentkeeper/internal/predicate"
	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/types"
)

var validateCmd = &cobra.Command{
	Use:   "validate <rules.json|->",
	Short: "Validate a rule tree and print its compiled predicate",
	Long: `Validate checks a rule tree locally against the field registry. Valid
trees are compiled and printed as a predicate; invalid trees list every
violation and exit non-zero.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, args[0])
	if err != nil {
		return fmt.Errorf("failed to read rule tree: %w", err)
	}

	out := cmd.OutOrStdout()
	node, err := types.DecodeRuleTree(data)
	if err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			for _, v := range verr.Violations {
				fmt.Fprintln(out, v.String())
			}
		}
		return fmt.Errorf("invalid rule tree: %w", err)
	}

	engine := rules.NewEngine()
	result := engine.Validate(node)
	if !result.Valid {
		for _, v := range result.Violations {
			fmt.Fprintln(out, v.String())
		}
		return fmt.Errorf("invalid rule tree: %d violation(s)", len(result.Violations))
	}

	pred, err := engine.Compile(node, engine.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, predicate.Format(pred))
	return nil
}

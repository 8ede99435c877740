package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/solatis/segmentkeeper/internal/core/api"
	"github.com/solatis/segmentkeeper/internal/core/auth"
)

var (
	previewAddr       string
	previewAPIKey     string
	previewSampleSize int
	previewTimeout    time.Duration
)

var previewCmd = &cobra.Command{
	Use:   "preview <rules.json|->",
	Short: "Preview the audience of a rule tree against a running server",
	Args:  cobra.ExactArgs(1),
	RunE:  runPreview,
}

func init() {
	rootCmd.AddCommand(previewCmd)
	previewCmd.Flags().StringVar(&previewAddr, "addr", "localhost:50061", "server address")
	previewCmd.Flags().StringVar(&previewAPIKey, "api-key", "", "API key (defaults to SK_API_KEY)")
	previewCmd.Flags().IntVar(&previewSampleSize, "sample-size", 0, "number of sample customers (0 uses the server default)")
	previewCmd.Flags().DurationVar(&previewTimeout, "timeout", 30*time.Second, "request timeout")
}

func runPreview(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, args[0])
	if err != nil {
		return fmt.Errorf("failed to read rule tree: %w", err)
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("rule tree is not valid JSON: %w", err)
	}

	key := previewAPIKey
	if key == "" {
		key = os.Getenv("SK_API_KEY")
	}
	if key == "" {
		return fmt.Errorf("an API key is required (--api-key or SK_API_KEY)")
	}

	conn, err := grpc.NewClient(previewAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", previewAddr, err)
	}
	defer conn.Close()

	req := map[string]any{"rules": tree}
	if previewSampleSize > 0 {
		req["sampleSize"] = previewSampleSize
	}

	ctx, cancel := contextWithTimeout(cmd, previewTimeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, auth.MetadataKey, key)

	resp, err := api.NewClient(conn).Call(ctx, api.MethodPreviewAudience, req)
	if err != nil {
		return err
	}
	return printJSON(cmd, resp)
}

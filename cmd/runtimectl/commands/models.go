package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/super-agent/runtime/internal/config"
	"github.com/super-agent/runtime/internal/provider"
	"github.com/super-agent/runtime/pkg/types"
)

var modelsVerbose bool

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List available models",
	Long: `List all available models from configured providers.

Examples:
  runtimectl models              # List all models
  runtimectl models anthropic    # List only Anthropic models
  runtimectl models --verbose    # Show pricing information`,
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().BoolVarP(&modelsVerbose, "verbose", "v", false, "Include metadata like costs")
}

func runModels(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	ctx := context.Background()
	providerReg, err := provider.InitializeProviders(ctx, &types.Config{Model: cfg.DefaultModel})
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}

	var providerFilter string
	if len(args) > 0 {
		providerFilter = args[0]
	}

	models := providerReg.AllModels()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if modelsVerbose {
		fmt.Fprintln(w, "PROVIDER\tMODEL\tCONTEXT\tMAX OUTPUT\tINPUT PRICE\tOUTPUT PRICE\t")
	} else {
		fmt.Fprintln(w, "PROVIDER\tMODEL\tCONTEXT\tFEATURES\t")
	}

	for _, model := range models {
		if providerFilter != "" && model.ProviderID != providerFilter {
			continue
		}

		if modelsVerbose {
			fmt.Fprintf(w, "%s\t%s\t%dk\t%d\t$%.2f/1M\t$%.2f/1M\t\n",
				model.ProviderID, model.ID, model.ContextLength/1000,
				model.MaxOutputTokens, model.InputPrice, model.OutputPrice)
			continue
		}

		features := ""
		if model.SupportsVision {
			features += "vision "
		}
		if model.SupportsTools {
			features += "tools "
		}
		if model.SupportsReasoning {
			features += "reasoning "
		}
		fmt.Fprintf(w, "%s\t%s\t%dk\t%s\t\n", model.ProviderID, model.ID, model.ContextLength/1000, features)
	}

	return w.Flush()
}

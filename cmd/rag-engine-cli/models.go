package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/krira-ai/rag-engine/internal/gateway"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the configured LLM providers and their models",
		Long: `List every provider the gateway can route to, with the models allowed
for each. Model lists come from FASTROUTER_<PROVIDER>_MODEL_* environment
variables, falling back to the curated defaults.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp := gateway.ListModels()

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			providerHeading := color.New(color.FgCyan, color.Bold)
			paidBadge := color.New(color.FgYellow)
			freeBadge := color.New(color.FgGreen)

			for _, provider := range resp.Providers {
				providerHeading.Printf("%s", provider.Label)
				if provider.Description != "" {
					fmt.Printf("  %s", provider.Description)
				}
				fmt.Println()

				for _, model := range provider.Models {
					fmt.Printf("  %-44s %s", model.ID, model.Label)
					switch model.Badge {
					case "Paid":
						paidBadge.Printf("  [%s]", model.Badge)
					case "Free":
						freeBadge.Printf("  [%s]", model.Badge)
					}
					fmt.Println()
				}
				fmt.Println()
			}
			return nil
		},
	}
}

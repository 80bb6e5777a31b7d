package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/budget-autocat/internal/cli"
)

func categorizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categorize <description>",
		Short: "Categorize a single description without storing it",
		Long: `Run the categorization engine on a description and print the result.

Nothing is written to the database. Useful for checking a model or prompt.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCategorize,
	}

	cmd.Flags().String("model", "", "Try this model first, ahead of the fallback chain")

	return cmd
}

func runCategorize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	modelOverride, _ := cmd.Flags().GetString("model")
	description := strings.Join(args, " ")

	p, err := newPipeline(ctx, appConfig, modelOverride)
	if err != nil {
		return err
	}
	defer p.Close()

	result := p.engine.Categorize(ctx, description)
	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderResult(description, result))
	return nil
}

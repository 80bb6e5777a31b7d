package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Veraticus/budget-autocat/internal/cli"
	"github.com/Veraticus/budget-autocat/internal/model"
	"github.com/Veraticus/budget-autocat/internal/ofx"
	"github.com/Veraticus/budget-autocat/internal/worker"
)

func importOFXCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-ofx [files...]",
		Short: "Import transactions from OFX/QFX files and categorize them",
		Long: `Import transactions from OFX or QFX files exported from your bank.

New transactions are stored as pending and categorized in the background.
Transactions already in the database are skipped.

Examples:
  # Import a single file
  autocat import-ofx ~/Downloads/chase_jan.qfx

  # Import everything in a directory
  autocat import-ofx ~/Downloads/*.qfx`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImportOFX,
	}

	cmd.Flags().String("owner", defaultOwner, "Owner the imported transactions belong to")
	cmd.Flags().BoolP("dry-run", "d", false, "Parse files without saving or categorizing")

	return cmd
}

func runImportOFX(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	owner, _ := cmd.Flags().GetString("owner")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	out := cmd.OutOrStdout()

	files, err := expandFiles(args)
	if err != nil {
		return err
	}

	parser := ofx.NewParser(slog.Default())
	var parsed []model.Transaction
	for _, file := range files {
		txns, err := parseFile(cmd, parser, file, owner)
		if err != nil {
			slog.Error("Failed to parse file", "file", file, "error", err)
			fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("%s: %v", filepath.Base(file), err)))
			continue
		}
		fmt.Fprintf(out, "%s %d transactions\n", cli.KeyStyle.Render(filepath.Base(file)), len(txns))
		parsed = append(parsed, txns...)
	}

	if dryRun {
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("Dry run: %d transactions parsed, nothing saved", len(parsed))))
		return nil
	}
	if len(parsed) == 0 {
		return errors.New("no transactions found to import")
	}

	p, err := newPipeline(ctx, appConfig, "")
	if err != nil {
		return err
	}
	defer p.Close()

	inserted, err := p.store.SaveTransactions(ctx, parsed)
	if err != nil {
		return fmt.Errorf("failed to save transactions: %w", err)
	}
	if skipped := len(parsed) - len(inserted); skipped > 0 {
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("Skipped %d duplicate transactions", skipped)))
	}
	if len(inserted) == 0 {
		fmt.Fprintln(out, cli.FormatSuccess("Nothing new to categorize"))
		return nil
	}

	tally := cli.NewTally(cli.NewProgressBar(out, len(inserted), "Categorizing"))
	d := p.dispatcher(appConfig, func(o worker.Outcome) { tally.Record(o.Label()) })
	for _, txn := range inserted {
		d.ScheduleCategorization(txn.ID, txn.Description, txn.OwnerID)
	}

	drainErr := drain(ctx, d)
	fmt.Fprintln(out, tally.Summary())
	return drainErr
}

func parseFile(cmd *cobra.Command, parser *ofx.Parser, path, owner string) ([]model.Transaction, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided import path
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return parser.ParseFile(cmd.Context(), f, owner)
}

// expandFiles resolves glob patterns, keeping literal paths that exist.
func expandFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) > 0 {
			files = append(files, matches...)
			continue
		}
		if _, err := os.Stat(pattern); err == nil {
			files = append(files, pattern)
		} else {
			slog.Warn("No files found matching pattern", "pattern", pattern)
		}
	}

	if len(files) == 0 {
		return nil, errors.New("no files found to import")
	}
	return files, nil
}

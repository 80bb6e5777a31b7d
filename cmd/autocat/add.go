package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Veraticus/budget-autocat/internal/cli"
	"github.com/Veraticus/budget-autocat/internal/common"
	"github.com/Veraticus/budget-autocat/internal/model"
)

// defaultOwner scopes transactions when no owner is given.
const defaultOwner = "local"

func addCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <description>",
		Short: "Record a transaction and categorize it",
		Long: `Store a new pending transaction and categorize it in the background.

The command waits for categorization to finish and prints the stored result.

Example:
  autocat add "STARBUCKS #1234 SEATTLE" --amount -5.75`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAdd,
	}

	cmd.Flags().String("owner", defaultOwner, "Owner the transaction belongs to")
	cmd.Flags().Float64("amount", 0, "Transaction amount (negative for debits)")
	cmd.Flags().String("date", "", "Transaction date as YYYY-MM-DD (default: today)")

	return cmd
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	owner, _ := cmd.Flags().GetString("owner")
	amount, _ := cmd.Flags().GetFloat64("amount")
	dateStr, _ := cmd.Flags().GetString("date")

	now := time.Now()
	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if dateStr != "" {
		parsed, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return common.NewUserError(fmt.Sprintf("Invalid date %q, expected YYYY-MM-DD", dateStr), err)
		}
		date = parsed
	}

	p, err := newPipeline(ctx, appConfig, "")
	if err != nil {
		return err
	}
	defer p.Close()

	txn := model.Transaction{
		ID:          uuid.NewString(),
		OwnerID:     owner,
		Description: strings.Join(args, " "),
		Amount:      amount,
		Date:        date,
	}
	if err := p.store.CreateTransaction(ctx, &txn); err != nil {
		if errors.Is(err, common.ErrDuplicateEntry) {
			return common.NewUserError("An identical transaction is already recorded", err)
		}
		return fmt.Errorf("failed to store transaction: %w", err)
	}

	d := p.dispatcher(appConfig, nil)
	d.ScheduleCategorization(txn.ID, txn.Description, txn.OwnerID)
	if err := drain(ctx, d); err != nil {
		return err
	}

	stored, err := p.store.GetTransaction(ctx, txn.ID, txn.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to reload transaction: %w", err)
	}
	categories, err := p.store.GetCategories(ctx)
	if err != nil {
		return fmt.Errorf("failed to get categories: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTransaction(*stored, categoryByID(categories, stored.CategoryID)))
	return nil
}

package commands

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/droverdev/drover/internal/printer"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and fund tenant credit balances",
}

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance <tenant-id>",
	Short: "Show a tenant's available balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditsBalance,
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant <tenant-id> <amount>",
	Short: "Top up a tenant's available balance",
	Args:  cobra.ExactArgs(2),
	RunE:  runCreditsGrant,
}

var creditsHistoryCmd = &cobra.Command{
	Use:   "history <tenant-id>",
	Short: "Show a tenant's ledger rows in append order",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditsHistory,
}

func init() {
	creditsCmd.AddCommand(creditsBalanceCmd)
	creditsCmd.AddCommand(creditsGrantCmd)
	creditsCmd.AddCommand(creditsHistoryCmd)
	rootCmd.AddCommand(creditsCmd)
}

func runCreditsBalance(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	engine, err := newEngine()
	if err != nil {
		return err
	}

	balance, err := engine.Balance(ctx, args[0])
	if err != nil {
		return printer.Error("Failed to read balance", err.Error(), nil)
	}

	printer.Printf("%d\n", balance)
	return nil
}

func runCreditsGrant(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	tenantID := args[0]

	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		return printer.Error("Invalid amount", "Grant amount must be a positive integer.", nil)
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}

	if _, err := engine.GrantCredits(ctx, tenantID, amount, "operator grant"); err != nil {
		return printer.Error("Failed to grant credits", err.Error(), nil)
	}

	balance, err := engine.Balance(ctx, tenantID)
	if err != nil {
		return printer.Error("Failed to read balance", err.Error(), nil)
	}

	printer.Success("Granted %d credits to %s (balance now %d)\n", amount, tenantID, balance)
	return nil
}

func runCreditsHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	engine, err := newEngine()
	if err != nil {
		return err
	}

	entries, err := engine.LedgerEntries(ctx, args[0])
	if err != nil {
		return printer.Error("Failed to read ledger", err.Error(), nil)
	}

	if len(entries) == 0 {
		printer.Println("No ledger entries.")
		return nil
	}

	printer.Printf("%-9s %-10s %-36s %s\n", "OP", "AMOUNT", "JOB", "NOTE")
	for _, entry := range entries {
		printer.Printf("%-9s %-10d %-36s %s\n",
			entry.Operation, entry.Amount, entry.JobID, entry.Context)
	}

	return nil
}

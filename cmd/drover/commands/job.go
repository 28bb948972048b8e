package commands

import (
	"context"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverdev/drover/internal/printer"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and manage jobs",
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	RunE:  runJobList,
}

var jobGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show a job and its items",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobGet,
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Long: `Cancel a job. Pending items are cancelled and their reservation refunded;
items already claimed resolve naturally and are not interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobCancel,
}

func init() {
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobGetCmd)
	jobCmd.AddCommand(jobCancelCmd)
	rootCmd.AddCommand(jobCmd)
}

func runJobList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	engine, err := newEngine()
	if err != nil {
		return err
	}

	jobs, err := engine.ListJobs(ctx)
	if err != nil {
		return printer.Error("Failed to list jobs", err.Error(), nil)
	}

	if len(jobs) == 0 {
		printer.Println("No jobs found.")
		return nil
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAtMs < jobs[j].CreatedAtMs
	})

	printer.Printf("%-36s %-16s %-10s %-18s %s\n", "JOB", "TASK", "STATUS", "ITEMS (DONE/FAIL)", "CREDITS")
	for _, job := range jobs {
		printer.Printf("%-36s %-16s %-10s %d (%d/%d)            %d reserved, %d spent\n",
			job.ID, job.Task, job.Status,
			job.TotalItems, job.CompletedItems, job.FailedItems,
			job.CreditsReserved, job.CreditsSpent,
		)
	}

	return nil
}

func runJobGet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	jobID := args[0]

	engine, err := newEngine()
	if err != nil {
		return err
	}

	job, err := engine.GetJob(ctx, jobID)
	if err != nil {
		return printer.Error("Failed to get job", err.Error(), nil)
	}

	printer.Printf("Job:        %s\n", job.ID)
	printer.Printf("Task:       %s\n", job.Task)
	printer.Printf("Tenant:     %s\n", job.TenantID)
	printer.Printf("Status:     %s\n", job.Status)
	printer.Printf("Items:      %d total, %d completed, %d failed, %d cancelled\n",
		job.TotalItems, job.CompletedItems, job.FailedItems, job.CancelledItems)
	printer.Printf("Credits:    %d reserved, %d spent, %d refunded\n",
		job.CreditsReserved, job.CreditsSpent, job.CreditsRefunded)
	printer.Printf("Created:    %s\n", time.UnixMilli(job.CreatedAtMs).Format(time.RFC3339))
	if job.CompletedAtMs > 0 {
		printer.Printf("Finished:   %s\n", time.UnixMilli(job.CompletedAtMs).Format(time.RFC3339))
	}

	items, err := engine.ListItems(ctx, jobID)
	if err != nil {
		return printer.Error("Failed to list items", err.Error(), nil)
	}

	if len(items) > 0 {
		printer.Printf("\n%-5s %-36s %-10s %-8s %s\n", "IDX", "ITEM", "STATUS", "RETRIES", "WORKER")
		for _, item := range items {
			printer.Printf("%-5d %-36s %-10s %-8d %s\n",
				item.ItemIndex, item.ID, item.Status, item.RetryCount, item.WorkerInstanceID)
		}
	}

	return nil
}

func runJobCancel(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	jobID := args[0]

	engine, err := newEngine()
	if err != nil {
		return err
	}

	result, err := engine.CancelJob(ctx, jobID)
	if err != nil {
		return printer.Error("Failed to cancel job", err.Error(),
			[]string{"Terminal jobs cannot be cancelled"})
	}

	printer.Success("Cancelled %d items, refunded %d credits\n",
		result.CancelledItems, result.CreditsRefunded)
	return nil
}

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskCompleteCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskDeleteCmd)
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Complete a task, advancing its sequence if it has one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		org, err := requireOrg()
		if err != nil {
			return err
		}

		svc, err := buildServices(ctx)
		if err != nil {
			return err
		}
		defer svc.database.Close()

		task, err := svc.tasks.Complete(ctx, org, args[0])
		if err != nil {
			return err
		}

		if jsonOutput {
			return writeJSON(task)
		}
		fmt.Fprintf(os.Stdout, "Task %q completed\n", task.Name)
		return nil
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task without completing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		org, err := requireOrg()
		if err != nil {
			return err
		}

		svc, err := buildServices(ctx)
		if err != nil {
			return err
		}
		defer svc.database.Close()

		task, err := svc.tasks.Cancel(ctx, org, args[0])
		if err != nil {
			return err
		}

		if jsonOutput {
			return writeJSON(task)
		}
		fmt.Fprintf(os.Stdout, "Task %q cancelled\n", task.Name)
		return nil
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		org, err := requireOrg()
		if err != nil {
			return err
		}

		svc, err := buildServices(ctx)
		if err != nil {
			return err
		}
		defer svc.database.Close()

		if err := svc.tasks.Delete(ctx, org, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Task %s deleted\n", args[0])
		return nil
	},
}

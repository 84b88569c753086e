package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tablelift/cadence/internal/instance"
	"github.com/tablelift/cadence/internal/models"
)

var (
	sequenceStartTemplate   string
	sequenceStartRestaurant string
	sequenceStartOwner      string
)

func init() {
	rootCmd.AddCommand(sequenceCmd)
	sequenceCmd.AddCommand(sequenceStartCmd)
	sequenceCmd.AddCommand(sequencePauseCmd)
	sequenceCmd.AddCommand(sequenceResumeCmd)
	sequenceCmd.AddCommand(sequenceCancelCmd)
	sequenceCmd.AddCommand(sequenceStatusCmd)

	sequenceStartCmd.Flags().StringVar(&sequenceStartTemplate, "template", "", "template ID to start")
	sequenceStartCmd.Flags().StringVar(&sequenceStartRestaurant, "restaurant", "", "restaurant ID to run against")
	sequenceStartCmd.Flags().StringVar(&sequenceStartOwner, "owner", "", "assigned owner for generated tasks")
	_ = sequenceStartCmd.MarkFlagRequired("template")
	_ = sequenceStartCmd.MarkFlagRequired("restaurant")
}

var sequenceCmd = &cobra.Command{
	Use:   "sequence",
	Short: "Manage sequence instances",
}

var sequenceStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a template against a restaurant",
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

		result, err := svc.instances.Start(ctx, org, instance.StartInput{
			TemplateID:    sequenceStartTemplate,
			RestaurantID:  sequenceStartRestaurant,
			AssignedOwner: sequenceStartOwner,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			return writeJSON(result)
		}
		fmt.Fprintf(os.Stdout, "Sequence started (ID: %s, %d tasks created)\n",
			result.Instance.ID, result.TasksCreated)
		return nil
	},
}

var sequencePauseCmd = &cobra.Command{
	Use:   "pause <instance-id>",
	Short: "Pause an active sequence instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sequenceTransition(args[0], func(ctx context.Context, svc *services, org string) (*models.SequenceInstance, error) {
			return svc.instances.Pause(ctx, org, args[0])
		})
	},
}

var sequenceResumeCmd = &cobra.Command{
	Use:   "resume <instance-id>",
	Short: "Resume a paused sequence instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sequenceTransition(args[0], func(ctx context.Context, svc *services, org string) (*models.SequenceInstance, error) {
			return svc.instances.Resume(ctx, org, args[0])
		})
	},
}

var sequenceCancelCmd = &cobra.Command{
	Use:   "cancel <instance-id>",
	Short: "Cancel a sequence instance and its open tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sequenceTransition(args[0], func(ctx context.Context, svc *services, org string) (*models.SequenceInstance, error) {
			return svc.instances.Cancel(ctx, org, args[0])
		})
	},
}

func sequenceTransition(id string, fn func(ctx context.Context, svc *services, org string) (*models.SequenceInstance, error)) error {
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

	inst, err := fn(ctx, svc, org)
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(inst)
	}
	fmt.Fprintf(os.Stdout, "Sequence %s is now %s\n", id, inst.Status)
	return nil
}

var sequenceStatusCmd = &cobra.Command{
	Use:   "status <instance-id>",
	Short: "Show a sequence instance and its tasks",
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

		inst, err := svc.instances.Get(ctx, org, args[0])
		if err != nil {
			return err
		}
		taskList, err := svc.tasks.ListForInstance(ctx, org, args[0])
		if err != nil {
			return err
		}

		if jsonOutput {
			return writeJSON(map[string]any{"instance": inst, "tasks": taskList})
		}

		fmt.Fprintf(os.Stdout, "Instance %s: %s (step %d of %d)\n",
			inst.ID, inst.Status, inst.CurrentStepOrder, inst.TotalSteps)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STEP\tNAME\tTYPE\tSTATUS\tDUE")
		for _, t := range taskList {
			due := "-"
			if t.DueDate != nil {
				due = t.DueDate.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", t.SequenceStepOrder, t.Name, t.Type, t.Status, due)
		}
		return w.Flush()
	},
}

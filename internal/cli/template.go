package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tablelift/cadence/internal/sequences"
)

var templateCreateFile string

func init() {
	rootCmd.AddCommand(templateCmd)
	templateCmd.AddCommand(templateListCmd)
	templateCmd.AddCommand(templateShowCmd)
	templateCmd.AddCommand(templateCreateCmd)
	templateCmd.AddCommand(templateDeleteCmd)

	templateCreateCmd.Flags().StringVar(&templateCreateFile, "file", "", "JSON file with the template definition")
	_ = templateCreateCmd.MarkFlagRequired("file")
}

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage sequence templates",
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sequence templates",
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

		tmpls, err := svc.templates.ListTemplates(ctx, org)
		if err != nil {
			return err
		}

		if jsonOutput {
			return writeJSON(tmpls)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTEPS\tACTIVE")
		for _, t := range tmpls {
			fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", t.ID, t.Name, len(t.Steps), t.Active)
		}
		return w.Flush()
	},
}

var templateShowCmd = &cobra.Command{
	Use:   "show <template-id>",
	Short: "Show a template and its steps",
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

		tmpl, err := svc.templates.GetTemplate(ctx, org, args[0])
		if err != nil {
			return err
		}

		if jsonOutput {
			return writeJSON(tmpl)
		}

		fmt.Fprintf(os.Stdout, "%s (%s)\n", tmpl.Name, tmpl.ID)
		if tmpl.Description != "" {
			fmt.Fprintln(os.Stdout, tmpl.Description)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STEP\tNAME\tTYPE\tDELAY")
		for _, step := range tmpl.Steps {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d %s\n", step.StepOrder, step.Name, step.Type, step.DelayValue, step.DelayUnit)
		}
		return w.Flush()
	},
}

var templateCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a template from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		org, err := requireOrg()
		if err != nil {
			return err
		}

		data, err := os.ReadFile(templateCreateFile)
		if err != nil {
			return err
		}
		var input sequences.CreateTemplateInput
		if err := json.Unmarshal(data, &input); err != nil {
			return fmt.Errorf("failed to parse %s: %w", templateCreateFile, err)
		}

		svc, err := buildServices(ctx)
		if err != nil {
			return err
		}
		defer svc.database.Close()

		tmpl, err := svc.templates.CreateTemplate(ctx, org, input)
		if err != nil {
			return err
		}

		if jsonOutput {
			return writeJSON(tmpl)
		}
		fmt.Fprintf(os.Stdout, "Template %q created (ID: %s, %d steps)\n", tmpl.Name, tmpl.ID, len(tmpl.Steps))
		return nil
	},
}

var templateDeleteCmd = &cobra.Command{
	Use:   "delete <template-id>",
	Short: "Delete a template with no live instances",
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

		if err := svc.templates.DeleteTemplate(ctx, org, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Template %s deleted\n", args[0])
		return nil
	},
}

// Package cli provides the cadence command line interface.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tablelift/cadence/internal/config"
	"github.com/tablelift/cadence/internal/db"
	"github.com/tablelift/cadence/internal/events"
	"github.com/tablelift/cadence/internal/instance"
	"github.com/tablelift/cadence/internal/logging"
	"github.com/tablelift/cadence/internal/progression"
	"github.com/tablelift/cadence/internal/qualify"
	"github.com/tablelift/cadence/internal/render"
	"github.com/tablelift/cadence/internal/sequences"
	"github.com/tablelift/cadence/internal/tasks"
)

var (
	configPath string
	dbOverride string
	orgFlag    string
	logLevel   string
	jsonOutput bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "Sales sequence engine",
	Long:  "Cadence runs multi-step outreach sequences against restaurant leads: templates, instances, and the tasks they generate.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		if dbOverride != "" {
			cfg.DBPath = dbOverride
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbOverride, "db", "", "sqlite database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&orgFlag, "org", "", "organization ID (defaults to config default_org)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit JSON output")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openDatabase(ctx context.Context) (*db.DB, error) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// services bundles the wired service layer for CLI commands.
type services struct {
	database  *db.DB
	templates *sequences.Store
	instances *instance.Service
	tasks     *tasks.Service

	restaurantRepo *db.RestaurantRepository
	instanceRepo   *db.InstanceRepository
	taskRepo       *db.TaskRepository
	eventRepo      *db.EventRepository
}

func buildServices(ctx context.Context) (*services, error) {
	database, err := openDatabase(ctx)
	if err != nil {
		return nil, err
	}

	templateRepo := db.NewTemplateRepository(database)
	instanceRepo := db.NewInstanceRepository(database)
	taskRepo := db.NewTaskRepository(database)
	restaurantRepo := db.NewRestaurantRepository(database)
	eventRepo := db.NewEventRepository(database)

	var eventSink events.Repository = eventRepo
	engine := progression.NewEngine(instanceRepo, taskRepo, eventSink)

	return &services{
		database:  database,
		templates: sequences.NewStore(templateRepo),
		instances: instance.NewService(
			database, templateRepo, instanceRepo, taskRepo, restaurantRepo,
			eventSink, render.New(), qualify.NewLogSyncer(eventSink),
		),
		tasks:          tasks.NewService(database, taskRepo, engine),
		restaurantRepo: restaurantRepo,
		instanceRepo:   instanceRepo,
		taskRepo:       taskRepo,
		eventRepo:      eventRepo,
	}, nil
}

func requireOrg() (string, error) {
	if orgFlag != "" {
		return orgFlag, nil
	}
	if cfg.DefaultOrg != "" {
		return cfg.DefaultOrg, nil
	}
	return "", fmt.Errorf("no organization given: pass --org or set default_org in config")
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"datavault/internal/backends"
	"datavault/internal/config"
	"datavault/internal/placement"
	"datavault/internal/repo"
	"datavault/internal/store"
)

func main() {
	app := &cli.App{
		Name:  "vaultctl",
		Usage: "Operational tooling for the datavault persistence layer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to .env file with backend configuration",
				Value: ".env",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "backend",
				Usage:  "Show the active backend kind",
				Action: backendCommand,
			},
			{
				Name:   "datasets",
				Usage:  "List stored datasets",
				Action: datasetsCommand,
			},
			{
				Name:   "workspaces",
				Usage:  "List workspaces for a dataset",
				Action: workspacesCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "dataset",
						Aliases:  []string{"d"},
						Usage:    "Dataset ID",
						Required: true,
					},
				},
			},
			{
				Name:   "audit",
				Usage:  "Find blobs no metadata record references",
				Action: auditCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "remove",
						Usage: "Delete orphaned blobs after reporting them",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// openRepository loads configuration and stands up a repository on the
// configured backend. The caller owns the returned close func.
func openRepository(c *cli.Context) (*repo.Repository, func(), error) {
	if err := config.LoadDotEnv(c.String("env-file")); err != nil {
		return nil, nil, fmt.Errorf("loading env file: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	factory, err := store.NewFactory(c.Context, cfg.Backend, backends.All(cfg)...)
	if err != nil {
		return nil, nil, fmt.Errorf("starting %s backend: %w", cfg.Backend, err)
	}
	router := placement.Router{
		InlineThreshold:   cfg.InlineThreshold,
		CompressThreshold: cfg.CompressThreshold,
	}
	r := repo.New(factory, router, cfg.PreviewRows)

	closer := func() {
		if err := factory.Close(); err != nil {
			slog.Warn("closing backend", "error", err)
		}
	}
	return r, closer, nil
}

func backendCommand(c *cli.Context) error {
	r, closer, err := openRepository(c)
	if err != nil {
		return err
	}
	defer closer()

	fmt.Println(r.CurrentBackend())
	return nil
}

func datasetsCommand(c *cli.Context) error {
	r, closer, err := openRepository(c)
	if err != nil {
		return err
	}
	defer closer()

	datasets, err := r.ListDatasets(c.Context)
	if err != nil {
		return fmt.Errorf("listing datasets: %w", err)
	}
	if len(datasets) == 0 {
		fmt.Fprintln(os.Stderr, "no datasets")
		return nil
	}
	for _, d := range datasets {
		fmt.Printf("%s\t%s\t%d rows\t%d bytes\t%s\n",
			d.ID, d.Name, d.RowCount, d.Placement.OriginalSize, d.Placement.Kind)
	}
	return nil
}

func workspacesCommand(c *cli.Context) error {
	datasetID, err := uuidFlag(c, "dataset")
	if err != nil {
		return err
	}

	r, closer, err := openRepository(c)
	if err != nil {
		return err
	}
	defer closer()

	summaries, err := r.ListWorkspaces(c.Context, datasetID)
	if err != nil {
		return fmt.Errorf("listing workspaces: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(os.Stderr, "no workspaces")
		return nil
	}
	for _, w := range summaries {
		fmt.Printf("%s\t%s\t%d bytes\t%s\n", w.ID, w.Name, w.SizeBytes, w.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func auditCommand(c *cli.Context) error {
	r, closer, err := openRepository(c)
	if err != nil {
		return err
	}
	defer closer()

	report, err := r.Audit(c.Context, c.Bool("remove"))
	if err != nil {
		return fmt.Errorf("audit failed: %w", err)
	}

	if len(report.Orphans) == 0 {
		fmt.Fprintln(os.Stderr, "no orphaned blobs")
		return nil
	}
	for _, ref := range report.Orphans {
		fmt.Printf("%s\t%d bytes\n", ref.Key, ref.ByteLength)
	}
	fmt.Fprintf(os.Stderr, "%d orphaned blobs found, %d removed\n", len(report.Orphans), report.Removed)
	return nil
}

func uuidFlag(c *cli.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.String(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q: %w", name, c.String(name), err)
	}
	return id, nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

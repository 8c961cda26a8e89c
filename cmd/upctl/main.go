// Command upctl enqueues and inspects upload requests directly against the
// queue database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"upqueue/internal/config"
	"upqueue/internal/dispatch"
	"upqueue/internal/domain"
	"upqueue/internal/port"
	"upqueue/internal/repository/postgres"
	"upqueue/internal/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:          "upctl",
		Short:        "Manage queued upload requests",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "Timeout for database operations")

	rootCmd.AddCommand(a.enqueueCmd(), a.statusCmd(), a.listCmd(), a.cancelCmd())
	return rootCmd
}

// withService opens the database, runs fn and closes it again.
func (a *app) withService(fn func(ctx context.Context, svc service.UploadService) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	db, err := postgres.NewDB(ctx, &cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	var results port.ResultStore = postgres.NewCallbackResultRepo(db)
	if cfg.Results.Store == "memory" {
		// Results live in the server process; status only shows the request row.
		if results, err = dispatch.NewMemoryResultStore(1); err != nil {
			return err
		}
	}

	svc := service.NewUploadService(postgres.NewUploadRequestRepo(db), results, cfg.Policy.ToPolicy(), cfg.S3.MaxFileSize)
	return fn(ctx, svc)
}

func (a *app) enqueueCmd() *cobra.Command {
	var (
		input      service.EnqueueInput
		resourceID int
		options    string
		maxRetries int
		network    string
		backoff    string
		backoffMs  int64
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue an upload of a file, uri or bundled resource",
		Example: `  upctl enqueue --file ./photo.jpg --options '{"folder":"avatars"}'
  upctl enqueue --uri s3://bucket/key.png --max-retries 3 --network none
  upctl enqueue --resource 2 --unsigned`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("resource") {
				input.ResourceID = &resourceID
			}
			if options != "" {
				if err := json.Unmarshal([]byte(options), &input.Options); err != nil {
					return fmt.Errorf("--options must be a JSON object: %w", err)
				}
			}
			if cmd.Flags().Changed("max-retries") || network != "" || backoff != "" || backoffMs > 0 {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				policy := cfg.Policy.ToPolicy()
				if cmd.Flags().Changed("max-retries") {
					policy.MaxRetries = maxRetries
				}
				if network != "" {
					policy.Network = domain.NetworkPolicy(network)
				}
				if backoff != "" {
					policy.Backoff = domain.BackoffPolicy(backoff)
				}
				if backoffMs > 0 {
					policy.BackoffMillis = backoffMs
				}
				input.Policy = &policy
			}

			return a.withService(func(ctx context.Context, svc service.UploadService) error {
				req, err := svc.Enqueue(ctx, input)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]interface{}{"id": req.ID, "status": req.Status})
			})
		},
	}
	cmd.Flags().StringVar(&input.FilePath, "file", "", "Path of a local file to upload")
	cmd.Flags().StringVar(&input.URI, "uri", "", "Content URI to upload (file:// or s3://)")
	cmd.Flags().IntVar(&resourceID, "resource", 0, "Id of a bundled resource to upload")
	cmd.Flags().StringVar(&options, "options", "", "Upload options as a JSON object")
	cmd.Flags().BoolVar(&input.Unsigned, "unsigned", false, "Skip request signing")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retries allowed for transient failures")
	cmd.Flags().StringVar(&network, "network", "", "Network precondition: any or none")
	cmd.Flags().StringVar(&backoff, "backoff", "", "Backoff policy: linear or exponential")
	cmd.Flags().Int64Var(&backoffMs, "backoff-millis", 0, "Base backoff delay in milliseconds")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show an upload request and its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(ctx context.Context, svc service.UploadService) error {
				view, err := svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				out := map[string]interface{}{
					"id":          view.Request.ID,
					"status":      view.Request.Status,
					"attempts":    view.Request.Attempts,
					"last_error":  view.Request.LastError.String(),
					"next_run_at": view.Request.NextRunAt,
				}
				if view.Result != nil {
					out["result"] = view.Result
				}
				return printJSON(cmd, out)
			})
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List upload requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(ctx context.Context, svc service.UploadService) error {
				reqs, total, err := svc.List(ctx, domain.RequestStatus(status), offset, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]interface{}{"total": total, "requests": reqs})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only list requests in this status")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of requests")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of requests to skip")
	return cmd
}

func (a *app) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending upload request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(func(ctx context.Context, svc service.UploadService) error {
				if err := svc.Cancel(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "canceled %s\n", args[0])
				return nil
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"mediagen/internal/adapter/repo"
	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/infra/credentials"
	"mediagen/internal/orchestrator"
	"mediagen/internal/settings"
)

type rootOptions struct {
	databaseURL string
	apiURL      string
	timeout     time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "mediagenctl",
		Short:         "Operate the mediagen orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection string")
	root.PersistentFlags().StringVar(&opts.apiURL, "api", defaultAPIURL(), "Base URL of the mediagen API")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Timeout for each operation")

	root.AddCommand(newCredentialCmd(opts), newSettingsCmd(opts), newQueueCmd(opts))
	return root
}

func defaultAPIURL() string {
	if v := strings.TrimSpace(os.Getenv("MEDIAGEN_API_URL")); v != "" {
		return v
	}
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}
	return "http://localhost:" + port
}

// withRunner opens a short-lived pool for one command.
func (o *rootOptions) withRunner(cmd *cobra.Command, fn func(ctx context.Context, runner *infra.SQLRunner) error) error {
	if strings.TrimSpace(o.databaseURL) == "" {
		return errors.New("DATABASE_URL is required (flag --database-url or environment)")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, o.databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", cmd.CommandPath()).Logger()
	return fn(ctx, infra.NewSQLRunner(pool, logger))
}

func newCredentialCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "credential", Short: "Manage the provider credential pool"}

	var label, secret string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add an API key to the pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := strings.TrimSpace(secret)
			if key == "" {
				key = strings.TrimSpace(os.Getenv("VEO_API_KEY"))
			}
			if key == "" {
				return errors.New("API key is required via --secret or VEO_API_KEY")
			}
			return opts.withRunner(cmd, func(ctx context.Context, runner *infra.SQLRunner) error {
				id, err := credentials.NewStore(runner).Add(ctx, label, key)
				if err != nil {
					return fmt.Errorf("failed to store credential: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "credential %s stored (%s)\n", id, credentials.Mask(key))
				return nil
			})
		},
	}
	add.Flags().StringVar(&label, "label", "", "Human readable label")
	add.Flags().StringVar(&secret, "secret", "", "API key (defaults to VEO_API_KEY)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List pool credentials with masked secrets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withRunner(cmd, func(ctx context.Context, runner *infra.SQLRunner) error {
				creds, err := credentials.NewStore(runner).List(ctx)
				if err != nil {
					return err
				}
				printCredentials(cmd.OutOrStdout(), creds)
				return nil
			})
		},
	}

	setActive := func(use, short string, active bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withRunner(cmd, func(ctx context.Context, runner *infra.SQLRunner) error {
					if err := credentials.NewStore(runner).SetActive(ctx, args[0], active); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "credential %s %sd\n", args[0], use)
					return nil
				})
			},
		}
	}

	cmd.AddCommand(add, list,
		setActive("disable", "Take a credential out of rotation", false),
		setActive("enable", "Put a credential back into rotation", true),
	)
	return cmd
}

func printCredentials(w io.Writer, creds []domain.Credential) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tKEY\tACTIVE\tUSES\tLAST USED")
	for _, c := range creds {
		last := "-"
		if !c.LastUsedAt.IsZero() {
			last = c.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%s\n", c.ID, c.Label, credentials.Mask(c.Secret), c.Active, c.UsageCount, last)
	}
	_ = tw.Flush()
}

func newSettingsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "settings", Short: "Read and change batch pacing"}

	var (
		jobsPerBatch int
		delaySeconds int
		file         string
	)
	setBatch := &cobra.Command{
		Use:   "set-batch",
		Short: "Set jobs per batch and the delay between batches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b := domain.BatchSettings{JobsPerBatch: jobsPerBatch, InterBatchDelaySeconds: delaySeconds}
			if b.JobsPerBatch <= 0 || b.InterBatchDelaySeconds < 0 {
				return fmt.Errorf("invalid batch settings: jobs-per-batch must be positive and delay non-negative")
			}
			if file != "" {
				if err := settings.WriteFile(file, b); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "batch settings written to %s\n", file)
				return nil
			}
			return opts.withRunner(cmd, func(ctx context.Context, runner *infra.SQLRunner) error {
				if err := repo.NewSettingsRepository(runner).SetBatchSettings(ctx, b); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "batch settings updated: %d jobs every %ds\n", b.JobsPerBatch, b.InterBatchDelaySeconds)
				return nil
			})
		},
	}
	setBatch.Flags().IntVar(&jobsPerBatch, "jobs-per-batch", orchestrator.DefaultJobsPerBatch, "Jobs released per batch")
	setBatch.Flags().IntVar(&delaySeconds, "delay-seconds", int(orchestrator.DefaultInterBatchDelay/time.Second), "Seconds between batches")
	setBatch.Flags().StringVar(&file, "file", "", "Write a YAML settings file instead of the database")

	cmd.AddCommand(setBatch)
	return cmd
}

func newQueueCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "queue", Short: "Inspect the running orchestrator"}
	status := &cobra.Command{
		Use:   "status",
		Short: "Show queue length, batch activity and live pollers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			st, err := fetchQueueStatus(ctx, http.DefaultClient, opts.apiURL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue_length=%d processing=%t active_pollers=%d\n",
				st.QueueLength, st.IsProcessingBatch, st.ActivePollers)
			return nil
		},
	}
	cmd.AddCommand(status)
	return cmd
}

func fetchQueueStatus(ctx context.Context, client *http.Client, baseURL string) (orchestrator.Status, error) {
	endpoint := strings.TrimRight(baseURL, "/") + "/v1/queue/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return orchestrator.Status{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return orchestrator.Status{}, fmt.Errorf("queue status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return orchestrator.Status{}, fmt.Errorf("queue status: unexpected status %d", resp.StatusCode)
	}
	var st orchestrator.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return orchestrator.Status{}, fmt.Errorf("queue status: decode: %w", err)
	}
	return st, nil
}

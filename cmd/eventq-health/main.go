// Command eventq-health prints per-source queue health and recent
// failures, as text for operators or JSON for scripts and dashboards.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/velmie/eventq"
	"github.com/velmie/eventq/cmd/internal/clilog"
	"github.com/velmie/eventq/cmd/internal/storeconn"
)

const (
	exitUsage = 2

	defaultWindow = 24 * time.Hour
	defaultLimit  = 100
)

// healthStore is the slice of the store the report needs.
type healthStore interface {
	Health(ctx context.Context) ([]eventq.SourceHealth, error)
	RecentErrors(ctx context.Context, window time.Duration, limit int) ([]eventq.ErrorRecord, error)
}

type healthConfig struct {
	driver  string
	dsn     string
	table   string
	window  time.Duration
	limit   int
	watch   time.Duration
	jsonOut bool
}

func main() {
	clilog.LoadEnv()

	var cfg healthConfig

	flag.StringVar(&cfg.driver, "driver", clilog.EnvString("DRIVER", storeconn.DriverMySQL), "Database driver: mysql or postgres")
	flag.StringVar(&cfg.dsn, "dsn", clilog.EnvString("DSN", ""), "Database DSN")
	flag.StringVar(&cfg.table, "table", clilog.EnvString("TABLE", storeconn.DefaultTable), "Queue table name")
	flag.DurationVar(&cfg.window, "window", defaultWindow, "Recent error window")
	flag.IntVar(&cfg.limit, "limit", defaultLimit, "Max recent errors to show")
	flag.DurationVar(&cfg.watch, "watch", 0, "Repeat the report on this interval (0 prints once)")
	flag.BoolVar(&cfg.jsonOut, "json", false, "Print JSON instead of text")
	flag.Parse()

	if cfg.dsn == "" {
		fmt.Fprintln(os.Stderr, "dsn is required")
		flag.Usage()
		os.Exit(exitUsage)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg healthConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := storeconn.Open(ctx, storeconn.Config{
		Driver: cfg.driver,
		DSN:    cfg.dsn,
		Table:  cfg.table,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer conn.Close()

	if err := report(ctx, conn.Store, os.Stdout, cfg); err != nil {
		return err
	}
	if cfg.watch <= 0 {
		return nil
	}

	ticker := time.NewTicker(cfg.watch)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !cfg.jsonOut {
				fmt.Fprintln(os.Stdout)
			}
			if err := report(ctx, conn.Store, os.Stdout, cfg); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}

				return err
			}
		}
	}
}

func report(ctx context.Context, store healthStore, w io.Writer, cfg healthConfig) error {
	health, err := store.Health(ctx)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	recent, err := store.RecentErrors(ctx, cfg.window, cfg.limit)
	if err != nil {
		return fmt.Errorf("recent errors: %w", err)
	}

	if cfg.jsonOut {
		return writeJSON(w, health, recent)
	}

	return writeText(w, health, recent, cfg)
}

type sourceHealthJSON struct {
	Source              string  `json:"source"`
	Pending             int64   `json:"pending"`
	Processing          int64   `json:"processing"`
	Failed              int64   `json:"failed"`
	DeadLetter          int64   `json:"dead_letter"`
	Stuck               int64   `json:"stuck"`
	AvgProcessingTimeMS float64 `json:"avg_processing_time_ms"`
	OldestPendingAgeSec float64 `json:"oldest_pending_age_seconds"`
}

type errorRecordJSON struct {
	ID           int64     `json:"id"`
	Source       string    `json:"source"`
	EventType    string    `json:"event_type"`
	ExternalID   string    `json:"external_id"`
	ErrorMessage string    `json:"error_message"`
	RetryCount   int       `json:"retry_count"`
	Status       string    `json:"status"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type healthReportJSON struct {
	GeneratedAt  time.Time          `json:"generated_at"`
	Sources      []sourceHealthJSON `json:"sources"`
	RecentErrors []errorRecordJSON  `json:"recent_errors"`
}

func writeJSON(w io.Writer, health []eventq.SourceHealth, recent []eventq.ErrorRecord) error {
	out := healthReportJSON{
		GeneratedAt:  time.Now().UTC(),
		Sources:      make([]sourceHealthJSON, 0, len(health)),
		RecentErrors: make([]errorRecordJSON, 0, len(recent)),
	}
	for _, h := range health {
		out.Sources = append(out.Sources, sourceHealthJSON{
			Source:              string(h.Source),
			Pending:             h.Pending,
			Processing:          h.Processing,
			Failed:              h.Failed,
			DeadLetter:          h.DeadLetter,
			Stuck:               h.Stuck,
			AvgProcessingTimeMS: float64(h.AvgProcessingTime) / float64(time.Millisecond),
			OldestPendingAgeSec: h.OldestPendingAge.Seconds(),
		})
	}
	for _, r := range recent {
		out.RecentErrors = append(out.RecentErrors, errorRecordJSON{
			ID:           r.ID,
			Source:       string(r.Source),
			EventType:    r.EventType,
			ExternalID:   r.ExternalID,
			ErrorMessage: r.ErrorMessage,
			RetryCount:   r.RetryCount,
			Status:       string(r.Status),
			UpdatedAt:    r.UpdatedAt,
		})
	}

	return json.NewEncoder(w).Encode(out)
}

func writeText(w io.Writer, health []eventq.SourceHealth, recent []eventq.ErrorRecord, cfg healthConfig) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tPENDING\tPROCESSING\tFAILED\tDEAD\tSTUCK\tAVG\tOLDEST")
	for _, h := range health {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			h.Source,
			h.Pending,
			h.Processing,
			h.Failed,
			h.DeadLetter,
			h.Stuck,
			h.AvgProcessingTime.Truncate(time.Millisecond),
			h.OldestPendingAge.Truncate(time.Second),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nRECENT ERRORS (window %s, limit %d)\n", cfg.window, cfg.limit)
	if len(recent) == 0 {
		fmt.Fprintln(w, "none")

		return nil
	}

	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tEVENT\tEXTERNAL\tRETRIES\tSTATUS\tUPDATED\tERROR")
	for _, r := range recent {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID,
			r.Source,
			r.EventType,
			r.ExternalID,
			r.RetryCount,
			r.Status,
			r.UpdatedAt.UTC().Format(time.RFC3339),
			r.ErrorMessage,
		)
	}

	return tw.Flush()
}

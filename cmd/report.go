// File: cmd/report.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/layout-breaker/internal/observability"
	"github.com/xkilldash9x/layout-breaker/internal/store"
)

// storeOpener creates the manifest store named by a URL. Tests inject an
// in-memory store instead of a live database.
type storeOpener func(ctx context.Context, url string, logger *zap.Logger) (store.Store, error)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// newReportCmd creates and configures the `report` command.
func newReportCmd(open storeOpener) *cobra.Command {
	var executionID string
	var format string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Lists the manifest records of an execution",
		Long: `Reads the task records saved for an execution id from the configured store
(store.url) and prints one line per task with its capture count and indexes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cfg.Store.URL == "" {
				return fmt.Errorf("store url is not configured (LAYOUT_BREAKER_STORE_URL)")
			}
			return runReport(ctx, logger, cmd.OutOrStdout(), open, cfg.Store.URL, executionID, format)
		},
	}

	reportCmd.Flags().StringVar(&executionID, "execution-id", "", "The execution to report on (required)")
	_ = reportCmd.MarkFlagRequired("execution-id")
	reportCmd.Flags().StringVar(&format, "format", "table", "Output format: table or json.")

	return reportCmd
}

// runReport contains the core, testable logic of the report command.
func runReport(
	ctx context.Context,
	logger *zap.Logger,
	out io.Writer,
	open storeOpener,
	url, executionID, format string,
) error {
	if format != "table" && format != "json" {
		return fmt.Errorf("unsupported report format %q", format)
	}

	st, err := open(ctx, url, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("Failed to close store cleanly.", zap.Error(err))
		}
	}()

	records, err := st.ByExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}
	logger.Debug("Loaded execution records", zap.String("execution_id", executionID), zap.Int("records", len(records)))

	if format == "json" {
		return printRecordsJSON(out, records)
	}
	return printRecordsTable(out, executionID, records)
}

func printRecordsJSON(out io.Writer, records []store.Record) error {
	if records == nil {
		records = []store.Record{}
	}
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize records to JSON: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func printRecordsTable(out io.Writer, executionID string, records []store.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintf(out, "No records for execution %s.\n", executionID)
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("SITE", "VIEWPORT", "MANIPULATION", "CAPTURED", "INDEXES", "DURATION", "ERROR")

	for _, rec := range records {
		indices := make([]string, 0, len(rec.Captures))
		for _, idx := range rec.Indices() {
			indices = append(indices, strconv.Itoa(idx))
		}
		t.Row(
			rec.Site,
			rec.Viewport.String(),
			string(rec.Manipulation),
			fmt.Sprintf("%d/%d", len(rec.Captures), rec.Containers),
			strings.Join(indices, ","),
			rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond).String(),
			rec.Error,
		)
	}
	_, err := fmt.Fprintln(out, t.String())
	return err
}

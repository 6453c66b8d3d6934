package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/referlut/referlut-api/internal/domain"
)

// SnapshotRow is one exported statistics snapshot. The table is append-only
// analytics data; the serving snapshot stays in the primary store.
type SnapshotRow struct {
	UserID           string    `bigquery:"user_id"`
	TotalSpending    float64   `bigquery:"total_spending"`
	TotalIncome      float64   `bigquery:"total_income"`
	CategorySpending string    `bigquery:"category_spending"` // JSON
	MonthlySpending  string    `bigquery:"monthly_spending"`  // JSON
	WeeklySpending   string    `bigquery:"weekly_spending"`   // JSON
	TopMerchants     string    `bigquery:"top_merchants"`     // JSON
	SnapshotTS       time.Time `bigquery:"snapshot_ts"`
	ExportedTS       time.Time `bigquery:"exported_ts"`
}

// SnapshotSource lists the stored per-user snapshots to export.
type SnapshotSource interface {
	ListSnapshotUserIDs(ctx context.Context) ([]string, error)
	GetStatsSnapshot(ctx context.Context, userID string) (domain.StatsSnapshot, error)
}

type rowInserter interface {
	Put(ctx context.Context, src any) error
}

// BigQueryExporter appends every user's current statistics snapshot to an
// analytics table on each run.
type BigQueryExporter struct {
	client   *bigquery.Client
	inserter rowInserter
	source   SnapshotSource
	log      zerolog.Logger
	now      func() time.Time
}

// NewBigQueryExporter opens a BigQuery client using Application Default
// Credentials and targets project.dataset.table.
func NewBigQueryExporter(ctx context.Context, project, dataset, table string, source SnapshotSource, log zerolog.Logger) (*BigQueryExporter, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	return &BigQueryExporter{
		client:   client,
		inserter: client.DatasetInProject(project, dataset).Table(table).Inserter(),
		source:   source,
		log:      log,
		now:      time.Now,
	}, nil
}

// ExportOnce appends one row per stored snapshot. A snapshot that fails to
// load is skipped; the remaining users still export.
func (e *BigQueryExporter) ExportOnce(ctx context.Context) error {
	userIDs, err := e.source.ListSnapshotUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("export snapshots: list users: %w", err)
	}
	if len(userIDs) == 0 {
		return nil
	}

	exportedAt := e.now()
	rows := make([]*SnapshotRow, 0, len(userIDs))
	for _, userID := range userIDs {
		snap, err := e.source.GetStatsSnapshot(ctx, userID)
		if err != nil {
			e.log.Error().Err(err).Str("user_id", userID).Msg("Snapshot load failed, skipping export")
			continue
		}
		rows = append(rows, buildSnapshotRow(snap, exportedAt))
	}
	if len(rows) == 0 {
		return nil
	}

	if err := e.inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("export snapshots: inserting rows: %w", err)
	}
	e.log.Info().Int("rows", len(rows)).Msg("Statistics snapshots exported")
	return nil
}

// Schedule registers the export on the given cron schedule. Each run gets
// its own timeout-bounded context.
func (e *BigQueryExporter) Schedule(c *cron.Cron, schedule string) error {
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := e.ExportOnce(ctx); err != nil {
			e.log.Error().Err(err).Msg("Scheduled snapshot export failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule snapshot export %q: %w", schedule, err)
	}
	return nil
}

// Close releases the underlying BigQuery client.
func (e *BigQueryExporter) Close() error {
	return e.client.Close()
}

func buildSnapshotRow(snap domain.StatsSnapshot, exportedAt time.Time) *SnapshotRow {
	merchants := make(map[string]float64, len(snap.Stats.TopMerchants))
	for _, m := range snap.Stats.TopMerchants {
		merchants[m.Merchant] = m.Amount
	}
	return &SnapshotRow{
		UserID:           snap.UserID,
		TotalSpending:    snap.Stats.TotalSpending,
		TotalIncome:      snap.Stats.TotalIncome,
		CategorySpending: compactJSON(snap.Stats.CategorySpending),
		MonthlySpending:  compactJSON(snap.Stats.MonthlySpending),
		WeeklySpending:   compactJSON(snap.Stats.WeeklySpending),
		TopMerchants:     compactJSON(merchants),
		SnapshotTS:       snap.LastUpdated,
		ExportedTS:       exportedAt,
	}
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

package adapter

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"google.golang.org/api/googleapi"
)

// AuditLog stores retrieval events
type AuditLog interface {
	Record(ctx context.Context, ev *model.RetrievalEvent) error
}

type bigqueryAudit struct {
	client  *bigquery.Client
	dataset string
	table   string
}

// auditRow is the BigQuery row layout of a RetrievalEvent
type auditRow struct {
	SessionID     string    `bigquery:"session_id"`
	Question      string    `bigquery:"question"`
	Queries       []string  `bigquery:"queries"`
	MemoryIDs     []string  `bigquery:"memory_ids"`
	Similarities  []float64 `bigquery:"similarities"`
	Scores        []float64 `bigquery:"scores"`
	FailedQueries int64     `bigquery:"failed_queries"`
	TotalQueries  int64     `bigquery:"total_queries"`
	CreatedAt     time.Time `bigquery:"created_at"`
}

func newAuditRow(ev *model.RetrievalEvent) *auditRow {
	row := &auditRow{
		SessionID:     string(ev.SessionID),
		Question:      ev.Question,
		Queries:       ev.Queries,
		Similarities:  ev.Similarities,
		Scores:        ev.Scores,
		FailedQueries: int64(ev.FailedQueries),
		TotalQueries:  int64(ev.TotalQueries),
		CreatedAt:     ev.CreatedAt,
	}
	for _, id := range ev.MemoryIDs {
		row.MemoryIDs = append(row.MemoryIDs, string(id))
	}
	return row
}

// NewBigQueryAudit creates an AuditLog writing to projectID.dataset.table. The table is
// created with an inferred schema when it does not exist.
func NewBigQueryAudit(ctx context.Context, projectID, dataset, table string) (AuditLog, error) {
	if projectID == "" || dataset == "" || table == "" {
		return nil, goerr.New("project, dataset and table are required for audit log",
			goerr.V("project", projectID),
			goerr.V("dataset", dataset),
			goerr.V("table", table),
			goerr.T(model.ErrTagConfig))
	}

	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	a := &bigqueryAudit{client: client, dataset: dataset, table: table}
	if err := a.ensureTable(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *bigqueryAudit) ensureTable(ctx context.Context) error {
	schema, err := bigquery.InferSchema(auditRow{})
	if err != nil {
		return goerr.Wrap(err, "failed to infer audit schema")
	}

	meta := &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "created_at",
		},
	}
	err = a.client.Dataset(a.dataset).Table(a.table).Create(ctx, meta)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			return nil
		}
		return goerr.Wrap(err, "failed to create audit table",
			goerr.V("dataset", a.dataset),
			goerr.V("table", a.table))
	}
	return nil
}

func (a *bigqueryAudit) Record(ctx context.Context, ev *model.RetrievalEvent) error {
	inserter := a.client.Dataset(a.dataset).Table(a.table).Inserter()
	if err := inserter.Put(ctx, newAuditRow(ev)); err != nil {
		return goerr.Wrap(err, "failed to insert retrieval event",
			goerr.V("session_id", ev.SessionID))
	}
	return nil
}

package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/lib/pq"

	"github.com/anstrom/ipprism/internal/errors"
	"github.com/anstrom/ipprism/internal/logging"
	"github.com/anstrom/ipprism/internal/metrics"
)

const recordColumns = `id, ip_address, country, is_malicious, fraud_score, isp, organization,
	otx_pulses, tags, notes, last_api_check`

// Gateway is the PostgreSQL persistence gateway used by the analysis engine
// and the operator surfaces.
type Gateway struct {
	db      *DB
	now     func() time.Time
	metrics metrics.Recorder
}

// GatewayOption customises a Gateway.
type GatewayOption func(*Gateway)

// WithClock overrides the clock used for last-check timestamps.
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) { g.now = now }
}

// WithMetrics records query metrics on r.
func WithMetrics(r metrics.Recorder) GatewayOption {
	return func(g *Gateway) { g.metrics = r }
}

// NewGateway creates a gateway over db.
func NewGateway(db *DB, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		db:      db,
		now:     time.Now,
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FindByAddress returns the record for address, or nil when there is none.
func (g *Gateway) FindByAddress(ctx context.Context, address string) (rec *IPRecord, err error) {
	done := metrics.DatabaseTimer(g.metrics, "find_record")
	defer func() { done(err) }()

	var record IPRecord
	query := `SELECT ` + recordColumns + ` FROM ip_records WHERE ip_address = $1`
	if err := g.db.GetContext(ctx, &record, query, address); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, sanitizeDBError("find record", err)
	}
	return &record, nil
}

// FindByAddresses loads every stored record among addresses in one query.
// Addresses without a record are absent from the result.
func (g *Gateway) FindByAddresses(ctx context.Context, addresses []string) (out map[string]*IPRecord, err error) {
	out = make(map[string]*IPRecord, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}

	done := metrics.DatabaseTimer(g.metrics, "find_records")
	defer func() { done(err) }()

	var records []IPRecord
	query := `SELECT ` + recordColumns + ` FROM ip_records WHERE ip_address = ANY($1)`
	if err := g.db.SelectContext(ctx, &records, query, pq.Array(addresses)); err != nil {
		return nil, sanitizeDBError("find records", err)
	}
	for i := range records {
		out[records[i].Address] = &records[i]
	}
	return out, nil
}

// Insert creates a classified record and returns its id. When another writer
// created the address first, the existing row receives this classification
// and its id is returned.
func (g *Gateway) Insert(ctx context.Context, address string, c Classification) (id int64, err error) {
	done := metrics.DatabaseTimer(g.metrics, "insert_record")
	defer func() { done(err) }()

	query := `
		INSERT INTO ip_records (ip_address, country, is_malicious, fraud_score, isp, organization,
			otx_pulses, last_api_check)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (ip_address) DO NOTHING
		RETURNING id`

	err = g.db.QueryRowxContext(ctx, query,
		address, c.Country, c.Malicious, c.Score, c.ISP, c.Organization, c.Pulses,
		FormatTimestamp(g.now()),
	).Scan(&id)
	if err == nil {
		return id, nil
	}

	sanitized := sanitizeDBError("insert record", err)
	if !stderrors.Is(err, sql.ErrNoRows) && !errors.IsConflict(sanitized) {
		return 0, sanitized
	}

	logging.Debug("Record already exists, updating in place", "address", address)
	id, err = g.lookupID(ctx, address)
	if err != nil {
		return 0, err
	}
	if err := g.Update(ctx, id, c); err != nil {
		return 0, err
	}
	return id, nil
}

// Update overwrites the classification of record id and stamps last-check.
func (g *Gateway) Update(ctx context.Context, id int64, c Classification) (err error) {
	done := metrics.DatabaseTimer(g.metrics, "update_record")
	defer func() { done(err) }()

	query := `
		UPDATE ip_records
		SET country = $1, is_malicious = $2, fraud_score = $3, isp = $4, organization = $5,
			otx_pulses = $6, last_api_check = $7
		WHERE id = $8`

	result, err := g.db.ExecContext(ctx, query,
		c.Country, c.Malicious, c.Score, c.ISP, c.Organization, c.Pulses,
		FormatTimestamp(g.now()), id)
	if err != nil {
		return sanitizeDBError("update record", err)
	}
	return requireAffected(result, "update record")
}

// GetOrCreateMinimal returns the id for address, inserting a placeholder row
// without classification fields when none exists.
func (g *Gateway) GetOrCreateMinimal(ctx context.Context, address string) (id int64, err error) {
	done := metrics.DatabaseTimer(g.metrics, "get_or_create_record")
	defer func() { done(err) }()

	id, err = g.lookupID(ctx, address)
	if err == nil {
		return id, nil
	}
	if !errors.IsNotFound(err) {
		return 0, err
	}

	query := `INSERT INTO ip_records (ip_address) VALUES ($1) ON CONFLICT (ip_address) DO NOTHING RETURNING id`
	err = g.db.QueryRowxContext(ctx, query, address).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case stderrors.Is(err, sql.ErrNoRows):
		return g.lookupID(ctx, address)
	default:
		return 0, sanitizeDBError("create placeholder record", err)
	}
}

func (g *Gateway) lookupID(ctx context.Context, address string) (int64, error) {
	var id int64
	if err := g.db.GetContext(ctx, &id, `SELECT id FROM ip_records WHERE ip_address = $1`, address); err != nil {
		return 0, sanitizeDBError("lookup record id", err)
	}
	return id, nil
}

// CreateBatch records a new import batch and returns its id.
func (g *Gateway) CreateBatch(ctx context.Context, createdAt time.Time, sourceName, description string) (id int64, err error) {
	done := metrics.DatabaseTimer(g.metrics, "create_batch")
	defer func() { done(err) }()

	query := `INSERT INTO import_batches (import_timestamp, file_name, description) VALUES ($1, $2, $3) RETURNING id`
	if err := g.db.QueryRowxContext(ctx, query, createdAt, sourceName, description).Scan(&id); err != nil {
		return 0, sanitizeDBError("create batch", err)
	}
	return id, nil
}

// LinkRecordToBatch adds a record to a batch. Repeated links are no-ops.
func (g *Gateway) LinkRecordToBatch(ctx context.Context, recordID, batchID int64) (err error) {
	done := metrics.DatabaseTimer(g.metrics, "link_record")
	defer func() { done(err) }()

	query := `INSERT INTO batch_ip_links (batch_id, ip_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := g.db.ExecContext(ctx, query, batchID, recordID); err != nil {
		return sanitizeDBError("link record to batch", err)
	}
	return nil
}

// ListBatches returns every batch with its member count, newest first.
func (g *Gateway) ListBatches(ctx context.Context) (batches []Batch, err error) {
	done := metrics.DatabaseTimer(g.metrics, "list_batches")
	defer func() { done(err) }()

	query := `
		SELECT b.id, b.import_timestamp, b.file_name, b.description, COUNT(l.ip_id) AS record_count
		FROM import_batches b
		LEFT JOIN batch_ip_links l ON l.batch_id = b.id
		GROUP BY b.id
		ORDER BY b.id DESC`

	if err := g.db.SelectContext(ctx, &batches, query); err != nil {
		return nil, sanitizeDBError("list batches", err)
	}
	return batches, nil
}

// RecordsByBatches returns the records linked to any of batchIDs, or every
// record when batchIDs is empty, ordered by score then pulse count.
func (g *Gateway) RecordsByBatches(ctx context.Context, batchIDs []int64) (records []IPRecord, err error) {
	done := metrics.DatabaseTimer(g.metrics, "records_by_batches")
	defer func() { done(err) }()

	const order = ` ORDER BY fraud_score DESC NULLS LAST, otx_pulses DESC NULLS LAST, id`
	if len(batchIDs) == 0 {
		err = g.db.SelectContext(ctx, &records, `SELECT `+recordColumns+` FROM ip_records`+order)
	} else {
		query := `SELECT ` + recordColumns + ` FROM ip_records r
			WHERE EXISTS (
				SELECT 1 FROM batch_ip_links l WHERE l.ip_id = r.id AND l.batch_id = ANY($1)
			)` + order
		err = g.db.SelectContext(ctx, &records, query, pq.Array(batchIDs))
	}
	if err != nil {
		return nil, sanitizeDBError("records by batches", err)
	}
	return records, nil
}

// RecurringAddresses returns the records of the newest batch that were
// already linked to an older batch, highest score first.
func (g *Gateway) RecurringAddresses(ctx context.Context) (rec *Recurrence, err error) {
	done := metrics.DatabaseTimer(g.metrics, "recurring_addresses")
	defer func() { done(err) }()

	rec = &Recurrence{Records: []IPRecord{}}
	err = g.db.GetContext(ctx, &rec.BatchID, `SELECT id FROM import_batches ORDER BY id DESC LIMIT 1`)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return rec, nil
	case err != nil:
		return nil, sanitizeDBError("latest batch", err)
	}

	query := `SELECT ` + recordColumns + ` FROM ip_records r
		WHERE EXISTS (SELECT 1 FROM batch_ip_links l WHERE l.ip_id = r.id AND l.batch_id = $1)
		AND EXISTS (SELECT 1 FROM batch_ip_links p WHERE p.ip_id = r.id AND p.batch_id < $1)
		ORDER BY fraud_score DESC NULLS LAST, otx_pulses DESC NULLS LAST, id`
	if err := g.db.SelectContext(ctx, &rec.Records, query, rec.BatchID); err != nil {
		return nil, sanitizeDBError("recurring addresses", err)
	}
	return rec, nil
}

// CompareBatches returns every address linked to any of batchIDs with the
// number of those batches it appears in. Addresses present in the most
// batches come first. At least two distinct batches are required.
func (g *Gateway) CompareBatches(ctx context.Context, batchIDs []int64) (rows []ComparisonRow, err error) {
	done := metrics.DatabaseTimer(g.metrics, "compare_batches")
	defer func() { done(err) }()

	ids := distinctIDs(batchIDs)
	if len(ids) < 2 {
		return nil, errors.NewDatabaseError(errors.CodeValidation, "At least two distinct batches are required")
	}

	query := `SELECT ` + recordColumns + `,
			(SELECT COUNT(*) FROM batch_ip_links c WHERE c.ip_id = r.id AND c.batch_id = ANY($1)) AS appearances,
			ARRAY(SELECT a.batch_id FROM batch_ip_links a
				WHERE a.ip_id = r.id AND a.batch_id = ANY($1) ORDER BY a.batch_id) AS batch_ids
		FROM ip_records r
		WHERE EXISTS (SELECT 1 FROM batch_ip_links l WHERE l.ip_id = r.id AND l.batch_id = ANY($1))
		ORDER BY appearances DESC, fraud_score DESC NULLS LAST, otx_pulses DESC NULLS LAST, id`
	if err := g.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, sanitizeDBError("compare batches", err)
	}
	if rows == nil {
		rows = []ComparisonRow{}
	}
	return rows, nil
}

func distinctIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// DeleteBatch removes a batch and its memberships. Records are kept.
func (g *Gateway) DeleteBatch(ctx context.Context, id int64) (err error) {
	done := metrics.DatabaseTimer(g.metrics, "delete_batch")
	defer func() { done(err) }()

	result, err := g.db.ExecContext(ctx, `DELETE FROM import_batches WHERE id = $1`, id)
	if err != nil {
		return sanitizeDBError("delete batch", err)
	}
	return requireAffected(result, "delete batch")
}

// UpdateAnnotations sets the operator tags and notes of a record.
func (g *Gateway) UpdateAnnotations(ctx context.Context, id int64, tags, notes string) (err error) {
	done := metrics.DatabaseTimer(g.metrics, "update_annotations")
	defer func() { done(err) }()

	result, err := g.db.ExecContext(ctx, `UPDATE ip_records SET tags = $1, notes = $2 WHERE id = $3`, tags, notes, id)
	if err != nil {
		return sanitizeDBError("update annotations", err)
	}
	return requireAffected(result, "update annotations")
}

// DashboardStats summarises the store.
func (g *Gateway) DashboardStats(ctx context.Context) (stats *DashboardStats, err error) {
	done := metrics.DatabaseTimer(g.metrics, "dashboard_stats")
	defer func() { done(err) }()

	stats = &DashboardStats{}
	if err := g.db.GetContext(ctx, &stats.TotalRecords, `SELECT COUNT(id) FROM ip_records`); err != nil {
		return nil, sanitizeDBError("count records", err)
	}
	if err := g.db.GetContext(ctx, &stats.TotalBatches, `SELECT COUNT(id) FROM import_batches`); err != nil {
		return nil, sanitizeDBError("count batches", err)
	}

	topQuery := `
		SELECT country FROM ip_records
		WHERE is_malicious AND country IS NOT NULL AND country <> 'N/A'
		GROUP BY country
		ORDER BY COUNT(id) DESC, country
		LIMIT 1`
	if err := g.db.GetContext(ctx, &stats.TopCountry, topQuery); err != nil && !stderrors.Is(err, sql.ErrNoRows) {
		return nil, sanitizeDBError("top country", err)
	}

	var last time.Time
	err = g.db.GetContext(ctx, &last, `SELECT import_timestamp FROM import_batches ORDER BY id DESC LIMIT 1`)
	switch {
	case err == nil:
		stats.LastAnalysis = &last
	case stderrors.Is(err, sql.ErrNoRows):
		err = nil
	default:
		return nil, sanitizeDBError("last analysis", err)
	}
	return stats, nil
}

// checkPattern matches the start of every last_api_check value the
// freshness rules can parse. Anything else is malformed.
const checkPattern = `^\s*[0-9]{4}-[0-9]{2}-[0-9]{2}[T ][0-9]{2}:[0-9]{2}:[0-9]{2}`

// StaleAddresses returns up to limit addresses whose last check is missing,
// malformed or older than olderThan. Missing and malformed values come
// first, then the oldest checks.
func (g *Gateway) StaleAddresses(ctx context.Context, olderThan time.Time, limit int) (addresses []string, err error) {
	done := metrics.DatabaseTimer(g.metrics, "stale_addresses")
	defer func() { done(err) }()

	query := `
		SELECT ip_address FROM ip_records
		WHERE last_api_check IS NULL OR last_api_check !~ $3 OR last_api_check < $1
		ORDER BY last_api_check ~ $3 NULLS FIRST, last_api_check, id
		LIMIT $2`
	if err := g.db.SelectContext(ctx, &addresses, query,
		FormatTimestamp(olderThan), limit, checkPattern); err != nil {
		return nil, sanitizeDBError("stale addresses", err)
	}
	return addresses, nil
}

// Purge removes every record, batch and membership.
func (g *Gateway) Purge(ctx context.Context) (err error) {
	done := metrics.DatabaseTimer(g.metrics, "purge")
	defer func() { done(err) }()

	if _, err := g.db.ExecContext(ctx,
		`TRUNCATE batch_ip_links, ip_records, import_batches RESTART IDENTITY CASCADE`); err != nil {
		return sanitizeDBError("purge", err)
	}
	logging.InfoDatabase("Purged all records and batches")
	return nil
}

// Migrate applies pending schema migrations.
func (g *Gateway) Migrate(ctx context.Context) error {
	return NewMigrator(g.db.DB).Up(ctx)
}

// MigrationStatus reports which schema migrations have been applied.
func (g *Gateway) MigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	return NewMigrator(g.db.DB).Status(ctx)
}

func requireAffected(result sql.Result, operation string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return sanitizeDBError(operation, err)
	}
	if n == 0 {
		return sanitizeDBError(operation, sql.ErrNoRows)
	}
	return nil
}

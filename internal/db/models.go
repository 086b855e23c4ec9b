package db

import (
	"time"

	"github.com/lib/pq"
)

// PulsesUnknown is the persisted otx_pulses value for a secondary lookup that
// failed. It never appears outside the persistence layer.
const PulsesUnknown = -1

// TimestampLayout is the fixed-width UTC layout written to last_api_check.
// Fixed width keeps lexical order equal to chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// IPRecord is one row of ip_records. Columns a lookup has never filled are nil.
type IPRecord struct {
	ID           int64   `db:"id" json:"id"`
	Address      string  `db:"ip_address" json:"ip_address"`
	Country      *string `db:"country" json:"country"`
	Malicious    *bool   `db:"is_malicious" json:"is_malicious"`
	Score        *int    `db:"fraud_score" json:"fraud_score"`
	ISP          *string `db:"isp" json:"isp"`
	Organization *string `db:"organization" json:"organization"`
	Pulses       *int    `db:"otx_pulses" json:"otx_pulses"`
	Tags         *string `db:"tags" json:"tags"`
	Notes        *string `db:"notes" json:"notes"`
	// LastCheck is kept as raw text; parse it through the freshness package.
	LastCheck *string `db:"last_api_check" json:"last_api_check"`
}

// Classification is the set of fields a completed lookup writes to a record.
type Classification struct {
	Country      string
	Malicious    bool
	Score        int
	ISP          string
	Organization string
	// Pulses uses PulsesUnknown for a failed secondary lookup.
	Pulses int
}

// Batch is one import batch, optionally with the number of linked records.
type Batch struct {
	ID          int64     `db:"id" json:"id"`
	CreatedAt   time.Time `db:"import_timestamp" json:"import_timestamp"`
	SourceName  string    `db:"file_name" json:"file_name"`
	Description string    `db:"description" json:"description"`
	RecordCount int       `db:"record_count" json:"record_count"`
}

// DashboardStats summarises the stored records.
type DashboardStats struct {
	TotalRecords int `json:"total_records"`
	TotalBatches int `json:"total_batches"`
	// TopCountry is the country with the most malicious records, empty when none.
	TopCountry   string     `json:"top_country"`
	LastAnalysis *time.Time `json:"last_analysis"`
}

// Recurrence lists the records of the newest batch that were already linked
// to an earlier batch. BatchID is 0 when there are no batches.
type Recurrence struct {
	BatchID int64      `json:"batch_id"`
	Records []IPRecord `json:"records"`
}

// ComparisonRow is one address seen in at least one of the compared batches.
type ComparisonRow struct {
	IPRecord
	// Appearances counts the compared batches the address is linked to.
	Appearances int           `db:"appearances" json:"appearances"`
	BatchIDs    pq.Int64Array `db:"batch_ids" json:"batch_ids"`
}

// BatchLink is one row of batch_ip_links.
type BatchLink struct {
	BatchID  int64 `db:"batch_id" json:"batch_id"`
	RecordID int64 `db:"ip_id" json:"ip_id"`
}

// FormatTimestamp renders t in TimestampLayout, in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

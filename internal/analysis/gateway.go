package analysis

import (
	"context"
	"time"

	"github.com/anstrom/ipprism/internal/db"
	"github.com/anstrom/ipprism/internal/reputation"
)

//go:generate mockgen -source=gateway.go -destination=mocks/mock_gateway.go -package=mocks

// Gateway is the persistence the engine needs. *db.Gateway implements it.
type Gateway interface {
	FindByAddress(ctx context.Context, address string) (*db.IPRecord, error)
	FindByAddresses(ctx context.Context, addresses []string) (map[string]*db.IPRecord, error)
	Insert(ctx context.Context, address string, c db.Classification) (int64, error)
	Update(ctx context.Context, id int64, c db.Classification) error
	GetOrCreateMinimal(ctx context.Context, address string) (int64, error)
	CreateBatch(ctx context.Context, createdAt time.Time, sourceName, description string) (int64, error)
	LinkRecordToBatch(ctx context.Context, recordID, batchID int64) error
}

// PrimaryService scores addresses. *reputation.PrimaryClient implements it.
type PrimaryService interface {
	Configured() bool
	Lookup(ctx context.Context, address string) (*reputation.PrimaryResult, error)
}

// SecondaryService counts threat pulses. *reputation.SecondaryClient
// implements it.
type SecondaryService interface {
	Configured() bool
	PulseCount(ctx context.Context, address string) reputation.PulseCount
}

var (
	_ Gateway          = (*db.Gateway)(nil)
	_ PrimaryService   = (*reputation.PrimaryClient)(nil)
	_ SecondaryService = (*reputation.SecondaryClient)(nil)
)

package db

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/ipprism/internal/errors"
)

const testConnectTimeout = 5 * time.Second

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// testDatabaseConfig points at a disposable PostgreSQL database. Every table
// in it is truncated.
func testDatabaseConfig() *Config {
	port, err := strconv.Atoi(getEnvOrDefault("IPPRISM_TEST_DB_PORT", "5432"))
	if err != nil {
		port = defaultPostgresPort
	}
	return &Config{
		Host:            getEnvOrDefault("IPPRISM_TEST_DB_HOST", "localhost"),
		Port:            port,
		Database:        getEnvOrDefault("IPPRISM_TEST_DB_NAME", "ipprism_test"),
		Username:        getEnvOrDefault("IPPRISM_TEST_DB_USER", "test_user"),
		Password:        getEnvOrDefault("IPPRISM_TEST_DB_PASSWORD", "test_password"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
}

// connectTestGateway returns a migrated, empty gateway or skips the test.
func connectTestGateway(t *testing.T) *Gateway {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), testConnectTimeout)
	defer cancel()

	database, err := Connect(ctx, testDatabaseConfig())
	if err != nil {
		t.Skipf("test database not available: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	gateway := NewGateway(database)
	require.NoError(t, gateway.Migrate(ctx))
	require.NoError(t, gateway.Purge(ctx))
	return gateway
}

func TestGatewayIntegration(t *testing.T) {
	g := connectTestGateway(t)
	ctx := context.Background()

	classified := Classification{Country: "NL", Malicious: true, Score: 91, ISP: "isp", Organization: "org", Pulses: 3}
	id, err := g.Insert(ctx, "203.0.113.5", classified)
	require.NoError(t, err)

	classified.Score = 95
	again, err := g.Insert(ctx, "203.0.113.5", classified)
	require.NoError(t, err)
	assert.Equal(t, id, again, "a second insert updates the existing row")

	rec, err := g.FindByAddress(ctx, "203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	require.NotNil(t, rec.LastCheck)
	assert.Equal(t, 95, *rec.Score)
	_, err = time.Parse(TimestampLayout, *rec.LastCheck)
	assert.NoError(t, err)

	placeholder, err := g.GetOrCreateMinimal(ctx, "198.51.100.7")
	require.NoError(t, err)
	again, err = g.GetOrCreateMinimal(ctx, "198.51.100.7")
	require.NoError(t, err)
	assert.Equal(t, placeholder, again)

	batchID, err := g.CreateBatch(ctx, time.Now(), "fw.log", "integration")
	require.NoError(t, err)
	require.NoError(t, g.LinkRecordToBatch(ctx, id, batchID))
	require.NoError(t, g.LinkRecordToBatch(ctx, id, batchID))
	require.NoError(t, g.LinkRecordToBatch(ctx, placeholder, batchID))

	batches, err := g.ListBatches(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 2, batches[0].RecordCount)

	records, err := g.RecordsByBatches(ctx, []int64{batchID})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	stale, err := g.StaleAddresses(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"198.51.100.7", "203.0.113.5"}, stale)

	garbled, err := g.Insert(ctx, "192.0.2.44", classified)
	require.NoError(t, err)
	_, err = g.db.ExecContext(ctx, `UPDATE ip_records SET last_api_check = 'not-a-date' WHERE id = $1`, garbled)
	require.NoError(t, err)
	stale, err = g.StaleAddresses(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"198.51.100.7", "192.0.2.44"}, stale)
	_, err = g.db.ExecContext(ctx, `DELETE FROM ip_records WHERE id = $1`, garbled)
	require.NoError(t, err)

	require.NoError(t, g.UpdateAnnotations(ctx, id, "scanner", "seen twice"))
	rec, err = g.FindByAddress(ctx, "203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, "scanner", *rec.Tags)

	stats, err := g.DashboardStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRecords)
	assert.Equal(t, 1, stats.TotalBatches)
	assert.Equal(t, "NL", stats.TopCountry)

	laterID, err := g.CreateBatch(ctx, time.Now(), "fw-2.log", "")
	require.NoError(t, err)
	require.NoError(t, g.LinkRecordToBatch(ctx, id, laterID))

	recurring, err := g.RecurringAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, laterID, recurring.BatchID)
	require.Len(t, recurring.Records, 1)
	assert.Equal(t, id, recurring.Records[0].ID)

	compared, err := g.CompareBatches(ctx, []int64{batchID, laterID})
	require.NoError(t, err)
	require.Len(t, compared, 2)
	assert.Equal(t, id, compared[0].ID)
	assert.Equal(t, 2, compared[0].Appearances)
	assert.Equal(t, []int64{batchID, laterID}, []int64(compared[0].BatchIDs))
	assert.Equal(t, 1, compared[1].Appearances)

	statuses, err := g.MigrationStatus(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[0].Modified)

	require.NoError(t, g.DeleteBatch(ctx, laterID))
	require.NoError(t, g.DeleteBatch(ctx, batchID))
	assert.True(t, errors.IsNotFound(g.DeleteBatch(ctx, batchID)))

	rec, err = g.FindByAddress(ctx, "203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID, "records outlive their batches")
}

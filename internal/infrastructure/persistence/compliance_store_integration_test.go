//go:build integration

package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/govcon/shredder/internal/infrastructure/migration"
	"github.com/govcon/shredder/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newPostgresDatabase starts a postgres container and applies the embedded migrations
func newPostgresDatabase(t *testing.T) *Database {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("shredder_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	m, err := migration.NewFromFS(sqlDB, migrations.FS, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, m.Up())

	return &Database{DB: db, Driver: "postgres"}
}

func TestComplianceStore_Postgres(t *testing.T) {
	db := newPostgresDatabase(t)
	store := NewGormComplianceStore(db.DB)
	ctx := context.Background()

	opp := newTestOpportunity(t, "PG-0001")
	reqs := []*compliance.Requirement{
		newTestRequirement(t, opp.ID, "C", 1, "The contractor shall provide support.", compliance.ComplianceTypeMandatory),
		newTestRequirement(t, opp.ID, "L", 1, "Offerors must submit a technical proposal.", compliance.ComplianceTypeMandatory),
	}

	res, err := store.Ingest(ctx, opp, sectionRecords(opp.ID, "C", "L"), reqs)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	res, err = store.Ingest(ctx, opp, sectionRecords(opp.ID, "C", "L"), reqs)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Unchanged)

	due := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	got, err := store.UpdateTracking(ctx, opp.ID, reqs[0].ID, compliance.TrackingUpdate{DueDate: &due})
	require.NoError(t, err)
	require.NotNil(t, got.DueDate)

	require.NoError(t, store.Delete(ctx, opp.ID))
	stored, err := store.ListRequirements(ctx, opp.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

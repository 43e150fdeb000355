package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"treeguard/internal/models"
)

func setupMockStatusDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *DeviceStatusRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewDeviceStatusRepository(db, logger)

	return db, mock, repo
}

func TestUpsertDeviceStatus_Success(t *testing.T) {
	db, mock, repo := setupMockStatusDB(t)
	defer db.Close()

	ctx := context.Background()
	status := &models.DeviceStatus{
		DeviceID:   1,
		LastSeenAt: time.Now(),
		LastHazard: models.HazardSmoke,
	}

	mock.ExpectExec(`INSERT INTO device_status`).
		WithArgs(status.DeviceID, status.LastSeenAt, "smoke").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertDeviceStatus(ctx, status)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDeviceStatus_NilStatus(t *testing.T) {
	db, _, repo := setupMockStatusDB(t)
	defer db.Close()

	err := repo.UpsertDeviceStatus(context.Background(), nil)

	assert.Error(t, err)
}

func TestListDeviceStatuses(t *testing.T) {
	db, mock, repo := setupMockStatusDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()
	rows := sqlmock.NewRows([]string{"device_id", "last_seen_at", "last_hazard"}).
		AddRow(1, now, "none").
		AddRow(2, now.Add(-time.Minute), "tilt")

	mock.ExpectQuery(`SELECT`).
		WillReturnRows(rows)

	statuses, err := repo.ListDeviceStatuses(ctx)

	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, 1, statuses[0].DeviceID)
	assert.Equal(t, models.HazardNone, statuses[0].LastHazard)
	assert.Equal(t, models.HazardTilt, statuses[1].LastHazard)

	require.NoError(t, mock.ExpectationsWereMet())
}

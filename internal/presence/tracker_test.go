package presence

import (
	"testing"
	"time"

	"treeguard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTracker() *Tracker {
	return NewTracker(30*time.Second, zap.NewNop())
}

func TestTracker_OnlineWithinTimeout(t *testing.T) {
	tracker := newTestTracker()
	now := time.Now()

	tracker.Touch(1, now.Add(-29*time.Second), models.HazardNone)

	status, ok := tracker.Status(1, now)
	require.True(t, ok)
	assert.True(t, status.Online)
}

func TestTracker_OfflineAfterTimeout(t *testing.T) {
	tracker := newTestTracker()
	now := time.Now()

	tracker.Touch(1, now.Add(-31*time.Second), models.HazardNone)

	status, ok := tracker.Status(1, now)
	require.True(t, ok)
	assert.False(t, status.Online)
}

func TestTracker_OfflineExactlyAtTimeout(t *testing.T) {
	// now - lastSeenAt >= livenessTimeout 即离线（边界为离线）
	tracker := newTestTracker()
	now := time.Now()

	tracker.Touch(1, now.Add(-30*time.Second), models.HazardNone)

	status, ok := tracker.Status(1, now)
	require.True(t, ok)
	assert.False(t, status.Online)
}

func TestTracker_LastSeenAtIsMonotonic(t *testing.T) {
	// 乱序到达的读数不会把 lastSeenAt 往回拨
	tracker := newTestTracker()
	now := time.Now()

	tracker.Touch(1, now, models.HazardNone)
	tracker.Touch(1, now.Add(-10*time.Second), models.HazardTilt)

	status, ok := tracker.Status(1, now)
	require.True(t, ok)
	assert.Equal(t, now, status.LastSeenAt)
	// lastHazard 仍然更新为最新判定
	assert.Equal(t, models.HazardTilt, status.LastHazard)
}

func TestTracker_OfflineToOnlineOnIngest(t *testing.T) {
	tracker := newTestTracker()
	now := time.Now()

	tracker.Touch(1, now.Add(-2*time.Minute), models.HazardNone)
	status, _ := tracker.Status(1, now)
	assert.False(t, status.Online)

	// 任何一次摄入立即转为在线
	tracker.Touch(1, now, models.HazardNone)
	status, _ = tracker.Status(1, now)
	assert.True(t, status.Online)
}

func TestTracker_UnknownDevice(t *testing.T) {
	tracker := newTestTracker()

	_, ok := tracker.Status(42, time.Now())
	assert.False(t, ok)
}

func TestTracker_SnapshotSortedByDeviceID(t *testing.T) {
	tracker := newTestTracker()
	now := time.Now()

	tracker.Touch(3, now, models.HazardNone)
	tracker.Touch(1, now, models.HazardSmoke)
	tracker.Touch(2, now.Add(-time.Minute), models.HazardNone)

	snapshot := tracker.Snapshot(now)

	require.Len(t, snapshot, 3)
	assert.Equal(t, 1, snapshot[0].DeviceID)
	assert.Equal(t, 2, snapshot[1].DeviceID)
	assert.Equal(t, 3, snapshot[2].DeviceID)
	assert.True(t, snapshot[0].Online)
	assert.False(t, snapshot[1].Online)
	assert.Equal(t, models.HazardSmoke, snapshot[0].LastHazard)
}

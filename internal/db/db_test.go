package db

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-data/breathwatch/internal/breath"
	"github.com/vigil-data/breathwatch/internal/dsp"
)

// newTestDB opens a migrated database in a temp directory. Tests run from
// the package directory, so the migrations live at ./migrations.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.MigrateUp("migrations"))
	return db
}

func TestRecordAndReadCycles(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	base := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		snap := breath.Snapshot{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Classification: dsp.Classification{
				Motion:        dsp.MotionStable,
				Alert:         dsp.AlertNormal,
				Variability:   0.01 * float64(i),
				PeakMagnitude: 0.03,
			},
			BreathingRate: 14.5,
		}
		require.NoError(t, db.RecordCycle(snap))
	}

	records, err := db.Cycles(10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Newest first.
	assert.Equal(t, base.Add(2*time.Second), records[0].Timestamp)
	assert.Equal(t, "stable", records[0].MotionState)
	assert.Equal(t, "normal", records[0].Alert)
	assert.Equal(t, 0.02, records[0].Variability)
	assert.Equal(t, 14.5, records[0].BreathingRate)
}

func TestCyclesLimit(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.RecordCycle(breath.Snapshot{
			Timestamp: time.Unix(int64(i), 0),
			Classification: dsp.Classification{
				Motion: dsp.MotionStable,
				Alert:  dsp.AlertNormal,
			},
		}))
	}

	records, err := db.Cycles(2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestCyclesEmpty(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	records, err := db.Cycles(10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecordAndReadAlarmEvents(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	require.NoError(t, db.RecordAlarmEvent(AlarmEventArmed, 0))
	require.NoError(t, db.RecordAlarmEvent(AlarmEventActivated, 230))
	require.NoError(t, db.RecordAlarmEvent(AlarmEventReset, 0))

	events, err := db.AlarmEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, AlarmEventReset, events[0].Event)
	assert.Equal(t, AlarmEventActivated, events[1].Event)
	assert.Equal(t, 230, events[1].ValidationCount)
	assert.Equal(t, AlarmEventArmed, events[2].Event)
}

func TestMigrateVersionAndDown(t *testing.T) {
	t.Parallel()

	db, err := NewDB(filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	defer db.Close()

	version, dirty, err := db.MigrateVersion("migrations")
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateUp("migrations"))

	version, dirty, err = db.MigrateVersion("migrations")
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Idempotent when already at the latest version.
	require.NoError(t, db.MigrateUp("migrations"))

	require.NoError(t, db.MigrateDown("migrations"))
	version, _, err = db.MigrateVersion("migrations")
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	// The rolled-back table is gone.
	_, err = db.AlarmEvents(10)
	assert.Error(t, err)
}

func TestAttachAdminRoutes(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest("GET", "/debug/", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusNotFound, rec.Code)
}

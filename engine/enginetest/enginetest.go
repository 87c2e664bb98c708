// Package enginetest provides an in-memory trace database for tests.
package enginetest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"honnef.co/go/tracedeck/engine"
	"honnef.co/go/tracedeck/engine/sqlite"
)

// Schema is the subset of the trace processor's tables that the core and the bundled plugins rely on.
const Schema = `
CREATE TABLE process(upid INTEGER PRIMARY KEY, pid INTEGER, name TEXT);
CREATE TABLE thread(utid INTEGER PRIMARY KEY, tid INTEGER, name TEXT, upid INTEGER);
CREATE TABLE track(
  id INTEGER PRIMARY KEY,
  name TEXT,
  type TEXT NOT NULL,
  utid INTEGER,
  upid INTEGER
);
CREATE TABLE slice(
  id INTEGER PRIMARY KEY,
  ts INTEGER NOT NULL,
  dur INTEGER NOT NULL,
  track_id INTEGER NOT NULL,
  category TEXT,
  name TEXT,
  depth INTEGER NOT NULL DEFAULT 0,
  parent_id INTEGER
);
CREATE TABLE counter(
  id INTEGER PRIMARY KEY,
  ts INTEGER NOT NULL,
  track_id INTEGER NOT NULL,
  value REAL NOT NULL
);
`

// Track types used by the fixture and the bundled plugins.
const (
	ThreadSliceTrack = "thread_slice"
	CounterTrack     = "counter"
	PowerRailTrack   = "power_rails"
)

// Open returns a fresh in-memory engine with Schema applied. The engine is closed when the test ends.
func Open(t testing.TB) *sqlite.Engine {
	t.Helper()
	eng, err := sqlite.Open(sqlite.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	MustExec(t, eng, Schema)
	return eng
}

// MustExec runs every ;-separated statement in sql.
func MustExec(t testing.TB, eng engine.Engine, sql string) {
	t.Helper()
	for _, stmt := range strings.Split(sql, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		require.NoError(t, eng.Exec(context.Background(), stmt), "executing %s", stmt)
	}
}

// Slice is a row of the slice table.
type Slice struct {
	ID, Ts, Dur, TrackID int64
	Name, Category       string
	Depth                int64
	ParentID             int64 // 0 means no parent
}

// Counter is a row of the counter table.
type Counter struct {
	ID, Ts, TrackID int64
	Value           float64
}

func InsertTrack(t testing.TB, eng engine.Engine, id int64, name, typ string, utid, upid int64) {
	t.Helper()
	MustExec(t, eng, fmt.Sprintf("INSERT INTO track(id, name, type, utid, upid) VALUES (%d, %s, %s, %s, %s)",
		id, engine.StrValue(name).SQL(), engine.StrValue(typ).SQL(), nullableID(utid), nullableID(upid)))
}

func InsertProcess(t testing.TB, eng engine.Engine, upid, pid int64, name string) {
	t.Helper()
	MustExec(t, eng, fmt.Sprintf("INSERT INTO process(upid, pid, name) VALUES (%d, %d, %s)",
		upid, pid, engine.StrValue(name).SQL()))
}

func InsertThread(t testing.TB, eng engine.Engine, utid, tid int64, name string, upid int64) {
	t.Helper()
	MustExec(t, eng, fmt.Sprintf("INSERT INTO thread(utid, tid, name, upid) VALUES (%d, %d, %s, %s)",
		utid, tid, engine.StrValue(name).SQL(), nullableID(upid)))
}

func InsertSlices(t testing.TB, eng engine.Engine, slices ...Slice) {
	t.Helper()
	for _, s := range slices {
		MustExec(t, eng, fmt.Sprintf(
			"INSERT INTO slice(id, ts, dur, track_id, category, name, depth, parent_id) VALUES (%d, %d, %d, %d, %s, %s, %d, %s)",
			s.ID, s.Ts, s.Dur, s.TrackID, engine.StrValue(s.Category).SQL(), engine.StrValue(s.Name).SQL(), s.Depth,
			nullableID(s.ParentID)))
	}
}

func InsertCounters(t testing.TB, eng engine.Engine, counters ...Counter) {
	t.Helper()
	for _, c := range counters {
		MustExec(t, eng, fmt.Sprintf("INSERT INTO counter(id, ts, track_id, value) VALUES (%d, %d, %d, %s)",
			c.ID, c.Ts, c.TrackID, engine.FloatValue(c.Value).SQL()))
	}
}

func nullableID(id int64) string {
	if id == 0 {
		return "NULL"
	}
	return fmt.Sprint(id)
}

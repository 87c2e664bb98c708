// Package sqlite implements engine.Engine on top of an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"honnef.co/go/tracedeck/engine"
	"honnef.co/go/tracedeck/metrics"
)

const driverName = "sqlite3"

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// Engine is an embedded SQLite query engine. It holds exactly one connection: the trace is owned by a single engine
// instance and statements are serialised, which also keeps in-memory databases alive between statements.
type Engine struct {
	db  *sql.DB
	log *log.Entry
}

var _ engine.Engine = (*Engine)(nil)

// Open opens the database at dsn, which is either MemoryDSN or a path to a trace database.
func Open(dsn string) (*Engine, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", dsn)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connecting to %s", dsn)
	}
	return &Engine{
		db:  db,
		log: log.WithField("engine", "sqlite"),
	}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func observe(start time.Time, err error) {
	metrics.EngineQueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EngineQueries.WithLabelValues(metrics.Error).Inc()
	} else {
		metrics.EngineQueries.WithLabelValues(metrics.OK).Inc()
	}
}

func (e *Engine) Exec(ctx context.Context, stmt string) (err error) {
	defer func(start time.Time) { observe(start, err) }(time.Now())
	e.log.WithField("sql", stmt).Trace("exec")
	if _, err = e.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrap(err, "exec")
	}
	return nil
}

func (e *Engine) Query(ctx context.Context, stmt string) (res *engine.Result, err error) {
	defer func(start time.Time) { observe(start, err) }(time.Now())
	e.log.WithField("sql", stmt).Trace("query")

	rows, err := e.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, errors.Wrap(err, "query")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "reading columns")
	}
	res = &engine.Result{Columns: cols}
	for rows.Next() {
		row := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "scanning row")
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating rows")
	}
	return res, nil
}

package engine

import (
	"context"
	"sync"
)

// Recorder is an Engine that remembers every statement it forwards to the wrapped engine.
type Recorder struct {
	Engine

	mu         sync.Mutex
	statements []string
}

func NewRecorder(eng Engine) *Recorder {
	return &Recorder{Engine: eng}
}

func (r *Recorder) record(sql string) {
	r.mu.Lock()
	r.statements = append(r.statements, sql)
	r.mu.Unlock()
}

func (r *Recorder) Query(ctx context.Context, sql string) (*Result, error) {
	r.record(sql)
	return r.Engine.Query(ctx, sql)
}

func (r *Recorder) Exec(ctx context.Context, sql string) error {
	r.record(sql)
	return r.Engine.Exec(ctx, sql)
}

// Statements returns a copy of the recorded statements.
func (r *Recorder) Statements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statements...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.statements = nil
	r.mu.Unlock()
}

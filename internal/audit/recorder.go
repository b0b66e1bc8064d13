package audit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Recorder is the audit sink used by the dispatcher: every entry goes to
// the queryable store and, when configured, to the JSON-lines file.
type Recorder struct {
	store   Store
	file    *FileLogger
	nowFunc func() time.Time
}

func NewRecorder(store Store, file *FileLogger) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("audit store is required")
	}
	return &Recorder{store: store, file: file, nowFunc: time.Now}, nil
}

func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.nowFunc().UTC()
	}
	stored, storeErr := r.store.Append(ctx, e)
	if storeErr == nil {
		e = stored
	}
	return errors.Join(storeErr, r.file.Write(e))
}

func (r *Recorder) List(ctx context.Context, limit int) ([]Entry, error) {
	return r.store.List(ctx, limit)
}

func (r *Recorder) ListByUser(ctx context.Context, userID int64, limit int) ([]Entry, error) {
	return r.store.ListByUser(ctx, userID, limit)
}

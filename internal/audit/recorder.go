package audit

import (
	"context"
	"errors"
	"sync/atomic"
)

// Recorder is the Sink used by the gateway. It writes to the Store when one
// is configured and mirrors every record to the JSON logger when one is
// configured. Without a Store, ids come from an in-process counter.
//
// Recorderはゲートウェイが使用するSinkです。Storeが設定されていればそこに書き込み、
// JSONロガーが設定されていればすべてのレコードをミラーします。
// Storeがない場合、IDはプロセス内カウンタから払い出されます。
type Recorder struct {
	store  *Store
	mirror *JSONLogger
	nextID atomic.Int64
}

// NewRecorder creates a Recorder. Either argument may be nil.
// NewRecorderはRecorderを作成します。どちらの引数もnilにできます。
func NewRecorder(store *Store, mirror *JSONLogger) *Recorder {
	return &Recorder{store: store, mirror: mirror}
}

// Store returns the underlying store, or nil.
func (r *Recorder) Store() *Store {
	return r.store
}

// RecordAttempt implements Sink.
func (r *Recorder) RecordAttempt(ctx context.Context, entry Entry) (int64, error) {
	var id int64
	if r.store != nil {
		var err error
		id, err = r.store.RecordAttempt(ctx, entry)
		if err != nil {
			return 0, err
		}
	} else {
		id = r.nextID.Add(1)
	}
	r.mirror.LogDecision(ctx, id, entry)
	return id, nil
}

// RecordOutcome implements Sink.
func (r *Recorder) RecordOutcome(ctx context.Context, id int64, outcome Outcome) error {
	if r.store != nil {
		if err := r.store.RecordOutcome(ctx, id, outcome); err != nil {
			return err
		}
	}
	r.mirror.LogOutcome(ctx, id, outcome)
	return nil
}

// Close closes the store and the mirror.
// Closeはストアとミラーをクローズします。
func (r *Recorder) Close() error {
	var errs []error
	if r.store != nil {
		errs = append(errs, r.store.Close())
	}
	errs = append(errs, r.mirror.Close())
	return errors.Join(errs...)
}

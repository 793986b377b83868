package backend

import (
	"context"
	"time"

	"github.com/memokit/memoize/mutex"
)

// nullBackend never stores anything. Wrapping a function against it keeps
// the call structure intact while disabling caching; its mutex is a no-op
// since there is nothing to guard.
type nullBackend struct{}

var _ Backend = nullBackend{}

// NewNull returns the passthrough backend.
func NewNull() Backend { return nullBackend{} }

func (nullBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (nullBackend) GetWithMetadata(context.Context, string) ([]byte, time.Time, bool, error) {
	return nil, time.Time{}, false, nil
}

func (nullBackend) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (nullBackend) Delete(context.Context, string) error                     { return nil }
func (nullBackend) Clear(context.Context, string) (int, error)               { return 0, nil }
func (nullBackend) Keys(context.Context, string) ([]string, error)           { return nil, nil }
func (nullBackend) Count(context.Context, string) (int, error)               { return 0, nil }
func (nullBackend) Mutex(string) mutex.Mutex                                 { return mutex.Noop{} }
func (nullBackend) IncrStat(context.Context, string, Stat) error             { return nil }
func (nullBackend) Stats(context.Context, string) (int64, int64, error)      { return 0, 0, nil }
func (nullBackend) ClearStats(context.Context, string) error                 { return nil }
func (nullBackend) Close() error                                             { return nil }

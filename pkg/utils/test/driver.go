package testutils

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/papercomputeco/ctxstore/pkg/storage"
	"github.com/papercomputeco/ctxstore/pkg/storage/inmemory"
)

// ErrInjected is returned by MockDriver when a failure is configured.
var ErrInjected = errors.New("injected failure")

// Call records one mutating call made to a MockDriver.
type Call struct {
	Method string
	ID     string
	Field  storage.Field
	Keys   []int
}

// MockDriver is a test storage driver backed by the in-memory driver that
// records mutating calls and can be told to fail.
type MockDriver struct {
	*inmemory.Driver

	mu    sync.Mutex
	calls []Call

	// FailLoad causes every load to return a BackendUnavailableError.
	FailLoad bool

	// FailMain causes UpdateMainInfo to return an error.
	FailMain bool

	// FailUpdate causes UpdateFieldItems to return an error for the fields
	// it contains.
	FailUpdate map[storage.Field]bool

	// FailDelete causes DeleteFieldKeys to return an error.
	FailDelete bool

	// PartialKeys makes UpdateFieldItems persist every item except these
	// keys and report them in a PartialFailureError.
	PartialKeys []int
}

// NewMockDriver creates a new mock driver with an empty store.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		Driver:     inmemory.NewDriver(),
		FailUpdate: make(map[storage.Field]bool),
	}
}

// Calls returns the mutating calls made so far.
func (m *MockDriver) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallsTo returns the recorded calls of one method.
func (m *MockDriver) CallsTo(method string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets the recorded calls.
func (m *MockDriver) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *MockDriver) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

func (m *MockDriver) LoadMainInfo(ctx context.Context, id string) (*storage.ContextInfo, error) {
	if m.FailLoad {
		return nil, storage.Unavailable("mock", ErrInjected)
	}
	return m.Driver.LoadMainInfo(ctx, id)
}

func (m *MockDriver) LoadFieldKeys(ctx context.Context, id string, field storage.Field) ([]int, error) {
	if m.FailLoad {
		return nil, storage.Unavailable("mock", ErrInjected)
	}
	return m.Driver.LoadFieldKeys(ctx, id, field)
}

func (m *MockDriver) LoadFieldItems(ctx context.Context, id string, field storage.Field, keys []int) ([]storage.Item, error) {
	if m.FailLoad {
		return nil, storage.Unavailable("mock", ErrInjected)
	}
	m.record(Call{Method: "LoadFieldItems", ID: id, Field: field, Keys: slices.Clone(keys)})
	return m.Driver.LoadFieldItems(ctx, id, field, keys)
}

func (m *MockDriver) LoadFieldLatest(ctx context.Context, id string, field storage.Field, sub storage.Subscript) ([]storage.Item, error) {
	if m.FailLoad {
		return nil, storage.Unavailable("mock", ErrInjected)
	}
	return m.Driver.LoadFieldLatest(ctx, id, field, sub)
}

func (m *MockDriver) UpdateMainInfo(ctx context.Context, id string, info *storage.ContextInfo) error {
	m.record(Call{Method: "UpdateMainInfo", ID: id})
	if m.FailMain {
		return ErrInjected
	}
	return m.Driver.UpdateMainInfo(ctx, id, info)
}

func (m *MockDriver) UpdateFieldItems(ctx context.Context, id string, field storage.Field, items []storage.Item) error {
	keys := make([]int, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Key)
	}
	m.record(Call{Method: "UpdateFieldItems", ID: id, Field: field, Keys: keys})

	if m.FailUpdate[field] {
		return ErrInjected
	}

	if len(m.PartialKeys) > 0 {
		var kept []storage.Item
		var failed []int
		for _, it := range items {
			if slices.Contains(m.PartialKeys, it.Key) {
				failed = append(failed, it.Key)
				continue
			}
			kept = append(kept, it)
		}
		if err := m.Driver.UpdateFieldItems(ctx, id, field, kept); err != nil {
			return err
		}
		if len(failed) > 0 {
			return &storage.PartialFailureError{Field: field, Keys: failed, Err: ErrInjected}
		}
		return nil
	}

	return m.Driver.UpdateFieldItems(ctx, id, field, items)
}

func (m *MockDriver) DeleteFieldKeys(ctx context.Context, id string, field storage.Field, keys []int) error {
	m.record(Call{Method: "DeleteFieldKeys", ID: id, Field: field, Keys: slices.Clone(keys)})
	if m.FailDelete {
		return ErrInjected
	}
	return m.Driver.DeleteFieldKeys(ctx, id, field, keys)
}

func (m *MockDriver) DeleteContext(ctx context.Context, id string) error {
	m.record(Call{Method: "DeleteContext", ID: id})
	return m.Driver.DeleteContext(ctx, id)
}

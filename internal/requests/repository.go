package requests

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Repository persists requests. Control numbers and tracking numbers (the digits after
// the underscore of a tracking code) are unique: Insert rejects reuse with
// ErrDuplicateControlNumber or ErrDuplicateTrackingCode. Update must apply fn atomically.
type Repository interface {
	Insert(ctx context.Context, req *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	GetByTrackingNumber(ctx context.Context, number string) (*Request, error)
	ControlNumberExists(ctx context.Context, controlNumber string) (bool, error)
	Update(ctx context.Context, id string, fn func(*Request) error) (*Request, error)
	List(ctx context.Context, filter ListFilter) ([]*Request, error)
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	Evaluator string
	Status    Status
}

func (f ListFilter) match(r *Request) bool {
	if f.Evaluator != "" && !strings.EqualFold(r.StudentDetails.Evaluator, f.Evaluator) {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// MemoryRepository keeps requests in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	byID     map[string]*Request
	tracking map[string]string
	control  map[string]string
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:     make(map[string]*Request),
		tracking: make(map[string]string),
		control:  make(map[string]string),
	}
}

// Insert stores a copy of req.
func (m *MemoryRepository) Insert(_ context.Context, req *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.control[req.ControlNumber]; ok {
		return ErrDuplicateControlNumber
	}
	_, number := splitTrackingCode(req.TrackingCode)
	if _, ok := m.tracking[number]; ok {
		return ErrDuplicateTrackingCode
	}
	if _, ok := m.byID[req.ID]; ok {
		return ErrDuplicateID
	}
	m.byID[req.ID] = req.Clone()
	m.tracking[number] = req.ID
	m.control[req.ControlNumber] = req.ID
	return nil
}

// Get returns a copy of the request.
func (m *MemoryRepository) Get(_ context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return req.Clone(), nil
}

// GetByTrackingNumber looks a request up by the number part of its tracking code.
func (m *MemoryRepository) GetByTrackingNumber(ctx context.Context, number string) (*Request, error) {
	m.mu.RLock()
	id, ok := m.tracking[number]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.Get(ctx, id)
}

// ControlNumberExists reports whether any request uses controlNumber.
func (m *MemoryRepository) ControlNumberExists(_ context.Context, controlNumber string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.control[controlNumber]
	return ok, nil
}

// Update applies fn to a copy under the write lock and stores it when fn succeeds.
func (m *MemoryRepository) Update(_ context.Context, id string, fn func(*Request) error) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.byID[id] = next
	return next.Clone(), nil
}

// List returns matching requests, newest first.
func (m *MemoryRepository) List(_ context.Context, filter ListFilter) ([]*Request, error) {
	m.mu.RLock()
	out := make([]*Request, 0, len(m.byID))
	for _, req := range m.byID {
		if filter.match(req) {
			out = append(out, req.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

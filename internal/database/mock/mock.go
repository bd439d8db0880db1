// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/campusware/rollcall/internal/database"
)

// MockIdentityStore is a mock implementation of database.IdentityStore
type MockIdentityStore struct {
	mu         sync.RWMutex
	identities map[string]*database.Identity

	// Error injection
	UpsertError error
	GetError    error
	ListError   error
	DeleteError error
	CountError  error
}

// NewMockIdentityStore creates a new mock identity store
func NewMockIdentityStore() *MockIdentityStore {
	return &MockIdentityStore{
		identities: make(map[string]*database.Identity),
	}
}

// Upsert inserts or updates an identity
func (m *MockIdentityStore) Upsert(ctx context.Context, identity database.Identity) error {
	if m.UpsertError != nil {
		return m.UpsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now()
	}
	m.identities[identity.ID] = &identity
	return nil
}

// Get retrieves an identity by ID
func (m *MockIdentityStore) Get(ctx context.Context, id string) (*database.Identity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identities[id], nil
}

// List returns all identities ordered by ID
func (m *MockIdentityStore) List(ctx context.Context) ([]database.Identity, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.Identity
	for _, identity := range m.identities {
		result = append(result, *identity)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Delete removes an identity
func (m *MockIdentityStore) Delete(ctx context.Context, id string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.identities, id)
	return nil
}

// Count returns the number of identities
func (m *MockIdentityStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.identities), nil
}

// MockEventStore is a mock implementation of database.EventStore
type MockEventStore struct {
	mu      sync.RWMutex
	events  []database.AttendanceEvent
	counter int64

	// Error injection
	InsertError      error
	GetError         error
	ListError        error
	LastError        error
	FindSimilarError error
	ProbeError       error
	CountError       error
}

// NewMockEventStore creates a new mock event store
func NewMockEventStore() *MockEventStore {
	return &MockEventStore{}
}

// Insert stores an event and assigns an ID
func (m *MockEventStore) Insert(ctx context.Context, event *database.AttendanceEvent) error {
	if m.InsertError != nil {
		return m.InsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	event.ID = m.counter
	if event.CapturedAt.IsZero() {
		event.CapturedAt = time.Now()
	}
	m.events = append(m.events, *event)
	return nil
}

// Get retrieves an event by ID
func (m *MockEventStore) Get(ctx context.Context, id int64) (*database.AttendanceEvent, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.events {
		if m.events[i].ID == id {
			event := m.events[i]
			return &event, nil
		}
	}
	return nil, nil
}

// List returns events matching the filter, newest first
func (m *MockEventStore) List(ctx context.Context, filter database.EventFilter) ([]database.AttendanceEvent, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.AttendanceEvent
	for i := range m.events {
		e := m.events[i]
		if filter.Identity != "" && e.Identity != filter.Identity {
			continue
		}
		if filter.SessionKey != "" && e.SessionKey != filter.SessionKey {
			continue
		}
		if !filter.Since.IsZero() && e.CapturedAt.Before(filter.Since) {
			continue
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CapturedAt.After(result[j].CapturedAt)
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// LastForIdentity returns the most recent event for an identity in a session
func (m *MockEventStore) LastForIdentity(ctx context.Context, identity, sessionKey string) (*database.AttendanceEvent, error) {
	if m.LastError != nil {
		return nil, m.LastError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last *database.AttendanceEvent
	for i := range m.events {
		e := m.events[i]
		if e.Identity != identity || e.SessionKey != sessionKey {
			continue
		}
		if last == nil || e.CapturedAt.After(last.CapturedAt) {
			copied := e
			last = &copied
		}
	}
	return last, nil
}

// FindSimilar returns stored events with mock distances
func (m *MockEventStore) FindSimilar(ctx context.Context, embedding []float32, limit int) ([]database.AttendanceEvent, []float64, error) {
	if m.FindSimilarError != nil {
		return nil, nil, m.FindSimilarError
	}
	if len(embedding) != database.EmbeddingDim {
		return nil, nil, fmt.Errorf("embedding dimension %d does not match storage dimension %d",
			len(embedding), database.EmbeddingDim)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []database.AttendanceEvent
	var distances []float64
	for i := range m.events {
		if len(m.events[i].ProbeEmbedding) != database.EmbeddingDim {
			continue
		}
		results = append(results, m.events[i])
		distances = append(distances, 0.1) // Mock distance
		if len(results) >= limit {
			break
		}
	}
	return results, distances, nil
}

// ProbeEmbedding returns the stored probe for an event
func (m *MockEventStore) ProbeEmbedding(ctx context.Context, id int64) ([]float32, error) {
	if m.ProbeError != nil {
		return nil, m.ProbeError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.events {
		if m.events[i].ID == id {
			return m.events[i].ProbeEmbedding, nil
		}
	}
	return nil, nil
}

// Count returns the number of events
func (m *MockEventStore) Count(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events), nil
}

// MockDisputeStore is a mock implementation of database.DisputeStore
type MockDisputeStore struct {
	mu       sync.RWMutex
	disputes map[int64]*database.Dispute
	counter  int64

	// Error injection
	OpenError    error
	GetError     error
	ListError    error
	ResolveError error
}

// NewMockDisputeStore creates a new mock dispute store
func NewMockDisputeStore() *MockDisputeStore {
	return &MockDisputeStore{
		disputes: make(map[int64]*database.Dispute),
	}
}

// Open files a dispute and assigns an ID
func (m *MockDisputeStore) Open(ctx context.Context, dispute *database.Dispute) error {
	if m.OpenError != nil {
		return m.OpenError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	dispute.ID = m.counter
	dispute.Status = database.DisputeOpen
	if dispute.CreatedAt.IsZero() {
		dispute.CreatedAt = time.Now()
	}
	copied := *dispute
	m.disputes[dispute.ID] = &copied
	return nil
}

// Get retrieves a dispute by ID
func (m *MockDisputeStore) Get(ctx context.Context, id int64) (*database.Dispute, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, nil
	}
	copied := *d
	return &copied, nil
}

// List returns disputes, optionally filtered by status
func (m *MockDisputeStore) List(ctx context.Context, status string) ([]database.Dispute, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []database.Dispute
	for _, d := range m.disputes {
		if status != "" && d.Status != status {
			continue
		}
		result = append(result, *d)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Resolve closes an open dispute
func (m *MockDisputeStore) Resolve(ctx context.Context, id int64, status, resolution string) error {
	if m.ResolveError != nil {
		return m.ResolveError
	}
	if status != database.DisputeApproved && status != database.DisputeRejected {
		return fmt.Errorf("invalid resolution status %q", status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok || d.Status != database.DisputeOpen {
		return fmt.Errorf("dispute %d is not open", id)
	}
	now := time.Now()
	d.Status = status
	d.Resolution = resolution
	d.ResolvedAt = &now
	return nil
}

// MockMirrorStore is a mock implementation of database.MirrorStore
type MockMirrorStore struct {
	mu      sync.RWMutex
	samples map[string][][]float32 // keyed by identity + "/" + view

	// Track calls
	UpsertCalls []UpsertMirrorCall

	// Error injection
	UpsertError error
	DeleteError error
	CountError  error
}

// UpsertMirrorCall tracks an UpsertMirror call
type UpsertMirrorCall struct {
	Identity string
	View     string
	Samples  [][]float32
}

// NewMockMirrorStore creates a new mock mirror store
func NewMockMirrorStore() *MockMirrorStore {
	return &MockMirrorStore{
		samples: make(map[string][][]float32),
	}
}

// UpsertMirror replaces mirrored samples for an identity and view
func (m *MockMirrorStore) UpsertMirror(ctx context.Context, identity, view string, samples [][]float32) error {
	if m.UpsertError != nil {
		return m.UpsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls = append(m.UpsertCalls, UpsertMirrorCall{Identity: identity, View: view, Samples: samples})
	m.samples[identity+"/"+view] = samples
	return nil
}

// DeleteMirror removes all mirrored samples for an identity
func (m *MockMirrorStore) DeleteMirror(ctx context.Context, identity string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := identity + "/"
	for key := range m.samples {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(m.samples, key)
		}
	}
	return nil
}

// CountMirror returns the number of mirrored samples
func (m *MockMirrorStore) CountMirror(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, samples := range m.samples {
		count += len(samples)
	}
	return count, nil
}

// MockRosterReader is a mock implementation of database.RosterReader
type MockRosterReader struct {
	mu       sync.RWMutex
	students []database.Student

	// Error injection
	StudentsError error
}

// NewMockRosterReader creates a new mock roster reader
func NewMockRosterReader() *MockRosterReader {
	return &MockRosterReader{}
}

// AddStudent adds a student to the mock roster
func (m *MockRosterReader) AddStudent(s database.Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students = append(m.students, s)
}

// Students returns the mock roster
func (m *MockRosterReader) Students(ctx context.Context) ([]database.Student, error) {
	if m.StudentsError != nil {
		return nil, m.StudentsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]database.Student, len(m.students))
	copy(result, m.students)
	return result, nil
}

// Verify interface compliance
var _ database.IdentityStore = (*MockIdentityStore)(nil)
var _ database.EventStore = (*MockEventStore)(nil)
var _ database.DisputeStore = (*MockDisputeStore)(nil)
var _ database.MirrorStore = (*MockMirrorStore)(nil)
var _ database.RosterReader = (*MockRosterReader)(nil)

package jobs

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a cart-fill job. Transitions only move
// forward: started -> running -> completed, or started/running -> failed.
type Status string

const (
	StatusStarted   Status = "started"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Product is one grocery item to add to the cart. Quantity is free text
// ("1L", "2 packs") interpreted by the automation agent.
type Product struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
}

// Job is the observable state of one cart-fill run. AddedProducts and
// FailedProducts are disjoint and only ever grow.
type Job struct {
	ID             string
	Status         Status
	AddedProducts  []Product
	FailedProducts []Product
	CurrentProduct string // empty when idle or finished
	CartURL        string // empty until captured
	Error          string // set only when Status == StatusFailed
	UpdatedAt      time.Time
}

// Update is a partial mutation of a Job. Nil fields are left unchanged;
// slice fields replace the stored value wholesale (callers pass the full
// accumulated arrays, not deltas).
type Update struct {
	Status         *Status
	AddedProducts  []Product
	FailedProducts []Product
	CurrentProduct *string
	CartURL        *string
	Error          *string
}

// Store is the job progress registry shared between the orchestrator and the
// API surface. Injected as an interface so tests can isolate instances and a
// durable backing store can be swapped in later.
type Store interface {
	// Create inserts a fresh job with StatusStarted. The caller guarantees
	// id uniqueness (random identifiers).
	Create(jobID string)
	// Update merges u into the stored job and refreshes its timestamp.
	// Silently does nothing if the job is absent or already expired: a late
	// update from an orchestrator outliving the retention window is dropped.
	Update(jobID string, u Update)
	// Get returns the current job snapshot. The second return is false when
	// the job never existed or aged past the retention window; expired
	// entries are evicted as a side effect of the read.
	Get(jobID string) (Job, bool)
}

// DefaultRetention is how long a job record stays readable after its last
// update.
const DefaultRetention = time.Hour

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// MemoryStore is the in-process Store implementation. Safe for concurrent
// use; each operation touches a single key, so one mutex suffices.
type MemoryStore struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	clock     Clock
	retention time.Duration
}

// NewMemoryStore creates a MemoryStore with the default 1-hour retention.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(realClock{}, DefaultRetention)
}

// NewMemoryStoreWithClock creates a MemoryStore with a custom clock and
// retention window (for testing).
func NewMemoryStoreWithClock(clock Clock, retention time.Duration) *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*Job),
		clock:     clock,
		retention: retention,
	}
}

func (s *MemoryStore) Create(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[jobID] = &Job{
		ID:        jobID,
		Status:    StatusStarted,
		UpdatedAt: s.clock.Now(),
	}
}

func (s *MemoryStore) Update(jobID string, u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return
	}
	if s.expired(j) {
		delete(s.jobs, jobID)
		return
	}

	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.AddedProducts != nil {
		j.AddedProducts = copyProducts(u.AddedProducts)
	}
	if u.FailedProducts != nil {
		j.FailedProducts = copyProducts(u.FailedProducts)
	}
	if u.CurrentProduct != nil {
		j.CurrentProduct = *u.CurrentProduct
	}
	if u.CartURL != nil {
		j.CartURL = *u.CartURL
	}
	if u.Error != nil {
		j.Error = *u.Error
	}
	j.UpdatedAt = s.clock.Now()
}

func (s *MemoryStore) Get(jobID string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	if s.expired(j) {
		delete(s.jobs, jobID)
		return Job{}, false
	}
	return snapshot(j), true
}

func (s *MemoryStore) expired(j *Job) bool {
	return s.clock.Now().Sub(j.UpdatedAt) > s.retention
}

// snapshot deep-copies a job so callers cannot mutate stored state and
// repeated reads with no intervening writes are identical.
func snapshot(j *Job) Job {
	cp := *j
	cp.AddedProducts = copyProducts(j.AddedProducts)
	cp.FailedProducts = copyProducts(j.FailedProducts)
	return cp
}

func copyProducts(ps []Product) []Product {
	if ps == nil {
		return nil
	}
	cp := make([]Product, len(ps))
	copy(cp, ps)
	return cp
}

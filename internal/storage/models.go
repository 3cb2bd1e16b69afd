package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// MealPlan is one generated weekly plan. PlanJSON holds the full plan
// structure as returned by the generator; ShoppingJSON holds the derived
// shopping list ([{name, quantity}]).
type MealPlan struct {
	ID           string
	CreatedAt    time.Time
	Days         int
	Model        string
	PlanJSON     string
	ShoppingJSON string
}

// DietNote is an imported dietary document (pasted text, web page, or PDF)
// included as context when generating meal plans.
type DietNote struct {
	ID        string
	Title     string
	Content   string
	Source    string // "text", "url", "pdf"
	CreatedAt time.Time
}

// CartRun records the terminal outcome of one cart-fill job. Unlike the
// in-memory progress store, these rows survive the retention window and
// process restarts.
type CartRun struct {
	JobID       string
	Status      string // "completed" or "failed"
	AddedCount  int
	FailedCount int
	CartURL     string
	Error       string
	CreatedAt   time.Time
}

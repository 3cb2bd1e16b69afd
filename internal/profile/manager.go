package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProfileStore interface {
	SetProfileKey(key, value string) error
	GetProfileKey(key string) (string, error)
	GetAllProfileKeys() (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached, structured access to the dietary profile stored
// in SQLite.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *Profile
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return &Manager{
		store: store,
		clock: realClock{},
		ttl:   60 * time.Second,
	}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
	}
}

// GetProfile reads all profile keys from storage (or cache) and assembles
// a structured Profile. Returns a zero-value Profile on empty store.
func (m *Manager) GetProfile() (Profile, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		p := deepCopyProfile(m.cached)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	// Slow path: write lock for cache miss.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return deepCopyProfile(m.cached), nil
	}

	keys, err := m.store.GetAllProfileKeys()
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile keys: %w", err)
	}

	p := buildProfile(keys)
	m.cached = &p
	m.cachedAt = m.clock.Now()
	return deepCopyProfile(&p), nil
}

// SetField persists a profile key and invalidates the cache.
func (m *Manager) SetField(key string, value interface{}) error {
	var str string
	switch v := value.(type) {
	case string:
		str = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshalling value for key %q: %w", key, err)
		}
		str = string(b)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetProfileKey(key, str); err != nil {
		return fmt.Errorf("setting profile key %q: %w", key, err)
	}

	m.cached = nil
	return nil
}

// Summary returns a compact string representation of the dietary profile
// suitable for injection into a meal-plan prompt.
func (m *Manager) Summary() (string, error) {
	p, err := m.GetProfile()
	if err != nil {
		return "", fmt.Errorf("getting profile for summary: %w", err)
	}
	return summarize(p), nil
}

// maxSummaryChars caps the summary to stay under ~500 tokens (4 chars/token).
const maxSummaryChars = 2000

func summarize(p Profile) string {
	var parts []string

	if p.Diet.Type != "" {
		parts = append(parts, fmt.Sprintf("Diet: %s.", p.Diet.Type))
	}
	if len(p.Diet.Allergies) > 0 {
		parts = append(parts, fmt.Sprintf("Allergies (strict, never include): %s.", strings.Join(p.Diet.Allergies, ", ")))
	}
	if len(p.Diet.Avoid) > 0 {
		parts = append(parts, fmt.Sprintf("Dislikes: %s.", strings.Join(p.Diet.Avoid, ", ")))
	}
	if p.Household.Size > 0 {
		parts = append(parts, fmt.Sprintf("Cooking for %d people.", p.Household.Size))
	}
	if len(p.Cuisine.Likes) > 0 {
		parts = append(parts, fmt.Sprintf("Preferred cuisines: %s.", strings.Join(p.Cuisine.Likes, ", ")))
	}
	if p.Budget.Weekly != "" {
		parts = append(parts, fmt.Sprintf("Weekly grocery budget: %s.", p.Budget.Weekly))
	}
	for _, pref := range p.Preferences {
		parts = append(parts, pref)
	}

	if len(parts) == 0 {
		return "Dietary profile: not yet configured."
	}

	summary := strings.Join(parts, " ")
	if len(summary) > maxSummaryChars {
		// Ensure we don't split a multi-byte UTF-8 character.
		end := maxSummaryChars
		for end > 0 && !utf8.RuneStart(summary[end]) {
			end--
		}
		if idx := strings.LastIndex(summary[:end], " "); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:end]
		}
	}
	return summary
}

func deepCopyProfile(p *Profile) Profile {
	if p == nil {
		return Profile{}
	}
	cp := *p

	if p.Diet.Allergies != nil {
		cp.Diet.Allergies = make([]string, len(p.Diet.Allergies))
		copy(cp.Diet.Allergies, p.Diet.Allergies)
	}
	if p.Diet.Avoid != nil {
		cp.Diet.Avoid = make([]string, len(p.Diet.Avoid))
		copy(cp.Diet.Avoid, p.Diet.Avoid)
	}
	if p.Cuisine.Likes != nil {
		cp.Cuisine.Likes = make([]string, len(p.Cuisine.Likes))
		copy(cp.Cuisine.Likes, p.Cuisine.Likes)
	}
	if p.Preferences != nil {
		cp.Preferences = make([]string, len(p.Preferences))
		copy(cp.Preferences, p.Preferences)
	}
	return cp
}

// buildProfile assembles a Profile from flat key-value pairs.
// Keys use dot-notation: "diet.type", "diet.allergies", "diet.avoid",
// "household.size", "cuisine.likes", "budget.weekly", "preferences".
// List values are stored as JSON arrays.
func buildProfile(keys map[string]string) Profile {
	var p Profile

	if v, ok := keys["diet.type"]; ok {
		p.Diet.Type = v
	}
	unmarshalProfileKey(keys, "diet.allergies", &p.Diet.Allergies)
	unmarshalProfileKey(keys, "diet.avoid", &p.Diet.Avoid)

	if v, ok := keys["household.size"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			p.Household.Size = n
		} else {
			slog.Warn("malformed profile key, skipping", "key", "household.size", "value", v)
		}
	}

	unmarshalProfileKey(keys, "cuisine.likes", &p.Cuisine.Likes)

	if v, ok := keys["budget.weekly"]; ok {
		p.Budget.Weekly = v
	}

	unmarshalProfileKey(keys, "preferences", &p.Preferences)

	return p
}

// unmarshalProfileKey unmarshals a JSON value from keys into target, logging
// a warning if the value is present but malformed.
func unmarshalProfileKey(keys map[string]string, key string, target interface{}) {
	v, ok := keys[key]
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(v), target); err != nil {
		slog.Warn("malformed profile key, skipping", "key", key, "error", err)
	}
}

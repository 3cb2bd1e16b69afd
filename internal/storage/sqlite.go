package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for the user profile, meal
// plans, diet notes, and cart run history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "mealcart.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- User Profile ---

func (s *Store) SetProfileKey(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO user_profile (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetProfileKey(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM user_profile WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (s *Store) GetAllProfileKeys() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM user_profile")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}

// --- Meal Plans ---

func (s *Store) SaveMealPlan(p MealPlan) error {
	_, err := s.db.Exec(`
		INSERT INTO meal_plans (id, created_at, days, model, plan_json, shopping_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.CreatedAt.UTC().Format(time.RFC3339), p.Days, p.Model, p.PlanJSON, p.ShoppingJSON,
	)
	return err
}

func (s *Store) GetMealPlan(id string) (MealPlan, error) {
	var p MealPlan
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, created_at, days, model, plan_json, shopping_json
		FROM meal_plans WHERE id = ?`, id,
	).Scan(&p.ID, &createdAt, &p.Days, &p.Model, &p.PlanJSON, &p.ShoppingJSON)
	if err == sql.ErrNoRows {
		return MealPlan{}, ErrNotFound
	}
	if err != nil {
		return MealPlan{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return MealPlan{}, fmt.Errorf("parsing created_at: %w", err)
	}
	p.CreatedAt = t
	return p, nil
}

func (s *Store) GetLatestMealPlan() (MealPlan, error) {
	var id string
	err := s.db.QueryRow("SELECT id FROM meal_plans ORDER BY created_at DESC LIMIT 1").Scan(&id)
	if err == sql.ErrNoRows {
		return MealPlan{}, ErrNotFound
	}
	if err != nil {
		return MealPlan{}, err
	}
	return s.GetMealPlan(id)
}

func (s *Store) ListMealPlans(limit int) ([]MealPlan, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, days, model, plan_json, shopping_json
		FROM meal_plans ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MealPlan
	for rows.Next() {
		var p MealPlan
		var createdAt string
		if err := rows.Scan(&p.ID, &createdAt, &p.Days, &p.Model, &p.PlanJSON, &p.ShoppingJSON); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		p.CreatedAt = t
		results = append(results, p)
	}
	return results, rows.Err()
}

// --- Diet Notes ---

func (s *Store) SaveDietNote(n DietNote) error {
	_, err := s.db.Exec(`
		INSERT INTO diet_notes (id, title, content, source, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.Title, n.Content, n.Source, n.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListDietNotes(limit int) ([]DietNote, error) {
	rows, err := s.db.Query(`
		SELECT id, title, content, source, created_at
		FROM diet_notes ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []DietNote
	for rows.Next() {
		var n DietNote
		var createdAt string
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, &n.Source, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		n.CreatedAt = t
		results = append(results, n)
	}
	return results, rows.Err()
}

func (s *Store) DeleteDietNote(id string) error {
	res, err := s.db.Exec("DELETE FROM diet_notes WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Cart Runs ---

func (s *Store) SaveCartRun(r CartRun) error {
	_, err := s.db.Exec(`
		INSERT INTO cart_runs (job_id, status, added_count, failed_count, cart_url, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			added_count = excluded.added_count,
			failed_count = excluded.failed_count,
			cart_url = excluded.cart_url,
			error = excluded.error`,
		r.JobID, r.Status, r.AddedCount, r.FailedCount, r.CartURL, r.Error,
		r.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) ListCartRuns(limit int) ([]CartRun, error) {
	rows, err := s.db.Query(`
		SELECT job_id, status, added_count, failed_count, cart_url, error, created_at
		FROM cart_runs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CartRun
	for rows.Next() {
		var r CartRun
		var createdAt string
		if err := rows.Scan(&r.JobID, &r.Status, &r.AddedCount, &r.FailedCount, &r.CartURL, &r.Error, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		results = append(results, r)
	}
	return results, rows.Err()
}

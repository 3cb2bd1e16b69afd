package cartfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/mealcart/internal/anchor"
	"github.com/kalambet/mealcart/internal/jobs"
	"github.com/kalambet/mealcart/internal/storage"
)

// SessionRunner abstracts the browser automation facility.
// Implemented by anchor.Client.
type SessionRunner interface {
	CreateSession(ctx context.Context, cfg anchor.SessionConfig) (string, error)
	RunTask(ctx context.Context, sessionID, task string, maxSteps int) (anchor.TaskResult, error)
	EndSession(ctx context.Context, sessionID string) error
}

// Translator proposes ranked search terms for a product name. It never
// fails; implementations fall back to the original name.
type Translator interface {
	Translate(ctx context.Context, name string) []string
}

// RunRecorder persists terminal job outcomes for history beyond the progress
// store's retention window. Implemented by storage.Store.
type RunRecorder interface {
	SaveCartRun(r storage.CartRun) error
}

// Config carries the session binding and per-task step budgets.
type Config struct {
	Session       anchor.SessionConfig
	SetupSteps    int
	ProductSteps  int
	NavigateSteps int
}

// Orchestrator drives one cart-fill job from started to a terminal state:
// one browser session per job, products attempted sequentially, per-item
// failures recorded and swallowed. Only session creation failure is fatal.
type Orchestrator struct {
	browser    SessionRunner
	translator Translator
	store      jobs.Store
	runs       RunRecorder // optional; nil disables the audit trail
	cfg        Config
	logger     *slog.Logger
}

// New creates an Orchestrator. runs may be nil.
func New(browser SessionRunner, translator Translator, store jobs.Store, runs RunRecorder, cfg Config) *Orchestrator {
	return &Orchestrator{
		browser:    browser,
		translator: translator,
		store:      store,
		runs:       runs,
		cfg:        cfg,
		logger:     slog.Default(),
	}
}

// Start registers a new job and launches it detached, returning the job id
// immediately. The progress record exists before this returns, so a poll
// racing the launch never sees not_found.
func (o *Orchestrator) Start(products []jobs.Product) string {
	jobID := uuid.New().String()
	o.store.Create(jobID)
	o.Launch(jobID, products)
	return jobID
}

// Launch runs the job detached. The caller returns immediately; nothing from
// the run ever propagates to it. A panic inside the run is captured into the
// job record as a failure rather than crashing the process.
func (o *Orchestrator) Launch(jobID string, products []jobs.Product) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("cart fill panicked", "job_id", jobID, "panic", r)
				o.fail(jobID, fmt.Sprintf("internal error: %v", r))
			}
		}()
		o.Run(context.Background(), jobID, products)
	}()
}

// Run executes the cart-fill sequence for jobID. Exposed separately from
// Launch so tests can run it synchronously.
func (o *Orchestrator) Run(ctx context.Context, jobID string, products []jobs.Product) {
	log := o.logger.With("job_id", jobID)

	sessionID, err := o.browser.CreateSession(ctx, o.cfg.Session)
	if err != nil {
		log.Error("session creation failed", "error", err)
		o.fail(jobID, fmt.Sprintf("could not start browser session: %v", err))
		return
	}
	log.Info("session created", "session_id", sessionID)
	defer func() {
		if err := o.browser.EndSession(ctx, sessionID); err != nil {
			log.Warn("ending session failed", "session_id", sessionID, "error", err)
		}
	}()

	// Interstitial dismissal is best effort: a failure here usually means
	// there was nothing to dismiss.
	if _, err := o.browser.RunTask(ctx, sessionID, setupTask(), o.cfg.SetupSteps); err != nil {
		log.Warn("setup task failed, continuing", "error", err)
	}

	var added, failed []jobs.Product
	for i, p := range products {
		o.store.Update(jobID, jobs.Update{
			Status:         statusPtr(jobs.StatusRunning),
			CurrentProduct: strPtr(p.Name),
		})

		terms := o.translator.Translate(ctx, p.Name)

		if _, err := o.browser.RunTask(ctx, sessionID, productTask(p, terms), o.cfg.ProductSteps); err != nil {
			log.Warn("product failed", "product", p.Name, "error", err)
			failed = append(failed, p)
		} else {
			log.Info("product added", "product", p.Name)
			added = append(added, p)
		}

		next := ""
		if i+1 < len(products) {
			next = products[i+1].Name
		}
		o.store.Update(jobID, jobs.Update{
			Status:         statusPtr(jobs.StatusRunning),
			AddedProducts:  productList(added),
			FailedProducts: productList(failed),
			CurrentProduct: strPtr(next),
		})
	}

	cartURL := ""
	if res, err := o.browser.RunTask(ctx, sessionID, navigateTask(), o.cfg.NavigateSteps); err != nil {
		log.Warn("cart navigation failed, cart URL unavailable", "error", err)
	} else {
		cartURL = res.FinalURL
	}

	o.store.Update(jobID, jobs.Update{
		Status:         statusPtr(jobs.StatusCompleted),
		AddedProducts:  productList(added),
		FailedProducts: productList(failed),
		CartURL:        strPtr(cartURL),
		CurrentProduct: strPtr(""),
	})
	log.Info("cart fill completed", "added", len(added), "failed", len(failed), "cart_url", cartURL)

	o.record(storage.CartRun{
		JobID:       jobID,
		Status:      string(jobs.StatusCompleted),
		AddedCount:  len(added),
		FailedCount: len(failed),
		CartURL:     cartURL,
		CreatedAt:   time.Now().UTC(),
	})
}

func (o *Orchestrator) fail(jobID, msg string) {
	o.store.Update(jobID, jobs.Update{
		Status:         statusPtr(jobs.StatusFailed),
		Error:          strPtr(msg),
		CurrentProduct: strPtr(""),
	})
	o.record(storage.CartRun{
		JobID:     jobID,
		Status:    string(jobs.StatusFailed),
		Error:     msg,
		CreatedAt: time.Now().UTC(),
	})
}

func (o *Orchestrator) record(r storage.CartRun) {
	if o.runs == nil {
		return
	}
	if err := o.runs.SaveCartRun(r); err != nil {
		o.logger.Warn("recording cart run failed", "job_id", r.JobID, "error", err)
	}
}

// productList normalizes a possibly-nil slice to an empty one so progress
// updates always replace array fields (a nil slice would mean "unchanged").
func productList(ps []jobs.Product) []jobs.Product {
	if ps == nil {
		return []jobs.Product{}
	}
	return ps
}

func statusPtr(s jobs.Status) *jobs.Status { return &s }
func strPtr(s string) *string              { return &s }

package cartfill

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/mealcart/internal/anchor"
	"github.com/kalambet/mealcart/internal/jobs"
	"github.com/kalambet/mealcart/internal/storage"
)

// --- Fakes ---

type fakeBrowser struct {
	mu         sync.Mutex
	createErr  error
	createGate chan struct{} // if set, CreateSession blocks until closed
	run        func(task string) (anchor.TaskResult, error)
	tasks      []string
	ended      bool
}

func (f *fakeBrowser) CreateSession(ctx context.Context, cfg anchor.SessionConfig) (string, error) {
	if f.createGate != nil {
		<-f.createGate
	}
	if f.createErr != nil {
		return "", f.createErr
	}
	return "sess-1", nil
}

func (f *fakeBrowser) RunTask(ctx context.Context, sessionID, task string, maxSteps int) (anchor.TaskResult, error) {
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()
	if f.run != nil {
		return f.run(task)
	}
	return anchor.TaskResult{Status: "completed"}, nil
}

func (f *fakeBrowser) EndSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = true
	return nil
}

type fakeTranslator struct {
	terms map[string][]string
}

func (f *fakeTranslator) Translate(ctx context.Context, name string) []string {
	if t, ok := f.terms[name]; ok {
		return t
	}
	return []string{name}
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []storage.CartRun
}

func (f *fakeRecorder) SaveCartRun(r storage.CartRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return nil
}

func testConfig() Config {
	return Config{
		Session:       anchor.SessionConfig{ProfileName: "p", Region: "r", StartURL: "https://store.test"},
		SetupSteps:    5,
		ProductSteps:  10,
		NavigateSteps: 5,
	}
}

func newTestOrchestrator(browser SessionRunner, tr Translator, rec RunRecorder) (*Orchestrator, jobs.Store) {
	store := jobs.NewMemoryStore()
	return New(browser, tr, store, rec, testConfig()), store
}

// isProductTask reports whether a recorded task is the add-to-cart task for
// the given product name.
func isProductTask(task, name string) bool {
	return strings.Contains(task, "search box") && strings.Contains(task, `"`+name+`"`)
}

// --- Tests ---

func TestRun_SingleProductSuccess(t *testing.T) {
	browser := &fakeBrowser{
		run: func(task string) (anchor.TaskResult, error) {
			if task == navigateTask() {
				return anchor.TaskResult{Status: "completed", FinalURL: "https://store.test/cart"}, nil
			}
			return anchor.TaskResult{Status: "completed"}, nil
		},
	}
	o, store := newTestOrchestrator(browser, &fakeTranslator{}, nil)

	store.Create("job-1")
	o.Run(context.Background(), "job-1", []jobs.Product{{Name: "Milk", Quantity: "1L"}})

	j, ok := store.Get("job-1")
	if !ok {
		t.Fatal("job not found")
	}
	if j.Status != jobs.StatusCompleted {
		t.Errorf("status = %q, want completed", j.Status)
	}
	if len(j.AddedProducts) != 1 || j.AddedProducts[0].Name != "Milk" || j.AddedProducts[0].Quantity != "1L" {
		t.Errorf("added = %v", j.AddedProducts)
	}
	if len(j.FailedProducts) != 0 {
		t.Errorf("failed = %v", j.FailedProducts)
	}
	if j.CartURL != "https://store.test/cart" {
		t.Errorf("cart url = %q", j.CartURL)
	}
	if j.CurrentProduct != "" {
		t.Errorf("current product = %q, want empty", j.CurrentProduct)
	}
	if !browser.ended {
		t.Error("session not released")
	}
}

func TestRun_AllProductsFailStillCompletes(t *testing.T) {
	browser := &fakeBrowser{
		run: func(task string) (anchor.TaskResult, error) {
			if isProductTask(task, "RareCheese") {
				return anchor.TaskResult{}, &anchor.TaskError{Status: "failed", Message: "not found"}
			}
			return anchor.TaskResult{Status: "completed"}, nil
		},
	}
	o, store := newTestOrchestrator(browser, &fakeTranslator{}, nil)

	store.Create("job-1")
	o.Run(context.Background(), "job-1", []jobs.Product{{Name: "RareCheese", Quantity: "200g"}})

	j, _ := store.Get("job-1")
	if j.Status != jobs.StatusCompleted {
		t.Errorf("status = %q, want completed (per-item failure is not job failure)", j.Status)
	}
	if len(j.AddedProducts) != 0 {
		t.Errorf("added = %v", j.AddedProducts)
	}
	if len(j.FailedProducts) != 1 || j.FailedProducts[0].Name != "RareCheese" {
		t.Errorf("failed = %v", j.FailedProducts)
	}
	if j.Error != "" {
		t.Errorf("error = %q, want empty", j.Error)
	}
}

func TestRun_SessionCreationFailureIsFatal(t *testing.T) {
	browser := &fakeBrowser{createErr: errors.New("no capacity")}
	rec := &fakeRecorder{}
	o, store := newTestOrchestrator(browser, &fakeTranslator{}, rec)

	store.Create("job-1")
	o.Run(context.Background(), "job-1", []jobs.Product{
		{Name: "A", Quantity: "1"}, {Name: "B", Quantity: "1"}, {Name: "C", Quantity: "1"},
	})

	j, _ := store.Get("job-1")
	if j.Status != jobs.StatusFailed {
		t.Errorf("status = %q, want failed", j.Status)
	}
	if j.Error == "" {
		t.Error("error not populated")
	}
	if len(j.AddedProducts) != 0 || len(j.FailedProducts) != 0 {
		t.Errorf("arrays populated on setup failure: %+v", j)
	}
	if len(browser.tasks) != 0 {
		t.Errorf("tasks ran despite session failure: %v", browser.tasks)
	}
	if len(rec.runs) != 1 || rec.runs[0].Status != "failed" {
		t.Errorf("audit runs = %+v", rec.runs)
	}
}

func TestRun_SetupAndNavigationFailuresTolerated(t *testing.T) {
	browser := &fakeBrowser{
		run: func(task string) (anchor.TaskResult, error) {
			if task == setupTask() || task == navigateTask() {
				return anchor.TaskResult{}, &anchor.TaskError{Status: "timeout"}
			}
			return anchor.TaskResult{Status: "completed"}, nil
		},
	}
	o, store := newTestOrchestrator(browser, &fakeTranslator{}, nil)

	store.Create("job-1")
	o.Run(context.Background(), "job-1", []jobs.Product{{Name: "Milk", Quantity: "1L"}})

	j, _ := store.Get("job-1")
	if j.Status != jobs.StatusCompleted {
		t.Errorf("status = %q, want completed", j.Status)
	}
	if len(j.AddedProducts) != 1 {
		t.Errorf("added = %v", j.AddedProducts)
	}
	if j.CartURL != "" {
		t.Errorf("cart url = %q, want empty after navigation failure", j.CartURL)
	}
}

func TestRun_IntermediateProgressVisible(t *testing.T) {
	var midSnapshot jobs.Job
	var store jobs.Store

	browser := &fakeBrowser{}
	browser.run = func(task string) (anchor.TaskResult, error) {
		if isProductTask(task, "Eggs") {
			// Poll mid-run, between the first product finishing and the
			// second being attempted.
			midSnapshot, _ = store.Get("job-1")
			return anchor.TaskResult{}, &anchor.TaskError{Status: "failed"}
		}
		return anchor.TaskResult{Status: "completed"}, nil
	}

	o, s := newTestOrchestrator(browser, &fakeTranslator{}, nil)
	store = s

	store.Create("job-1")
	products := []jobs.Product{{Name: "Milk", Quantity: "1L"}, {Name: "Eggs", Quantity: "12"}}
	o.Run(context.Background(), "job-1", products)

	if midSnapshot.CurrentProduct != "Eggs" {
		t.Errorf("mid-run current product = %q, want Eggs", midSnapshot.CurrentProduct)
	}
	if len(midSnapshot.AddedProducts) != 1 || midSnapshot.AddedProducts[0].Name != "Milk" {
		t.Errorf("mid-run added = %v, want exactly [Milk]", midSnapshot.AddedProducts)
	}
	if len(midSnapshot.FailedProducts) != 0 {
		t.Errorf("mid-run failed = %v", midSnapshot.FailedProducts)
	}

	final, _ := store.Get("job-1")
	if len(final.AddedProducts) != 1 || len(final.FailedProducts) != 1 {
		t.Errorf("final arrays: added=%v failed=%v", final.AddedProducts, final.FailedProducts)
	}
}

func TestRun_ProductsDisjointAndOrdered(t *testing.T) {
	browser := &fakeBrowser{
		run: func(task string) (anchor.TaskResult, error) {
			if isProductTask(task, "B") || isProductTask(task, "D") {
				return anchor.TaskResult{}, &anchor.TaskError{Status: "failed"}
			}
			return anchor.TaskResult{Status: "completed"}, nil
		},
	}
	o, store := newTestOrchestrator(browser, &fakeTranslator{}, nil)

	products := []jobs.Product{
		{Name: "A", Quantity: "1"}, {Name: "B", Quantity: "1"},
		{Name: "C", Quantity: "1"}, {Name: "D", Quantity: "1"},
	}
	store.Create("job-1")
	o.Run(context.Background(), "job-1", products)

	j, _ := store.Get("job-1")

	seen := make(map[string]int)
	for _, p := range j.AddedProducts {
		seen[p.Name]++
	}
	for _, p := range j.FailedProducts {
		seen[p.Name]++
	}
	if len(seen) != len(products) {
		t.Errorf("union covers %d products, want %d", len(seen), len(products))
	}
	for name, n := range seen {
		if n != 1 {
			t.Errorf("product %q appears %d times across both sets", name, n)
		}
	}
	if j.AddedProducts[0].Name != "A" || j.AddedProducts[1].Name != "C" {
		t.Errorf("added order = %v", j.AddedProducts)
	}
	if j.FailedProducts[0].Name != "B" || j.FailedProducts[1].Name != "D" {
		t.Errorf("failed order = %v", j.FailedProducts)
	}
}

func TestRun_ZeroProducts(t *testing.T) {
	browser := &fakeBrowser{
		run: func(task string) (anchor.TaskResult, error) {
			return anchor.TaskResult{Status: "completed", FinalURL: "https://store.test/cart"}, nil
		},
	}
	o, store := newTestOrchestrator(browser, &fakeTranslator{}, nil)

	store.Create("job-1")
	o.Run(context.Background(), "job-1", nil)

	j, _ := store.Get("job-1")
	if j.Status != jobs.StatusCompleted {
		t.Errorf("status = %q, want completed", j.Status)
	}
	if len(j.AddedProducts) != 0 || len(j.FailedProducts) != 0 {
		t.Errorf("arrays = %+v, want empty", j)
	}
	if j.CartURL == "" {
		t.Error("cart navigation skipped for empty input")
	}
}

func TestRun_TranslatedTermsReachTask(t *testing.T) {
	browser := &fakeBrowser{}
	tr := &fakeTranslator{terms: map[string][]string{"Milk": {"חלב", "חלב טרי"}}}
	o, store := newTestOrchestrator(browser, tr, nil)

	store.Create("job-1")
	o.Run(context.Background(), "job-1", []jobs.Product{{Name: "Milk", Quantity: "1L"}})

	var productTaskText string
	for _, task := range browser.tasks {
		if isProductTask(task, "Milk") {
			productTaskText = task
		}
	}
	if productTaskText == "" {
		t.Fatal("product task not run")
	}
	for _, want := range []string{"חלב", "חלב טרי", `"Milk"`, "1L", "similar product"} {
		if !strings.Contains(productTaskText, want) {
			t.Errorf("task missing %q: %s", want, productTaskText)
		}
	}
}

func TestStart_JobVisibleBeforeRunProgresses(t *testing.T) {
	gate := make(chan struct{})
	browser := &fakeBrowser{createGate: gate}
	o, store := newTestOrchestrator(browser, &fakeTranslator{}, nil)

	jobID := o.Start([]jobs.Product{{Name: "Milk", Quantity: "1L"}})
	if jobID == "" {
		t.Fatal("empty job id")
	}

	// The run is parked in session creation; the record must already exist.
	j, ok := store.Get(jobID)
	if !ok {
		t.Fatal("job not visible immediately after Start")
	}
	if j.Status != jobs.StatusStarted {
		t.Errorf("status = %q, want started", j.Status)
	}

	close(gate)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if j, _ := store.Get(jobID); j.Status == jobs.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if id2 := o.Start(nil); id2 == jobID {
		t.Error("job ids not unique")
	}
}

func TestLaunch_PanicCapturedAsFailure(t *testing.T) {
	browser := &fakeBrowser{}
	o, store := newTestOrchestrator(browser, panickingTranslator{}, nil)

	store.Create("job-1")
	o.Launch("job-1", []jobs.Product{{Name: "Milk", Quantity: "1L"}})

	deadline := time.Now().Add(2 * time.Second)
	for {
		j, ok := store.Get("job-1")
		if ok && (j.Status == jobs.StatusFailed || j.Status == jobs.StatusCompleted) {
			if j.Status != jobs.StatusFailed {
				t.Errorf("status = %q, want failed after panic", j.Status)
			}
			if j.Error == "" {
				t.Error("error not populated after panic")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("job never reached a terminal state")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type panickingTranslator struct{}

func (panickingTranslator) Translate(ctx context.Context, name string) []string {
	panic("translator exploded")
}

func TestRun_RecordsCompletedRun(t *testing.T) {
	browser := &fakeBrowser{
		run: func(task string) (anchor.TaskResult, error) {
			if isProductTask(task, "Eggs") {
				return anchor.TaskResult{}, &anchor.TaskError{Status: "failed"}
			}
			if task == navigateTask() {
				return anchor.TaskResult{Status: "completed", FinalURL: "https://store.test/cart"}, nil
			}
			return anchor.TaskResult{Status: "completed"}, nil
		},
	}
	rec := &fakeRecorder{}
	o, store := newTestOrchestrator(browser, &fakeTranslator{}, rec)

	store.Create("job-1")
	o.Run(context.Background(), "job-1", []jobs.Product{
		{Name: "Milk", Quantity: "1L"}, {Name: "Eggs", Quantity: "12"},
	})

	if len(rec.runs) != 1 {
		t.Fatalf("recorded %d runs, want 1", len(rec.runs))
	}
	r := rec.runs[0]
	if r.Status != "completed" || r.AddedCount != 1 || r.FailedCount != 1 || r.CartURL == "" {
		t.Errorf("recorded run = %+v", r)
	}
}

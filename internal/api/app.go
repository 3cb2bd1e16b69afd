package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/mealcart/internal/jobs"
	"github.com/kalambet/mealcart/internal/mealplan"
	"github.com/kalambet/mealcart/internal/profile"
	"github.com/kalambet/mealcart/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// CartFillStarter launches a detached cart-fill job and returns its id.
// Implemented by cartfill.Orchestrator.
type CartFillStarter interface {
	Start(products []jobs.Product) string
}

// PlanGenerator produces and persists a new meal plan.
// Implemented by mealplan.Generator.
type PlanGenerator interface {
	Generate(ctx context.Context) (mealplan.Plan, error)
}

// NoteImporter turns external documents into diet notes.
// Implemented by ingest.Importer.
type NoteImporter interface {
	ImportText(title, content string) (storage.DietNote, error)
	ImportURL(ctx context.Context, rawURL, title string) (storage.DietNote, error)
}

// AppDeps holds dependencies for the HTTP API.
type AppDeps struct {
	Store     *storage.Store
	Profile   *profile.Manager
	Generator PlanGenerator
	Importer  NoteImporter
	CartFill  CartFillStarter // optional; if nil, cart filling is disabled
	Jobs      jobs.Store
	Token     string
}

// NewAppHandler builds the HTTP API. /health stays open; everything under
// /api requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/fill-cart", handleStartCartFill(deps))
		r.Get("/fill-cart/progress/{jobId}", handleCartFillProgress(deps))
		r.Get("/cart-runs", handleListCartRuns(deps))

		r.Get("/profile", handleGetProfile(deps))
		r.Patch("/profile", handlePatchProfile(deps))

		r.Post("/meal-plans", handleGeneratePlan(deps))
		r.Get("/meal-plans", handleListPlans(deps))
		r.Get("/meal-plans/latest", handleLatestPlan(deps))

		r.Post("/diet-notes", handleImportNote(deps))
		r.Get("/diet-notes", handleListNotes(deps))
		r.Delete("/diet-notes/{id}", handleDeleteNote(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startCartFillRequest struct {
	Products []jobs.Product `json:"products"`
}

func handleStartCartFill(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.CartFill == nil {
			httpError(w, http.StatusServiceUnavailable, "cart filling is not configured: browser automation key missing")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req startCartFillRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		if err := validateProducts(req.Products); err != nil {
			httpError(w, http.StatusBadRequest, "%v", err)
			return
		}

		jobID := deps.CartFill.Start(req.Products)
		writeJSON(w, http.StatusAccepted, map[string]string{
			"jobId":  jobID,
			"status": string(jobs.StatusStarted),
		})
	}
}

// progressResponse is the polling snapshot. Array fields are always present
// (empty, never null); scalar fields are null until set.
type progressResponse struct {
	Status         string         `json:"status"`
	AddedProducts  []jobs.Product `json:"added_products"`
	FailedProducts []jobs.Product `json:"failed_products"`
	CartURL        *string        `json:"cart_url"`
	Error          *string        `json:"error"`
	CurrentProduct *string        `json:"current_product"`
}

func handleCartFillProgress(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobId")

		j, ok := deps.Jobs.Get(jobID)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "Job not found or expired",
			})
			return
		}

		writeJSON(w, http.StatusOK, snapshotResponse(j))
	}
}

func snapshotResponse(j jobs.Job) progressResponse {
	resp := progressResponse{
		Status:         string(j.Status),
		AddedProducts:  j.AddedProducts,
		FailedProducts: j.FailedProducts,
		CartURL:        nullable(j.CartURL),
		Error:          nullable(j.Error),
		CurrentProduct: nullable(j.CurrentProduct),
	}
	if resp.AddedProducts == nil {
		resp.AddedProducts = []jobs.Product{}
	}
	if resp.FailedProducts == nil {
		resp.FailedProducts = []jobs.Product{}
	}
	return resp
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func handleListCartRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		runs, err := deps.Store.ListCartRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing cart runs: %v", err)
			return
		}
		if runs == nil {
			runs = []storage.CartRun{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profile.GetProfile()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "loading profile: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handlePatchProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var fields map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		for key, value := range fields {
			if err := deps.Profile.SetField(key, value); err != nil {
				httpError(w, http.StatusBadRequest, "setting field %q: %v", key, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleGeneratePlan(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plan, err := deps.Generator.Generate(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "generating plan: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, plan)
	}
}

func handleListPlans(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 10, 50)

		plans, err := deps.Store.ListMealPlans(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing plans: %v", err)
			return
		}

		type planSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Days      int    `json:"days"`
			Model     string `json:"model"`
		}
		summaries := make([]planSummary, len(plans))
		for i, p := range plans {
			summaries[i] = planSummary{
				ID:        p.ID,
				CreatedAt: p.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
				Days:      p.Days,
				Model:     p.Model,
			}
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}

func handleLatestPlan(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Store.GetLatestMealPlan()
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "no meal plan generated yet")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "loading plan: %v", err)
			return
		}

		plan, err := mealplan.ParsePlan(rec)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "decoding stored plan: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, plan)
	}
}

type importNoteRequest struct {
	Type    string `json:"type"` // "text" (default) or "url"
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

func handleImportNote(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req importNoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		var (
			note storage.DietNote
			err  error
		)
		switch {
		case req.Type == "url" || (req.Type == "" && req.URL != ""):
			if req.URL == "" {
				httpError(w, http.StatusBadRequest, "url is required for type \"url\"")
				return
			}
			note, err = deps.Importer.ImportURL(r.Context(), req.URL, req.Title)
		default:
			note, err = deps.Importer.ImportText(req.Title, req.Content)
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "importing note: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{
			"id":    note.ID,
			"title": note.Title,
		})
	}
}

func handleListNotes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		notes, err := deps.Store.ListDietNotes(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing notes: %v", err)
			return
		}
		if notes == nil {
			notes = []storage.DietNote{}
		}
		writeJSON(w, http.StatusOK, notes)
	}
}

func handleDeleteNote(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeleteDietNote(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "diet note not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "deleting note: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// validateProducts rejects cart-fill input before any job state is created.
// Quantities are free text interpreted by the automation agent, so the only
// requirement is that each entry names a product and an amount.
func validateProducts(products []jobs.Product) error {
	if len(products) == 0 {
		return fmt.Errorf("products list must not be empty")
	}
	for i, p := range products {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("product %d has an empty name", i)
		}
		if strings.TrimSpace(p.Quantity) == "" {
			return fmt.Errorf("product %d (%s) has an empty quantity", i, p.Name)
		}
	}
	return nil
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"error": fmt.Sprintf(format, args...)})
}

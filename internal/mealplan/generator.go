package mealplan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/mealcart/internal/storage"
)

// imageConcurrency bounds parallel image generation per plan.
const imageConcurrency = 4

// ChatClient generates a JSON completion. Implemented by llm.Client.
type ChatClient interface {
	CompleteJSON(ctx context.Context, model, system, user string) (string, error)
}

// ImageClient renders a recipe illustration. Implemented by llm.Client.
type ImageClient interface {
	GenerateImage(ctx context.Context, model, prompt string) (string, error)
}

// ProfileSource provides the dietary profile summary used to steer the plan.
type ProfileSource interface {
	Summary() (string, error)
}

// PlanStore persists generated plans and provides imported diet notes.
// Implemented by storage.Store.
type PlanStore interface {
	SaveMealPlan(p storage.MealPlan) error
	ListDietNotes(limit int) ([]storage.DietNote, error)
}

// Ingredient is one item of a meal or of the shopping list.
type Ingredient struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
}

// Meal is a single planned dish.
type Meal struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Ingredients []Ingredient `json:"ingredients"`
	ImageURL    string       `json:"image_url,omitempty"`
}

// Day groups the meals of one day.
type Day struct {
	Day   string `json:"day"`
	Meals []Meal `json:"meals"`
}

// Plan is a complete generated meal plan with its aggregated shopping list.
type Plan struct {
	ID           string       `json:"id"`
	CreatedAt    time.Time    `json:"created_at"`
	Days         []Day        `json:"days"`
	ShoppingList []Ingredient `json:"shopping_list"`
}

// Config controls plan shape and model selection.
type Config struct {
	PlanModel     string
	ImageModel    string
	Days          int
	MaxNotes      int
	ImagesEnabled bool
}

// Generator produces meal plans from the user's dietary profile and
// imported diet notes.
type Generator struct {
	llm     ChatClient
	images  ImageClient // optional; nil disables illustrations
	profile ProfileSource
	store   PlanStore
	cfg     Config
	logger  *slog.Logger
}

// New creates a Generator. images may be nil.
func New(llm ChatClient, images ImageClient, profile ProfileSource, store PlanStore, cfg Config) *Generator {
	if cfg.Days <= 0 {
		cfg.Days = 7
	}
	return &Generator{
		llm:     llm,
		images:  images,
		profile: profile,
		store:   store,
		cfg:     cfg,
		logger:  slog.Default(),
	}
}

type planResponse struct {
	Days         []Day        `json:"days"`
	ShoppingList []Ingredient `json:"shopping_list"`
}

// Generate builds a new plan, persists it and returns it. Image generation
// is best effort: a failed illustration leaves that meal without one.
func (g *Generator) Generate(ctx context.Context) (Plan, error) {
	summary, err := g.profile.Summary()
	if err != nil {
		return Plan{}, fmt.Errorf("loading profile: %w", err)
	}

	notes, err := g.store.ListDietNotes(g.cfg.MaxNotes)
	if err != nil {
		g.logger.Warn("loading diet notes failed, planning without them", "error", err)
		notes = nil
	}

	raw, err := g.llm.CompleteJSON(ctx, g.cfg.PlanModel, systemPrompt(g.cfg.Days), userPrompt(summary, notes))
	if err != nil {
		return Plan{}, fmt.Errorf("generating plan: %w", err)
	}

	var resp planResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return Plan{}, fmt.Errorf("parsing plan response: %w", err)
	}
	if len(resp.Days) == 0 {
		return Plan{}, fmt.Errorf("plan response contains no days")
	}
	for _, d := range resp.Days {
		if len(d.Meals) == 0 {
			return Plan{}, fmt.Errorf("plan day %q contains no meals", d.Day)
		}
	}

	plan := Plan{
		ID:           uuid.New().String(),
		CreatedAt:    time.Now().UTC(),
		Days:         resp.Days,
		ShoppingList: resp.ShoppingList,
	}
	if len(plan.ShoppingList) == 0 {
		plan.ShoppingList = deriveShoppingList(plan.Days)
	}

	if g.cfg.ImagesEnabled && g.images != nil {
		g.illustrate(ctx, &plan)
	}

	if err := g.save(plan); err != nil {
		return Plan{}, err
	}

	g.logger.Info("meal plan generated",
		"plan_id", plan.ID, "days", len(plan.Days), "items", len(plan.ShoppingList))
	return plan, nil
}

func (g *Generator) save(plan Plan) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	shoppingJSON, err := json.Marshal(plan.ShoppingList)
	if err != nil {
		return fmt.Errorf("encoding shopping list: %w", err)
	}
	rec := storage.MealPlan{
		ID:           plan.ID,
		CreatedAt:    plan.CreatedAt,
		Days:         len(plan.Days),
		Model:        g.cfg.PlanModel,
		PlanJSON:     string(planJSON),
		ShoppingJSON: string(shoppingJSON),
	}
	if err := g.store.SaveMealPlan(rec); err != nil {
		return fmt.Errorf("saving plan: %w", err)
	}
	return nil
}

// illustrate generates an image per meal, bounded by imageConcurrency.
// Failures only cost the illustration, never the plan.
func (g *Generator) illustrate(ctx context.Context, plan *Plan) {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(imageConcurrency)

	for di := range plan.Days {
		for mi := range plan.Days[di].Meals {
			meal := &plan.Days[di].Meals[mi]
			group.Go(func() error {
				prompt := fmt.Sprintf(
					"Appetizing overhead food photograph of %s, natural light, no text", meal.Name)
				url, err := g.images.GenerateImage(ctx, g.cfg.ImageModel, prompt)
				if err != nil {
					g.logger.Warn("meal image failed", "meal", meal.Name, "error", err)
					return nil
				}
				meal.ImageURL = url
				return nil
			})
		}
	}
	_ = group.Wait()
}

// deriveShoppingList aggregates the ingredients of every meal, deduplicated
// by case-insensitive name. The first occurrence's quantity wins; extra
// quantities for the same item are appended so nothing is silently dropped.
func deriveShoppingList(days []Day) []Ingredient {
	var list []Ingredient
	index := make(map[string]int)
	for _, d := range days {
		for _, m := range d.Meals {
			for _, ing := range m.Ingredients {
				key := strings.ToLower(strings.TrimSpace(ing.Name))
				if key == "" {
					continue
				}
				if i, ok := index[key]; ok {
					if ing.Quantity != "" && ing.Quantity != list[i].Quantity {
						list[i].Quantity += " + " + ing.Quantity
					}
					continue
				}
				index[key] = len(list)
				list = append(list, ing)
			}
		}
	}
	return list
}

// ParsePlan decodes a stored plan record back into a Plan.
func ParsePlan(rec storage.MealPlan) (Plan, error) {
	var plan Plan
	if err := json.Unmarshal([]byte(rec.PlanJSON), &plan); err != nil {
		return Plan{}, fmt.Errorf("decoding plan %s: %w", rec.ID, err)
	}
	return plan, nil
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/mealcart/internal/jobs"
	"github.com/kalambet/mealcart/internal/profile"
	"github.com/kalambet/mealcart/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{
		Store:     store,
		Profile:   profile.NewManager(store),
		Generator: &mockGenerator{},
		Importer:  &mockImporter{note: storage.DietNote{ID: "n1", Title: "Imported"}},
		CartFill:  &mockStarter{jobID: "job-abc"},
		Jobs:      jobs.NewMemoryStore(),
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_SetDietaryPreference(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpSetDietaryPreference(deps)

	req := makeCallToolRequest("set_dietary_preference", map[string]interface{}{
		"key":   "diet.type",
		"value": "vegetarian",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	p, err := deps.Profile.GetProfile()
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.Diet.Type != "vegetarian" {
		t.Errorf("diet.type = %q", p.Diet.Type)
	}
}

func TestMCPTool_SetDietaryPreference_MissingKey(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpSetDietaryPreference(deps)

	req := makeCallToolRequest("set_dietary_preference", map[string]interface{}{
		"value": "vegetarian",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing key")
	}
}

func TestMCPTool_FillCart_ExplicitProducts(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	starter := deps.CartFill.(*mockStarter)
	handler := mcpFillCart(deps)

	req := makeCallToolRequest("fill_cart", map[string]interface{}{
		"products": `[{"name":"Milk","quantity":"1L"}]`,
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	if !strings.Contains(text, "job-abc") || !strings.Contains(text, `"status":"started"`) {
		t.Errorf("result text = %s", text)
	}
	if len(starter.products) != 1 || starter.products[0].Name != "Milk" {
		t.Errorf("starter got %v", starter.products)
	}
}

func TestMCPTool_FillCart_RejectsEmptyList(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	starter := deps.CartFill.(*mockStarter)
	handler := mcpFillCart(deps)

	for _, raw := range []string{"", "[]", `[{"name":"","quantity":"1L"}]`} {
		var args map[string]interface{}
		if raw != "" {
			args = map[string]interface{}{"products": raw}
		}
		result, err := handler(context.Background(), makeCallToolRequest("fill_cart", args))
		if err != nil {
			t.Fatalf("handler error: %v", err)
		}
		if !result.IsError {
			t.Errorf("products=%q: expected a validation error", raw)
		}
	}
	if starter.products != nil {
		t.Errorf("no job should have been started, got %v", starter.products)
	}
}

func TestMCPTool_FillCart_NotConfigured(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.CartFill = nil
	handler := mcpFillCart(deps)

	result, err := handler(context.Background(), makeCallToolRequest("fill_cart", map[string]interface{}{
		"products": `[{"name":"Milk","quantity":"1L"}]`,
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error when cart filling is not configured")
	}
}

func TestMCPTool_CheckCartProgress(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpCheckCartProgress(deps)

	deps.Jobs.Create("job-1")
	deps.Jobs.Update("job-1", jobs.Update{
		Status:        statusPtr(jobs.StatusRunning),
		AddedProducts: []jobs.Product{{Name: "Milk", Quantity: "1L"}},
	})

	result, err := handler(context.Background(), makeCallToolRequest("check_cart_progress", map[string]interface{}{
		"job_id": "job-1",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var resp progressResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if resp.Status != "running" || len(resp.AddedProducts) != 1 {
		t.Errorf("snapshot = %+v", resp)
	}
}

func TestMCPTool_CheckCartProgress_NotFound(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpCheckCartProgress(deps)

	result, err := handler(context.Background(), makeCallToolRequest("check_cart_progress", map[string]interface{}{
		"job_id": "never-created",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	// A missing job is a modeled outcome, not a tool error.
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var resp progressResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if resp.Status != "not_found" {
		t.Errorf("status = %q, want not_found", resp.Status)
	}
	if resp.AddedProducts == nil || resp.FailedProducts == nil {
		t.Error("arrays should be empty, not null")
	}
}

func TestMCPTool_AddDietNote(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpAddDietNote(deps)

	result, err := handler(context.Background(), makeCallToolRequest("add_diet_note", map[string]interface{}{
		"title":   "Nutritionist's advice",
		"content": "More legumes, less red meat.",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "n1") {
		t.Errorf("result text = %s", toolText(t, result))
	}
}

func TestMCPTool_AddDietNote_NoInput(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpAddDietNote(deps)

	result, err := handler(context.Background(), makeCallToolRequest("add_diet_note", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for empty input")
	}
}

func TestMCPTool_GenerateMealPlan_Error(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Generator = &mockGenerator{err: errors.New("model unavailable")}
	handler := mcpGenerateMealPlan(deps)

	result, err := handler(context.Background(), makeCallToolRequest("generate_meal_plan", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
}

func TestMCPResource_DietProfile(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	if err := deps.Profile.SetField("diet.type", "kosher"); err != nil {
		t.Fatalf("SetField: %v", err)
	}

	handler := mcpResourceDietProfile(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("user://diet-profile"))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %v", contents)
	}

	text := contents[0].(mcp.TextResourceContents).Text
	if !strings.Contains(text, "kosher") {
		t.Errorf("resource text = %s", text)
	}
}

func TestMCPResource_LatestPlan(t *testing.T) {
	deps, store := newTestMCPDeps(t)

	err := store.SaveMealPlan(storage.MealPlan{
		ID: "plan-1", CreatedAt: time.Now().UTC(), Days: 7,
		PlanJSON:     `{"id":"plan-1","days":[{"day":"Monday","meals":[{"name":"Toast"}]}]}`,
		ShoppingJSON: `[]`,
	})
	if err != nil {
		t.Fatalf("SaveMealPlan: %v", err)
	}

	handler := mcpResourceLatestPlan(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("mealplan://latest"))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}

	text := contents[0].(mcp.TextResourceContents).Text
	if !strings.Contains(text, "plan-1") || !strings.Contains(text, "Toast") {
		t.Errorf("resource text = %s", text)
	}
}

package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/mealcart/internal/jobs"
	"github.com/kalambet/mealcart/internal/mealplan"
	"github.com/kalambet/mealcart/internal/profile"
	"github.com/kalambet/mealcart/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Profile   *profile.Manager
	Generator PlanGenerator
	Importer  NoteImporter
	CartFill  CartFillStarter // optional; if nil, fill_cart reports a config error
	Jobs      jobs.Store
}

// NewMCPServer creates an MCP server with all mealcart tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"mealcart",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("mealcart — meal planning and grocery cart filling for the user's online store."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("set_dietary_preference",
			mcp.WithDescription("Update one field of the user's dietary profile (e.g. diet.type, diet.allergies, household.size, budget.weekly)."),
			mcp.WithString("key", mcp.Description("Profile field key"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to set"), mcp.Required()),
		),
		mcpSetDietaryPreference(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_meal_plan",
			mcp.WithDescription("Generate a new meal plan from the dietary profile and imported diet notes, with an aggregated shopping list."),
		),
		mcpGenerateMealPlan(deps),
	)

	s.AddTool(
		mcp.NewTool("add_diet_note",
			mcp.WithDescription("Store dietary guidance (pasted text or a web page) to be honored by future meal plans."),
			mcp.WithString("title", mcp.Description("Title for the note")),
			mcp.WithString("content", mcp.Description("Text content of the note")),
			mcp.WithString("url", mcp.Description("Web page to import instead of pasted content")),
		),
		mcpAddDietNote(deps),
	)

	s.AddTool(
		mcp.NewTool("fill_cart",
			mcp.WithDescription("Start filling the online grocery cart with the given products, e.g. the shopping list from generate_meal_plan. Returns a job id to poll."),
			mcp.WithString("products", mcp.Required(), mcp.Description(`JSON array of {"name", "quantity"} objects, non-empty`)),
		),
		mcpFillCart(deps),
	)

	s.AddTool(
		mcp.NewTool("check_cart_progress",
			mcp.WithDescription("Check the progress of a cart-fill job by its job id."),
			mcp.WithString("job_id", mcp.Description("Job id returned by fill_cart"), mcp.Required()),
		),
		mcpCheckCartProgress(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"user://diet-profile",
			"Dietary Profile",
			mcp.WithResourceDescription("Current dietary profile as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDietProfile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"mealplan://latest",
			"Latest Meal Plan",
			mcp.WithResourceDescription("Most recently generated meal plan as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceLatestPlan(deps),
	)

	return s
}

func mcpSetDietaryPreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		if err := deps.Profile.SetField(key, value); err != nil {
			return mcpError(fmt.Sprintf("failed to set preference: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Set %s = %s", key, value)), nil
	}
}

func mcpGenerateMealPlan(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		plan, err := deps.Generator.Generate(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("plan generation failed: %v", err)), nil
		}

		b, err := json.Marshal(plan)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal plan: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddDietNote(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title := req.GetString("title", "")
		content := req.GetString("content", "")
		url := req.GetString("url", "")

		if content == "" && url == "" {
			return mcpError("one of content or url is required"), nil
		}

		var (
			note storage.DietNote
			err  error
		)
		if url != "" {
			note, err = deps.Importer.ImportURL(ctx, url, title)
		} else {
			note, err = deps.Importer.ImportText(title, content)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("import failed: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Stored diet note %s (%s)", note.ID, note.Title)), nil
	}
}

func mcpFillCart(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.CartFill == nil {
			return mcpError("cart filling is not configured: browser automation key missing"), nil
		}

		var products []jobs.Product
		if raw := req.GetString("products", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &products); err != nil {
				return mcpError(fmt.Sprintf("invalid products JSON: %v", err)), nil
			}
		}
		if err := validateProducts(products); err != nil {
			return mcpError(err.Error()), nil
		}

		jobID := deps.CartFill.Start(products)

		b, err := json.Marshal(map[string]string{
			"jobId":  jobID,
			"status": string(jobs.StatusStarted),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Started filling the cart with %d products. Poll with check_cart_progress.\n%s", len(products), b)), nil
	}
}

func mcpCheckCartProgress(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}

		j, ok := deps.Jobs.Get(jobID)
		var resp progressResponse
		if !ok {
			// Absence and expiry are the same observable outcome, reported
			// as a status rather than a tool error.
			resp = progressResponse{
				Status:         "not_found",
				AddedProducts:  []jobs.Product{},
				FailedProducts: []jobs.Product{},
			}
		} else {
			resp = snapshotResponse(j)
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal snapshot: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceDietProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		p, err := deps.Profile.GetProfile()
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}

		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceLatestPlan(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rec, err := deps.Store.GetLatestMealPlan()
		if err != nil {
			return nil, fmt.Errorf("failed to load latest plan: %w", err)
		}

		plan, err := mealplan.ParsePlan(rec)
		if err != nil {
			return nil, err
		}

		b, err := json.Marshal(plan)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal plan: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/mealcart/internal/config"
	"github.com/kalambet/mealcart/internal/ingest"
)

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the dietary profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current dietary profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/profile")
		if err != nil {
			return err
		}

		var profile any
		if err := decodeJSON(resp, &profile); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(profile)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a dietary profile field (e.g. diet.type vegetarian)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{key: value}
		resp, err := client.patch(cmd.Context(), "/api/profile", body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		ui.successf("Set %s = %s", key, value)
		return nil
	},
}

var profileEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open profile JSON in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/profile")
		if err != nil {
			return err
		}

		var profile any
		if err := decodeJSON(resp, &profile); err != nil {
			return err
		}

		data, err := json.MarshalIndent(profile, "", "  ")
		if err != nil {
			return err
		}

		tmpFile, err := os.CreateTemp("", "mealcart-profile-*.json")
		if err != nil {
			return fmt.Errorf("creating temp file: %w", err)
		}
		tmpPath := tmpFile.Name()
		defer os.Remove(tmpPath)

		if _, err := tmpFile.Write(data); err != nil {
			tmpFile.Close()
			return err
		}
		tmpFile.Close()

		editorCmd := exec.Command(editor, tmpPath)
		editorCmd.Stdin = os.Stdin
		editorCmd.Stdout = os.Stdout
		editorCmd.Stderr = os.Stderr
		if err := editorCmd.Run(); err != nil {
			return fmt.Errorf("editor exited with error: %w", err)
		}

		edited, err := os.ReadFile(tmpPath)
		if err != nil {
			return err
		}

		var fields map[string]any
		if err := json.Unmarshal(edited, &fields); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}

		patchResp, err := client.patch(cmd.Context(), "/api/profile", fields)
		if err != nil {
			return err
		}
		defer patchResp.Body.Close()

		if patchResp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", patchResp.StatusCode)
		}

		ui.successf("Profile updated")
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileEditCmd)
}

// --- plan ---

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Generate and inspect meal plans",
}

var planGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new meal plan from the dietary profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ui.stepf("Generating meal plan...")
		resp, err := client.post(cmd.Context(), "/api/meal-plans", nil)
		if err != nil {
			return err
		}

		var plan planView
		if err := decodeJSON(resp, &plan); err != nil {
			return err
		}

		printPlan(plan)
		ui.successf("Plan %s saved (%d days, %d shopping items)", plan.ID, len(plan.Days), len(plan.ShoppingList))
		return nil
	},
}

var planShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the latest meal plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/meal-plans/latest")
		if err != nil {
			return err
		}

		if asJSON {
			var raw json.RawMessage
			if err := decodeJSON(resp, &raw); err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(raw)
		}

		var plan planView
		if err := decodeJSON(resp, &plan); err != nil {
			return err
		}
		printPlan(plan)
		return nil
	},
}

type planView struct {
	ID   string `json:"id"`
	Days []struct {
		Day   string `json:"day"`
		Meals []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"meals"`
	} `json:"days"`
	ShoppingList []struct {
		Name     string `json:"name"`
		Quantity string `json:"quantity"`
	} `json:"shopping_list"`
}

func printPlan(plan planView) {
	for _, d := range plan.Days {
		fmt.Printf("\n%s\n", paint(ansiBold, d.Day))
		for _, m := range d.Meals {
			if m.Description != "" {
				fmt.Printf("  • %s — %s\n", m.Name, m.Description)
			} else {
				fmt.Printf("  • %s\n", m.Name)
			}
		}
	}
	if len(plan.ShoppingList) > 0 {
		fmt.Printf("\n%s\n", paint(ansiBold, "Shopping list"))
		for _, item := range plan.ShoppingList {
			fmt.Printf("  %s — %s\n", item.Name, item.Quantity)
		}
	}
}

func init() {
	planShowCmd.Flags().Bool("json", false, "print the raw plan JSON")
	planCmd.AddCommand(planGenerateCmd)
	planCmd.AddCommand(planShowCmd)
}

// --- fill-cart ---

var fillCartCmd = &cobra.Command{
	Use:   "fill-cart",
	Short: "Start filling the online grocery cart",
	Long: `Start filling the online grocery cart.

Without flags, the latest meal plan's shopping list is used.

Examples:
  mealcart fill-cart
  mealcart fill-cart --products '[{"name":"Milk","quantity":"1L"}]'
  mealcart fill-cart --watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		productsJSON, _ := cmd.Flags().GetString("products")
		watch, _ := cmd.Flags().GetBool("watch")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var products []item
		if productsJSON != "" {
			if err := json.Unmarshal([]byte(productsJSON), &products); err != nil {
				return fmt.Errorf("invalid --products JSON: %w", err)
			}
		} else {
			products, err = latestShoppingList(cmd.Context(), client)
			if err != nil {
				return err
			}
			ui.stepf("Using the latest plan's shopping list (%d items)", len(products))
		}

		resp, err := client.post(cmd.Context(), "/api/fill-cart", map[string]any{"products": products})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		jobID := result["jobId"]
		ui.successf("Cart fill started, job %s", jobID)

		if watch {
			return watchProgress(cmd.Context(), client, jobID)
		}
		ui.stepf("Poll with: mealcart progress %s", jobID)
		return nil
	},
}

func init() {
	fillCartCmd.Flags().String("products", "", `JSON array of {"name","quantity"} objects (default: latest plan's shopping list)`)
	fillCartCmd.Flags().Bool("watch", false, "poll progress until the job finishes")
}

// latestShoppingList fetches the stored plan's shopping list so the server
// only ever sees an explicit product list.
func latestShoppingList(ctx context.Context, client *apiClient) ([]item, error) {
	resp, err := client.get(ctx, "/api/meal-plans/latest")
	if err != nil {
		return nil, err
	}

	var plan struct {
		ShoppingList []item `json:"shopping_list"`
	}
	if err := decodeJSON(resp, &plan); err != nil {
		return nil, fmt.Errorf("no usable meal plan; pass --products or run `mealcart plan generate` first: %w", err)
	}
	if len(plan.ShoppingList) == 0 {
		return nil, fmt.Errorf("the latest plan has an empty shopping list; pass --products")
	}
	return plan.ShoppingList, nil
}

// --- progress ---

type progressView struct {
	Status         string `json:"status"`
	AddedProducts  []item `json:"added_products"`
	FailedProducts []item `json:"failed_products"`
	CartURL        string `json:"cart_url"`
	Error          string `json:"error"`
	CurrentProduct string `json:"current_product"`
}

type item struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
}

var progressCmd = &cobra.Command{
	Use:   "progress <jobId>",
	Short: "Check cart-fill job progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if watch {
			return watchProgress(cmd.Context(), client, args[0])
		}

		p, err := fetchProgress(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printProgress(p)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past cart-fill runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/cart-runs?limit=%d", limit))
		if err != nil {
			return err
		}

		var runs []struct {
			JobID       string    `json:"JobID"`
			Status      string    `json:"Status"`
			AddedCount  int       `json:"AddedCount"`
			FailedCount int       `json:"FailedCount"`
			CartURL     string    `json:"CartURL"`
			CreatedAt   time.Time `json:"CreatedAt"`
		}
		if err := decodeJSON(resp, &runs); err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No cart runs recorded.")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%s  %s  %s  added=%d failed=%d\n",
				paint(ansiCyan, shortID(r.JobID)),
				r.CreatedAt.Format("2006-01-02 15:04"),
				r.Status, r.AddedCount, r.FailedCount)
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func fetchProgress(ctx context.Context, client *apiClient, jobID string) (progressView, error) {
	resp, err := client.get(ctx, "/api/fill-cart/progress/"+jobID)
	if err != nil {
		return progressView{}, err
	}
	var p progressView
	if err := decodeJSON(resp, &p); err != nil {
		return progressView{}, err
	}
	return p, nil
}

func printProgress(p progressView) {
	ui.field("Status", "%s", p.Status)
	if p.CurrentProduct != "" {
		ui.field("Working on", "%s", p.CurrentProduct)
	}
	ui.field("Added", "%d", len(p.AddedProducts))
	for _, it := range p.AddedProducts {
		fmt.Printf("    %s %s — %s\n", paint(ansiGreen, "+"), it.Name, it.Quantity)
	}
	if len(p.FailedProducts) > 0 {
		ui.field("Failed", "%d", len(p.FailedProducts))
		for _, it := range p.FailedProducts {
			fmt.Printf("    %s %s — %s\n", paint(ansiRed, "-"), it.Name, it.Quantity)
		}
	}
	if p.CartURL != "" {
		ui.field("Cart", "%s", p.CartURL)
	}
	if p.Error != "" {
		ui.errorf("%s", p.Error)
	}
}

func watchProgress(ctx context.Context, client *apiClient, jobID string) error {
	for {
		p, err := fetchProgress(ctx, client, jobID)
		if err != nil {
			return err
		}

		switch p.Status {
		case "completed":
			printProgress(p)
			ui.successf("Cart fill completed")
			return nil
		case "failed":
			printProgress(p)
			return fmt.Errorf("cart fill failed: %s", p.Error)
		case "not_found":
			return fmt.Errorf("job %s not found or expired", jobID)
		}

		if p.CurrentProduct != "" {
			ui.stepf("%s (added %d, failed %d)", p.CurrentProduct, len(p.AddedProducts), len(p.FailedProducts))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
}

func init() {
	progressCmd.Flags().Bool("watch", false, "poll until the job finishes")
	historyCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	progressCmd.AddCommand(historyCmd)
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import dietary guidance as a diet note",
	Long: `Import dietary guidance as a diet note for future meal plans.

Examples:
  mealcart import --text "No red meat on weekdays" --title "House rule"
  mealcart import --url https://example.com/mediterranean-diet
  mealcart import --pdf ./nutritionist-plan.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		url, _ := cmd.Flags().GetString("url")
		pdfPath, _ := cmd.Flags().GetString("pdf")
		title, _ := cmd.Flags().GetString("title")

		if text == "" && url == "" && pdfPath == "" {
			return fmt.Errorf("one of --text, --url, or --pdf is required")
		}

		req := map[string]any{}
		if title != "" {
			req["title"] = title
		}

		switch {
		case url != "":
			req["type"] = "url"
			req["url"] = url
		case pdfPath != "":
			content, err := ingest.ExtractPDF(pdfPath)
			if err != nil {
				return err
			}
			req["type"] = "text"
			req["content"] = content
			if title == "" {
				req["title"] = strings.TrimSuffix(pdfPath, ".pdf")
			}
		default:
			req["type"] = "text"
			req["content"] = text
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/diet-notes", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		ui.successf("Stored diet note %s (%s)", result["id"], result["title"])
		return nil
	},
}

func init() {
	importCmd.Flags().String("text", "", "text content to import")
	importCmd.Flags().String("url", "", "URL to fetch and import")
	importCmd.Flags().String("pdf", "", "PDF file to extract and import")
	importCmd.Flags().String("title", "", "title for the note")
}

// --- notes ---

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Manage imported diet notes",
}

var notesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List diet notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/diet-notes?limit=%d", limit))
		if err != nil {
			return err
		}

		var notes []struct {
			ID        string    `json:"ID"`
			Title     string    `json:"Title"`
			Source    string    `json:"Source"`
			CreatedAt time.Time `json:"CreatedAt"`
		}
		if err := decodeJSON(resp, &notes); err != nil {
			return err
		}

		if len(notes) == 0 {
			fmt.Println("No diet notes stored.")
			return nil
		}
		for _, n := range notes {
			fmt.Printf("%s  %s  %s  (%s)\n",
				paint(ansiCyan, shortID(n.ID)),
				n.CreatedAt.Format("2006-01-02"),
				n.Title, n.Source)
		}
		return nil
	},
}

var notesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a diet note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/api/diet-notes/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		ui.successf("Deleted note %s", args[0])
		return nil
	},
}

func init() {
	notesListCmd.Flags().Int("limit", 20, "maximum number of notes to list")
	notesCmd.AddCommand(notesListCmd)
	notesCmd.AddCommand(notesDeleteCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", paint(ansiBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		ui.successf("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

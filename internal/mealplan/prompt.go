package mealplan

import (
	"fmt"
	"strings"

	"github.com/kalambet/mealcart/internal/storage"
)

func systemPrompt(days int) string {
	return fmt.Sprintf(`You are a meal planning assistant. Produce a %d-day meal plan as a JSON object with this exact shape:
{
  "days": [
    {"day": "Monday", "meals": [
      {"name": "...", "description": "...", "ingredients": [{"name": "...", "quantity": "..."}]}
    ]}
  ],
  "shopping_list": [{"name": "...", "quantity": "..."}]
}
Rules:
- Plan breakfast, lunch and dinner for each day.
- Quantities are purchasable grocery amounts (e.g. "1L", "500g", "2"), not cooking measures.
- The shopping_list aggregates every ingredient across the whole plan, one entry per distinct item.
- Respect the dietary profile and notes strictly. Never include an allergen.
Return only the JSON object.`, days)
}

func userPrompt(profileSummary string, notes []storage.DietNote) string {
	var b strings.Builder
	b.WriteString("Dietary profile:\n")
	if profileSummary == "" {
		b.WriteString("(no profile set, plan balanced general meals)\n")
	} else {
		b.WriteString(profileSummary)
		b.WriteString("\n")
	}
	if len(notes) > 0 {
		b.WriteString("\nDiet notes to take into account:\n")
		for _, n := range notes {
			fmt.Fprintf(&b, "- %s: %s\n", n.Title, clip(n.Content, maxNoteContext))
		}
	}
	return b.String()
}

// maxNoteContext caps how much of each diet note enters the prompt.
const maxNoteContext = 1500

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

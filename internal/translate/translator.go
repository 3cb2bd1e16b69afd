package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

const maxTerms = 3

// ChatClient abstracts the LLM call the Translator needs.
// Implemented by llm.Client.
type ChatClient interface {
	CompleteJSON(ctx context.Context, model, system, user string) (string, error)
}

// Translator proposes ranked search terms for a product name in the target
// store's language. It never fails: any error degrades to the original name.
type Translator struct {
	llm      ChatClient
	model    string
	language string
	logger   *slog.Logger
}

// New creates a Translator targeting the given language (e.g. "Hebrew").
func New(llm ChatClient, model, language string) *Translator {
	return &Translator{
		llm:      llm,
		model:    model,
		language: language,
		logger:   slog.Default(),
	}
}

type termsResponse struct {
	Terms []string `json:"terms"`
}

// Translate returns 1-3 ranked search terms for the product name in the
// target language. On any error (API, malformed output, empty result) it
// returns [name] so callers can proceed with the original.
func (t *Translator) Translate(ctx context.Context, name string) []string {
	system := fmt.Sprintf(
		"You translate grocery product names into %s search terms for an online supermarket. "+
			"Respond with a JSON object {\"terms\": [...]} holding 1 to 3 search terms, "+
			"best match first. Use terms a local shopper would type into the store's search box.",
		t.language,
	)

	out, err := t.llm.CompleteJSON(ctx, t.model, system, name)
	if err != nil {
		t.logger.Warn("translation failed, using original name", "product", name, "error", err)
		return []string{name}
	}

	var resp termsResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.logger.Warn("malformed translation response, using original name", "product", name, "error", err)
		return []string{name}
	}

	var terms []string
	for _, term := range resp.Terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		terms = append(terms, term)
		if len(terms) == maxTerms {
			break
		}
	}
	if len(terms) == 0 {
		return []string{name}
	}
	return terms
}

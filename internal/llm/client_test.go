package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/openai/openai-go/v3"
)

func TestIsRateLimit(t *testing.T) {
	if isRateLimit(errors.New("boom")) {
		t.Error("plain error classified as rate limit")
	}
	if isRateLimit(nil) {
		t.Error("nil classified as rate limit")
	}

	apiErr := &openai.Error{StatusCode: 429}
	if !isRateLimit(apiErr) {
		t.Error("429 not classified as rate limit")
	}
	if !isRateLimit(fmt.Errorf("calling api: %w", apiErr)) {
		t.Error("wrapped 429 not classified as rate limit")
	}

	if isRateLimit(&openai.Error{StatusCode: 500}) {
		t.Error("500 classified as rate limit")
	}
}

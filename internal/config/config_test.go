package config

import (
	"strings"
	"testing"
)

// memBackend is an in-memory ConfigBackend for tests.
type memBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{strings: make(map[string]string), ints: make(map[string]int)}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *memBackend) SetString(key, val string) error { m.strings[key] = val; return nil }
func (m *memBackend) SetInt(key string, val int) error { m.ints[key] = val; return nil }
func (m *memBackend) Delete(key string) error {
	delete(m.strings, key)
	delete(m.ints, key)
	return nil
}

func TestDefaults(t *testing.T) {
	t.Setenv("MEALCART_OPENAI_API_KEY", "test-key")

	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.OpenAI.PlanModel != "gpt-4o" {
		t.Errorf("OpenAI.PlanModel = %q, want %q", cfg.OpenAI.PlanModel, "gpt-4o")
	}
	if cfg.Anchor.BaseURL != "https://api.anchorbrowser.io" {
		t.Errorf("Anchor.BaseURL = %q, want %q", cfg.Anchor.BaseURL, "https://api.anchorbrowser.io")
	}
	if cfg.Cart.SearchLanguage != "Hebrew" {
		t.Errorf("Cart.SearchLanguage = %q, want %q", cfg.Cart.SearchLanguage, "Hebrew")
	}
	if cfg.Cart.ProductSteps != 25 {
		t.Errorf("Cart.ProductSteps = %d, want 25", cfg.Cart.ProductSteps)
	}
	if cfg.Plan.Days != 7 {
		t.Errorf("Plan.Days = %d, want 7", cfg.Plan.Days)
	}
}

func TestBackendValues(t *testing.T) {
	t.Setenv("MEALCART_OPENAI_API_KEY", "test-key")

	b := newMemBackend()
	b.SetInt("server.port", 5600)
	b.SetString("cart.store_url", "https://example-grocer.test")
	b.SetString("openai.images_enabled", "true")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5600 {
		t.Errorf("Server.Port = %d, want 5600", cfg.Server.Port)
	}
	if cfg.Cart.StoreURL != "https://example-grocer.test" {
		t.Errorf("Cart.StoreURL = %q", cfg.Cart.StoreURL)
	}
	if !cfg.OpenAI.ImagesEnabled {
		t.Error("OpenAI.ImagesEnabled = false, want true")
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	t.Setenv("MEALCART_OPENAI_API_KEY", "test-key")
	t.Setenv("MEALCART_CART_SEARCH_LANGUAGE", "French")

	b := newMemBackend()
	b.SetString("cart.search_language", "Spanish")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Cart.SearchLanguage != "French" {
		t.Errorf("Cart.SearchLanguage = %q, want %q", cfg.Cart.SearchLanguage, "French")
	}
}

func TestMissingAPIKey(t *testing.T) {
	t.Setenv("MEALCART_OPENAI_API_KEY", "")

	_, err := loadWith(newMemBackend())
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q, want it to mention missing required config", err)
	}
}

func TestSecretNotSettableViaBackend(t *testing.T) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if err := SetKey(s.key, "x"); err == nil {
			t.Errorf("SetKey(%q) succeeded, want refusal for secret key", s.key)
		}
	}
}

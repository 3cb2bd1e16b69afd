package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "MEALCART_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "MEALCART_SERVER_TOKEN",
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "openai.api_key", typ: kString, env: "MEALCART_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.plan_model", typ: kString, env: "MEALCART_OPENAI_PLAN_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.PlanModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.PlanModel },
	},
	{
		key: "openai.translate_model", typ: kString, env: "MEALCART_OPENAI_TRANSLATE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.TranslateModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.TranslateModel },
	},
	{
		key: "openai.image_model", typ: kString, env: "MEALCART_OPENAI_IMAGE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.ImageModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.ImageModel },
	},
	{
		key: "openai.images_enabled", typ: kBool, env: "MEALCART_OPENAI_IMAGES_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.ImagesEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.OpenAI.ImagesEnabled },
	},
	{
		key: "anchor.api_key", typ: kString, env: "MEALCART_ANCHOR_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Anchor.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Anchor.APIKey },
	},
	{
		key: "anchor.base_url", typ: kString, env: "MEALCART_ANCHOR_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Anchor.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Anchor.BaseURL },
	},
	{
		key: "anchor.profile_name", typ: kString, env: "MEALCART_ANCHOR_PROFILE_NAME",
		apply:   func(cfg *Config, v any) { cfg.Anchor.ProfileName = v.(string) },
		extract: func(cfg Config) any { return cfg.Anchor.ProfileName },
	},
	{
		key: "anchor.region", typ: kString, env: "MEALCART_ANCHOR_REGION",
		apply:   func(cfg *Config, v any) { cfg.Anchor.Region = v.(string) },
		extract: func(cfg Config) any { return cfg.Anchor.Region },
	},
	{
		key: "cart.store_url", typ: kString, env: "MEALCART_CART_STORE_URL",
		apply:   func(cfg *Config, v any) { cfg.Cart.StoreURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cart.StoreURL },
	},
	{
		key: "cart.search_language", typ: kString, env: "MEALCART_CART_SEARCH_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Cart.SearchLanguage = v.(string) },
		extract: func(cfg Config) any { return cfg.Cart.SearchLanguage },
	},
	{
		key: "cart.setup_steps", typ: kInt, env: "MEALCART_CART_SETUP_STEPS",
		apply:   func(cfg *Config, v any) { cfg.Cart.SetupSteps = v.(int) },
		extract: func(cfg Config) any { return cfg.Cart.SetupSteps },
	},
	{
		key: "cart.product_steps", typ: kInt, env: "MEALCART_CART_PRODUCT_STEPS",
		apply:   func(cfg *Config, v any) { cfg.Cart.ProductSteps = v.(int) },
		extract: func(cfg Config) any { return cfg.Cart.ProductSteps },
	},
	{
		key: "cart.navigate_steps", typ: kInt, env: "MEALCART_CART_NAVIGATE_STEPS",
		apply:   func(cfg *Config, v any) { cfg.Cart.NavigateSteps = v.(int) },
		extract: func(cfg Config) any { return cfg.Cart.NavigateSteps },
	},
	{
		key: "plan.days", typ: kInt, env: "MEALCART_PLAN_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Plan.Days = v.(int) },
		extract: func(cfg Config) any { return cfg.Plan.Days },
	},
	{
		key: "plan.max_notes", typ: kInt, env: "MEALCART_PLAN_MAX_NOTES",
		apply:   func(cfg *Config, v any) { cfg.Plan.MaxNotes = v.(int) },
		extract: func(cfg Config) any { return cfg.Plan.MaxNotes },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MEALCART_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "MEALCART_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

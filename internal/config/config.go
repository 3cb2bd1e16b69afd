package config

import (
	"fmt"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	OpenAI  OpenAIConfig
	Anchor  AnchorConfig
	Cart    CartConfig
	Plan    PlanConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port  int
	Token string // API bearer token; generated and persisted on first start when empty
}

type OpenAIConfig struct {
	APIKey         string
	PlanModel      string
	TranslateModel string
	ImageModel     string
	ImagesEnabled  bool
}

type AnchorConfig struct {
	APIKey      string
	BaseURL     string
	ProfileName string
	Region      string
}

type CartConfig struct {
	StoreURL       string
	SearchLanguage string
	SetupSteps     int
	ProductSteps   int
	NavigateSteps  int
}

type PlanConfig struct {
	Days     int
	MaxNotes int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		OpenAI: OpenAIConfig{
			PlanModel:      "gpt-4o",
			TranslateModel: "gpt-4o-mini",
			ImageModel:     "dall-e-3",
			ImagesEnabled:  false,
		},
		Anchor: AnchorConfig{
			BaseURL:     "https://api.anchorbrowser.io",
			ProfileName: "grocery-shopper",
			Region:      "eu-central",
		},
		Cart: CartConfig{
			StoreURL:       "https://www.rami-levy.co.il",
			SearchLanguage: "Hebrew",
			SetupSteps:     12,
			ProductSteps:   25,
			NavigateSteps:  8,
		},
		Plan: PlanConfig{
			Days:     7,
			MaxNotes: 3,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/mealcart/config.json, then applies MEALCART_*
// environment variables on top. A .env file in the working directory is
// honored if present. Secrets (API keys) are environment-only and never
// written to the backend.
func Load() (Config, error) {
	// Best effort; absence of a .env file is the normal case.
	_ = godotenv.Load()
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.OpenAI.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: OpenAI API key. " +
			"Set it via environment variable MEALCART_OPENAI_API_KEY")
	}

	return cfg, nil
}

package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"

	"github.com/parleyhq/parley/pkg/chat"
	"github.com/parleyhq/parley/pkg/chat/turn"
	"github.com/parleyhq/parley/pkg/gen"
	"github.com/parleyhq/parley/pkg/kv"
)

// Config is the parleyd YAML configuration.
type Config struct {
	// Listen is the HTTP listen address, e.g. ":8080".
	Listen string `yaml:"listen"`

	// DataDir is the Badger database directory. Empty means in-memory.
	DataDir string `yaml:"data_dir"`

	// Provider selects the generation backend: "openai" or "gemini".
	Provider string `yaml:"provider"`

	OpenAI struct {
		APIKey  string           `yaml:"api_key"`
		BaseURL string           `yaml:"base_url"`
		Model   string           `yaml:"model"`
		Params  *gen.ModelParams `yaml:"params"`
	} `yaml:"openai"`

	Gemini struct {
		APIKey string           `yaml:"api_key"`
		Model  string           `yaml:"model"`
		Params *gen.ModelParams `yaml:"params"`
	} `yaml:"gemini"`

	Image struct {
		Model string `yaml:"model"`
		Size  string `yaml:"size"`
	} `yaml:"image"`

	// Plans maps user ids to subscription tiers. Unlisted users are free.
	Plans map[string]chat.Plan `yaml:"plans"`

	AnonTurnLimit int `yaml:"anon_turn_limit"`
}

// LoadConfig reads and parses the YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	return cfg, nil
}

// buildOrchestrator assembles the storage, generation, and entitlement
// collaborators described by the config.
func buildOrchestrator(ctx context.Context, cfg *Config) (*turn.Orchestrator, func() error, error) {
	store, err := kv.OpenBadger(kv.BadgerOptions{
		Dir:      cfg.DataDir,
		InMemory: cfg.DataDir == "",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	var (
		generator gen.Generator
		images    gen.ImageGenerator
	)
	switch cfg.Provider {
	case "openai":
		opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAI.APIKey)}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		client := openai.NewClient(opts...)
		generator = &gen.OpenAIGenerator{
			Client:         &client,
			Model:          cfg.OpenAI.Model,
			GenerateParams: cfg.OpenAI.Params,
		}
		images = &gen.OpenAIImageGenerator{
			Client: &client,
			Model:  cfg.Image.Model,
			Size:   cfg.Image.Size,
		}
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.Gemini.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("gemini client: %w", err)
		}
		generator = &gen.GeminiGenerator{
			Client:         client,
			Model:          cfg.Gemini.Model,
			GenerateParams: cfg.Gemini.Params,
		}
	default:
		store.Close()
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	chatStore := chat.NewStore(store)
	orch := &turn.Orchestrator{
		Store:         chatStore,
		Catalog:       chat.NewCatalog(chatStore),
		Entitlements:  chat.StaticEntitlements(cfg.Plans),
		Generator:     generator,
		Images:        images,
		AnonTurnLimit: cfg.AnonTurnLimit,
	}
	return orch, store.Close, nil
}

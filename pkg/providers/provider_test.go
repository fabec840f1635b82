package providers

import (
	"testing"

	"github.com/echodial/echodial/pkg/config"
)

func TestInferProviderFromModel(t *testing.T) {
	cases := map[string]string{
		"claude-sonnet-4-5": "anthropic",
		"claude-haiku-4-5":  "anthropic",
		"gpt-4o":            "openai",
		"o3-mini":           "openai",
		"":                  "unknown",
		"mystery-model":     "unknown",
	}
	for model, want := range cases {
		if got := InferProviderFromModel(model); got != want {
			t.Errorf("InferProviderFromModel(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestCreateProviderForModelRequiresKey(t *testing.T) {
	cfg := config.DefaultConfig()

	if _, err := CreateProviderForModel(cfg, "claude-sonnet-4-5"); err == nil {
		t.Fatal("expected error without anthropic key")
	}

	cfg.Providers.Anthropic.APIKey = "sk-ant-test"
	p, err := CreateProviderForModel(cfg, "claude-sonnet-4-5")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p == nil {
		t.Fatal("expected provider")
	}
}

func TestCreateProviderForModelUnknown(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := CreateProviderForModel(cfg, "mystery-model"); err == nil {
		t.Fatal("expected error for unknown model family")
	}
}

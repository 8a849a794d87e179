package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Addrs: []string{"localhost:6379"}},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()

	if cfg.Database.Driver != "redis" {
		t.Errorf("driver = %q, want redis", cfg.Database.Driver)
	}
	if cfg.Catalog.Collection != "211_gta" {
		t.Errorf("collection = %q, want 211_gta", cfg.Catalog.Collection)
	}
	if cfg.Recommend.RelevancyWeight != 0.5 {
		t.Errorf("relevancy_weight = %g, want 0.5", cfg.Recommend.RelevancyWeight)
	}
	if cfg.Recommend.CandidatePoolSize != 20 {
		t.Errorf("candidate_pool_size = %d, want 20", cfg.Recommend.CandidatePoolSize)
	}
	if cfg.Recommend.RerankTopK != 5 {
		t.Errorf("rerank_top_k = %d, want 5", cfg.Recommend.RerankTopK)
	}
	if cfg.Recommend.DefaultRadius != 5000 {
		t.Errorf("default_radius = %g, want 5000", cfg.Recommend.DefaultRadius)
	}
	if cfg.Recommend.MaxRefinementRounds != 5 {
		t.Errorf("max_refinement_rounds = %d, want 5", cfg.Recommend.MaxRefinementRounds)
	}
	if cfg.Recommend.ClassifierFailurePolicy != ClassifierPolicyOpen {
		t.Errorf("classifier_failure_policy = %q, want open", cfg.Recommend.ClassifierFailurePolicy)
	}
	if cfg.LLM.MaxRetries != 0 {
		t.Errorf("max_retries = %d, want 0", cfg.LLM.MaxRetries)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("embedding model = %q", cfg.Embedding.Model)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_MissingAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Addrs = nil

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing addrs")
	}
}

func TestValidate_InvalidPolicy(t *testing.T) {
	cfg := validConfig()
	cfg.Recommend.ClassifierFailurePolicy = "sometimes"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid policy")
	}
	expected := `recommend.classifier_failure_policy must be "open", "closed" or "fail", got "sometimes"`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_ValidPolicies(t *testing.T) {
	for _, policy := range []string{ClassifierPolicyOpen, ClassifierPolicyClosed, ClassifierPolicyFail} {
		t.Run(policy, func(t *testing.T) {
			cfg := validConfig()
			cfg.Recommend.ClassifierFailurePolicy = policy
			if err := cfg.Validate(); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidate_RelevancyWeightOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Recommend.RelevancyWeight = 1.5

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for relevancy weight > 1")
	}
}

func TestValidate_TopKAbovePool(t *testing.T) {
	cfg := validConfig()
	cfg.Recommend.RerankTopK = 30

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when top_k exceeds pool size")
	}
}

func TestValidate_UnknownProvider(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Provider = "anthropic"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown llm provider")
	}
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("HEALTHREC_TEST_KEY", "sk-test")

	cfg, err := Parse([]byte(`
http:
  port: 9000
database:
  addrs: ["${HEALTHREC_TEST_ADDR:-localhost:6380}"]
llm:
  api_key: ${HEALTHREC_TEST_KEY}
  timeouts:
    compose: 45s
recommend:
  relevancy_weight: 0.7
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Addrs[0] != "localhost:6380" {
		t.Errorf("addr = %q, want default", cfg.Database.Addrs[0])
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("api_key = %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Timeouts.Compose != 45*time.Second {
		t.Errorf("compose timeout = %v", cfg.LLM.Timeouts.Compose)
	}
	if cfg.LLM.Timeouts.Classify != 10*time.Second {
		t.Errorf("classify timeout = %v, want default", cfg.LLM.Timeouts.Classify)
	}
	if cfg.Recommend.RelevancyWeight != 0.7 {
		t.Errorf("relevancy_weight = %g", cfg.Recommend.RelevancyWeight)
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("http:\n  port: 8080\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "database.addrs") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("HEALTHREC_SET", "value")

	got := string(expandEnvVars([]byte("a=${HEALTHREC_SET} b=${HEALTHREC_UNSET:-fallback} c=${HEALTHREC_UNSET}")))
	want := "a=value b=fallback c="
	if got != want {
		t.Errorf("expandEnvVars = %q, want %q", got, want)
	}
}

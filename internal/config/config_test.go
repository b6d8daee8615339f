package config

import (
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatValid(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.65")
	v, err := envFloat("TEST_FLOAT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0.65 {
		t.Fatalf("expected 0.65, got %f", v)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "nope")
	_, err := envFloat("TEST_FLOAT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-float value, got nil")
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("DECIOLOG_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid DECIOLOG_PORT")
	}
	if got := err.Error(); !contains(got, "DECIOLOG_PORT") || !contains(got, "abc") {
		t.Fatalf("error should mention DECIOLOG_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("DECIOLOG_PORT", "abc")
	t.Setenv("DECIOLOG_EMBEDDING_DIMENSIONS", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !contains(got, "DECIOLOG_PORT") {
		t.Fatalf("error should mention DECIOLOG_PORT, got: %s", got)
	}
	if !contains(got, "DECIOLOG_EMBEDDING_DIMENSIONS") {
		t.Fatalf("error should mention DECIOLOG_EMBEDDING_DIMENSIONS, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.EmbeddingDimensions != 1536 {
		t.Fatalf("expected default embedding dimensions 1536, got %d", cfg.EmbeddingDimensions)
	}
	if cfg.JWTPublicKeyPath != "" {
		t.Fatal("expected empty JWT public key path by default")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstring(s, substr)
}

func searchSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestLoad_JWTKeyPathValidation(t *testing.T) {
	bogusPath := "/tmp/deciolog-test-nonexistent-key-file.pem"
	t.Setenv("DECIOLOG_JWT_PUBLIC_KEY", bogusPath)

	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail when DECIOLOG_JWT_PUBLIC_KEY points to a nonexistent file")
	}
	got := err.Error()
	if !contains(got, bogusPath) {
		t.Fatalf("error should mention the path %q, got: %s", bogusPath, got)
	}
	if !contains(got, "DECIOLOG_JWT_PUBLIC_KEY") {
		t.Fatalf("error should mention DECIOLOG_JWT_PUBLIC_KEY, got: %s", got)
	}
}

func TestLoad_OTELEndpointParsing(t *testing.T) {
	endpoint := "https://otel.example.com:4317"
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", endpoint)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	if cfg.OTELEndpoint != endpoint {
		t.Fatalf("expected OTELEndpoint %q, got %q", endpoint, cfg.OTELEndpoint)
	}
}

func TestLoad_EmbeddingProviderSelection(t *testing.T) {
	t.Setenv("DECIOLOG_EMBEDDING_PROVIDER", "ollama")
	t.Setenv("OLLAMA_URL", "http://localhost:11434")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	if cfg.EmbeddingProvider != "ollama" {
		t.Fatalf("expected EmbeddingProvider %q, got %q", "ollama", cfg.EmbeddingProvider)
	}
	if cfg.OllamaURL != "http://localhost:11434" {
		t.Fatalf("expected OllamaURL %q, got %q", "http://localhost:11434", cfg.OllamaURL)
	}
}

func TestLoad_QdrantURLValidation(t *testing.T) {
	t.Run("explicit URL", func(t *testing.T) {
		qdrantURL := "https://qdrant.example.com:6334"
		t.Setenv("QDRANT_URL", qdrantURL)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("expected Load() to succeed, got: %v", err)
		}
		if cfg.QdrantURL != qdrantURL {
			t.Fatalf("expected QdrantURL %q, got %q", qdrantURL, cfg.QdrantURL)
		}
	})

	t.Run("empty default", func(t *testing.T) {
		cfg, err := Load()
		if err != nil {
			t.Fatalf("expected Load() to succeed, got: %v", err)
		}
		if cfg.QdrantURL != "" {
			t.Fatalf("expected empty QdrantURL by default, got %q", cfg.QdrantURL)
		}
	})
}

func TestLoad_AllEnvVarsHonored(t *testing.T) {
	t.Setenv("DECIOLOG_PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/testdb")
	t.Setenv("DECIOLOG_NEO4J_URI", "neo4j://db:7687")
	t.Setenv("REDIS_URL", "redis://db:6379/1")
	t.Setenv("DECIOLOG_EMBEDDING_DIMENSIONS", "768")
	t.Setenv("OTEL_SERVICE_NAME", "deciolog-test")
	t.Setenv("DECIOLOG_LOG_LEVEL", "debug")
	t.Setenv("DECIOLOG_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("DECIOLOG_INGEST_CANCEL_TTL", "15s")
	t.Setenv("DECIOLOG_INGEST_JOB_TTL", "2h")
	t.Setenv("DECIOLOG_HIGH_CONFIDENCE_THRESHOLD", "0.9")
	t.Setenv("DECIOLOG_SIMILARITY_THRESHOLD", "0.6")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}

	if cfg.Port != 9090 {
		t.Fatalf("expected Port 9090, got %d", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://test:test@db:5432/testdb" {
		t.Fatalf("expected DatabaseURL %q, got %q", "postgres://test:test@db:5432/testdb", cfg.DatabaseURL)
	}
	if cfg.Neo4jURI != "neo4j://db:7687" {
		t.Fatalf("expected Neo4jURI %q, got %q", "neo4j://db:7687", cfg.Neo4jURI)
	}
	if cfg.RedisURL != "redis://db:6379/1" {
		t.Fatalf("expected RedisURL %q, got %q", "redis://db:6379/1", cfg.RedisURL)
	}
	if cfg.EmbeddingDimensions != 768 {
		t.Fatalf("expected EmbeddingDimensions 768, got %d", cfg.EmbeddingDimensions)
	}
	if cfg.ServiceName != "deciolog-test" {
		t.Fatalf("expected ServiceName %q, got %q", "deciolog-test", cfg.ServiceName)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected LogLevel %q, got %q", "debug", cfg.LogLevel)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("expected 2 CORS origins, got %d", len(cfg.CORSAllowedOrigins))
	}
	if cfg.CORSAllowedOrigins[0] != "https://a.example.com" {
		t.Fatalf("expected first CORS origin %q, got %q", "https://a.example.com", cfg.CORSAllowedOrigins[0])
	}
	if cfg.IngestCancelTTL != 15*time.Second {
		t.Fatalf("expected IngestCancelTTL 15s, got %s", cfg.IngestCancelTTL)
	}
	if cfg.IngestJobTTL != 2*time.Hour {
		t.Fatalf("expected IngestJobTTL 2h, got %s", cfg.IngestJobTTL)
	}
	if cfg.HighConfidenceThreshold != 0.9 {
		t.Fatalf("expected HighConfidenceThreshold 0.9, got %f", cfg.HighConfidenceThreshold)
	}
	if cfg.SimilarityThreshold != 0.6 {
		t.Fatalf("expected SimilarityThreshold 0.6, got %f", cfg.SimilarityThreshold)
	}
}

func TestValidate_RejectsOutOfRangeThresholds(t *testing.T) {
	t.Setenv("DECIOLOG_HIGH_CONFIDENCE_THRESHOLD", "1.5")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with out-of-range threshold")
	}
	if !contains(err.Error(), "DECIOLOG_HIGH_CONFIDENCE_THRESHOLD") {
		t.Fatalf("error should mention DECIOLOG_HIGH_CONFIDENCE_THRESHOLD, got: %s", err.Error())
	}
}

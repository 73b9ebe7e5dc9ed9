package app

import (
	"net/http"
	"testing"
	"time"
)

type fakeEnv map[string]string

func (f fakeEnv) Lookup(key string) string {
	return f[key]
}

func TestResolveBuilder_FromEnvironment(t *testing.T) {
	env := fakeEnv{
		"AUTH_JWT_SECRET":            "shh",
		"AUTH_API_TOKENS":            "tok-a, tok-b ,",
		"CALCULATION_PROVIDER_URL":   "https://factors.example.com",
		"CALCULATION_TIMEOUT_SECONDS": "5",
		"STORAGE_UPLOAD_DIR":         " /data/uploads ",
	}
	resolved := resolveBuilder([]Option{WithEnvironment(env)})

	if resolved.runtime.JWTSecret != "shh" {
		t.Fatalf("unexpected jwt secret: %q", resolved.runtime.JWTSecret)
	}
	if len(resolved.runtime.APITokens) != 2 || resolved.runtime.APITokens[0] != "tok-a" || resolved.runtime.APITokens[1] != "tok-b" {
		t.Fatalf("tokens not split/trimmed: %v", resolved.runtime.APITokens)
	}
	if resolved.runtime.Calculation.ProviderURL != "https://factors.example.com" {
		t.Fatalf("provider url not captured: %q", resolved.runtime.Calculation.ProviderURL)
	}
	if resolved.runtime.Calculation.TimeoutSeconds != 5 {
		t.Fatalf("timeout not parsed: %d", resolved.runtime.Calculation.TimeoutSeconds)
	}
	if resolved.runtime.Storage.UploadDir != "/data/uploads" {
		t.Fatalf("upload dir not trimmed: %q", resolved.runtime.Storage.UploadDir)
	}
	if resolved.runtime.Storage.ReportDir != "./data/reports" {
		t.Fatalf("expected default report dir, got %q", resolved.runtime.Storage.ReportDir)
	}
}

func TestResolveBuilder_WithRuntimeConfigOverridesEnv(t *testing.T) {
	env := fakeEnv{"AUTH_JWT_SECRET": "from-env"}
	cfg := RuntimeConfig{JWTSecret: "from-option"}
	resolved := resolveBuilder([]Option{WithEnvironment(env), WithRuntimeConfig(cfg)})
	if resolved.runtime.JWTSecret != "from-option" {
		t.Fatalf("expected explicit runtime config to win, got %q", resolved.runtime.JWTSecret)
	}
}

func TestResolveBuilder_CustomHTTPClient(t *testing.T) {
	client := &http.Client{Timeout: time.Second}
	resolved := resolveBuilder([]Option{WithHTTPClient(client)})
	if resolved.httpClient != client {
		t.Fatalf("custom http client not applied")
	}
}

func TestEnvInt_FallsBackOnInvalid(t *testing.T) {
	env := fakeEnv{"FOO": "not-a-number"}
	if v := envInt(env, "FOO", 42); v != 42 {
		t.Fatalf("expected fallback default, got %d", v)
	}
	env["FOO"] = "7"
	if v := envInt(env, "FOO", 42); v != 7 {
		t.Fatalf("expected parsed value, got %d", v)
	}
}

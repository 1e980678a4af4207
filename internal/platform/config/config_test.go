package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "safe2tow-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "safe2tow-dev" || cfg.Events.ProjectID != "safe2tow-dev" {
		t.Errorf("expected projects to default to firebase project, got %s/%s", cfg.Firestore.ProjectID, cfg.Events.ProjectID)
	}
	if cfg.AI.Model != defaultAIModel || cfg.AI.Timeout != defaultAITimeout {
		t.Errorf("unexpected ai defaults: %+v", cfg.AI)
	}
	if cfg.AI.RetryEnabled() {
		t.Errorf("expected retries to be disabled by default")
	}
	if cfg.PlateDecoder.Endpoint != defaultPlateDecoderEndpoint {
		t.Errorf("unexpected plate decoder endpoint %s", cfg.PlateDecoder.Endpoint)
	}
	if cfg.PSP.ProPriceCents != defaultProPriceCents || cfg.PSP.Currency != "usd" {
		t.Errorf("unexpected psp defaults: %+v", cfg.PSP)
	}
	if cfg.Storage.ArchiveEnabled() || cfg.Events.PublishEnabled() {
		t.Errorf("expected archive and events to be disabled without bucket/topic")
	}
	if cfg.RateLimits.LookupPerMinute != defaultRateLimitLookup {
		t.Errorf("unexpected lookup rate limit: %d", cfg.RateLimits.LookupPerMinute)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 || cfg.Security.OIDC.Issuers[0] != defaultSecurityIssuer {
		t.Errorf("expected default issuer, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader || cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency defaults: %+v", cfg.Idempotency)
	}
	if cfg.Retention.SearchLogs != defaultSearchLogRetention {
		t.Errorf("unexpected retention: %s", cfg.Retention.SearchLogs)
	}
	if cfg.Features.DevProToggle {
		t.Errorf("dev pro toggle must default to off")
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":               "9090",
		"API_SERVER_WRITE_TIMEOUT":      "2m",
		"API_FIREBASE_PROJECT_ID":       "safe2tow-prod",
		"API_FIRESTORE_PROJECT_ID":      "safe2tow-db",
		"API_AI_API_KEY":                "secret://gemini/api-key",
		"API_AI_MODEL":                  "gemini-2.5-pro",
		"API_AI_RETRY_ATTEMPTS":         "3",
		"API_AI_RETRY_INITIAL":          "1s",
		"API_PLATE_DECODER_API_KEY":     "sm://autodev/key",
		"API_PSP_STRIPE_API_KEY":        "secret://stripe/api",
		"API_PSP_STRIPE_WEBHOOK_SECRET": "secret://stripe/webhook",
		"API_PSP_PRO_PRICE_CENTS":       "1499",
		"API_PSP_CURRENCY":              "CAD",
		"API_STORAGE_SCAN_BUCKET":       "safe2tow-scans",
		"API_STORAGE_SCAN_PREFIX":       "/uploads/",
		"API_EVENTS_SEARCH_TOPIC":       "search-completed",
		"API_RATELIMIT_LOOKUP_PER_MIN":  "5",
		"API_FEATURES_DEV_PRO_TOGGLE":   "yes",
		"API_SECURITY_ENVIRONMENT":      "PROD",
		"API_SECURITY_OIDC_AUDIENCES":   "prod=https://api.safe2tow.app, stg=https://stg.safe2tow.app",
		"API_SECURITY_OIDC_ISSUERS":     "https://accounts.google.com, https://cloud.google.com/iap",
		"API_RETENTION_SEARCH_LOGS":     "720h",
	}

	secrets := map[string]string{
		"secret://gemini/api-key": "gemini-key",
		"secret://autodev/key":    "autodev-key",
		"secret://stripe/api":     "sk_test",
		"secret://stripe/webhook": "whsec_test",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver),
		WithRequiredSecrets("AI.APIKey", "PSP.StripeAPIKey"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.WriteTimeout != 2*time.Minute {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "safe2tow-db" {
		t.Errorf("expected explicit firestore project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.AI.APIKey != "gemini-key" || cfg.AI.Model != "gemini-2.5-pro" {
		t.Errorf("unexpected ai config: %+v", cfg.AI)
	}
	if !cfg.AI.RetryEnabled() || cfg.AI.RetryInitial != time.Second {
		t.Errorf("expected retry overrides, got %+v", cfg.AI)
	}
	if cfg.PlateDecoder.APIKey != "autodev-key" {
		t.Errorf("expected sm:// reference to resolve, got %q", cfg.PlateDecoder.APIKey)
	}
	if cfg.PSP.StripeAPIKey != "sk_test" || cfg.PSP.StripeWebhookSecret != "whsec_test" {
		t.Errorf("unexpected stripe secrets: %+v", cfg.PSP)
	}
	if cfg.PSP.ProPriceCents != 1499 || cfg.PSP.Currency != "cad" {
		t.Errorf("unexpected pricing: %+v", cfg.PSP)
	}
	if cfg.Storage.ScanPrefix != "uploads" || !cfg.Storage.ArchiveEnabled() {
		t.Errorf("unexpected storage config: %+v", cfg.Storage)
	}
	if !cfg.Events.PublishEnabled() {
		t.Errorf("expected events to be enabled")
	}
	if cfg.RateLimits.LookupPerMinute != 5 {
		t.Errorf("unexpected lookup limit %d", cfg.RateLimits.LookupPerMinute)
	}
	if !cfg.Features.DevProToggle {
		t.Errorf("expected dev pro toggle to be enabled")
	}
	if cfg.Security.Environment != "prod" || cfg.Security.OIDC.Audience != "https://api.safe2tow.app" {
		t.Errorf("expected environment audience, got %s/%s", cfg.Security.Environment, cfg.Security.OIDC.Audience)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("expected two issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Retention.SearchLogs != 720*time.Hour {
		t.Errorf("unexpected retention %s", cfg.Retention.SearchLogs)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"API_AI_RETRY_ATTEMPTS":   "0",
		"API_PSP_PRO_PRICE_CENTS": "-5",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	want := map[string]bool{
		"AI.RetryAttempts":    true,
		"Firebase.ProjectID":  true,
		"Firestore.ProjectID": true,
		"PSP.ProPriceCents":   true,
	}
	fields := verr.Fields()
	if len(fields) != len(want) {
		t.Fatalf("unexpected fields %v", fields)
	}
	for _, f := range fields {
		if !want[f] {
			t.Fatalf("unexpected field %s in %v", f, fields)
		}
	}
}

func TestLoadCLIScopeSkipsServerRequirements(t *testing.T) {
	env := map[string]string{"API_AI_API_KEY": "key"}
	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithCLIScope())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.AI.APIKey != "key" {
		t.Fatalf("unexpected api key %q", cfg.AI.APIKey)
	}
}

func TestLoadSecretResolutionFailure(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "safe2tow-dev",
		"API_AI_API_KEY":          "secret://gemini/missing",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var serr *SecretError
	if !errors.As(err, &serr) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if serr.Ref != "secret://gemini/missing" || !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("unexpected secret error %#v", serr)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "safe2tow-dev"}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("AI.APIKey", "AI.APIKey", "PSP.StripeWebhookSecret"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing secrets error, got %v", err)
	}
	names := missing.Names()
	if len(names) != 2 || names[0] != "AI.APIKey" || names[1] != "PSP.StripeWebhookSecret" {
		t.Fatalf("unexpected names %v", names)
	}
	for _, redacted := range missing.RedactedNames() {
		if redacted == "AI.APIKey" || len(redacted) != 16 {
			t.Fatalf("expected hashed name, got %q", redacted)
		}
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport API_FIREBASE_PROJECT_ID=\"dotenv-project\"\nAPI_AI_MODEL='gemini-dotenv'\nmalformed-line\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(),
		WithEnvMap(map[string]string{"API_AI_MODEL": "gemini-explicit"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "dotenv-project" {
		t.Errorf("expected dotenv project, got %s", cfg.Firebase.ProjectID)
	}
	if cfg.AI.Model != "gemini-explicit" {
		t.Errorf("expected explicit map to win over dotenv, got %s", cfg.AI.Model)
	}
}

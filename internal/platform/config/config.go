package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 90 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 20 * time.Second
	defaultAIModel              = "gemini-2.5-flash"
	defaultAITimeout            = 45 * time.Second
	defaultAIRetryAttempts      = 1
	defaultAIRetryInitial       = 500 * time.Millisecond
	defaultAIRetryMax           = 4 * time.Second
	defaultPlateDecoderEndpoint = "https://api.auto.dev/v1/plate-decoder"
	defaultPlateDecoderTimeout  = 20 * time.Second
	defaultProPriceCents        = 999
	defaultCurrency             = "usd"
	defaultScanPrefix           = "scans"
	defaultRateLimitDefault     = 60
	defaultRateLimitAuth        = 120
	defaultRateLimitLookup      = 20
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultSearchLogRetention   = 365 * 24 * time.Hour
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server       ServerConfig
	Firebase     FirebaseConfig
	Firestore    FirestoreConfig
	AI           AIConfig
	PlateDecoder PlateDecoderConfig
	PSP          PSPConfig
	Storage      StorageConfig
	Events       EventsConfig
	RateLimits   RateLimitConfig
	Features     FeatureFlags
	Security     SecurityConfig
	Idempotency  IdempotencyConfig
	Retention    RetentionConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// AIConfig configures the generative backend. RetryAttempts of one disables retries.
type AIConfig struct {
	APIKey        string
	Model         string
	Timeout       time.Duration
	RetryAttempts int
	RetryInitial  time.Duration
	RetryMax      time.Duration
}

// PlateDecoderConfig configures the auto.dev plate decoder. An empty key disables plate scans.
type PlateDecoderConfig struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

// PSPConfig collects payment provider secrets and the Pro membership price.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	ProPriceCents       int64
	Currency            string
}

// StorageConfig locates the scan image archive. An empty bucket disables archiving.
type StorageConfig struct {
	ScanBucket string
	ScanPrefix string
}

// EventsConfig locates the Pub/Sub topic for search events. An empty topic disables publishing.
type EventsConfig struct {
	ProjectID string
	TopicID   string
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
	LookupPerMinute        int
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	DevProToggle bool
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal endpoints.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// RetentionConfig bounds how long search logs are kept.
type RetentionConfig struct {
	SearchLogs time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the missing secret identifiers, sorted.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns hashed identifiers that are safe to log.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
	serverScope     bool
}

func defaultOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		serverScope:  true,
	}
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over
// system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields (e.g. "AI.APIKey") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithCLIScope relaxes validation to what the operator CLI needs: no Firebase or Firestore
// project is required.
func WithCLIScope() Option {
	return func(o *loaderOptions) {
		o.serverScope = false
	}
}

// EnvironmentValues returns the effective environment after applying the same precedence as
// Load (dotenv < OS env < explicit map). main uses it to build the secret fetcher before Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the configuration from defaults, .env overrides, environment variables and
// Secret Manager references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	env, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	r := reader{env: env}

	cfg := Config{
		Server: ServerConfig{
			Port:            r.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:     r.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    r.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     r.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: r.duration("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       r.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: r.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    r.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: r.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		AI: AIConfig{
			APIKey:        r.str("API_AI_API_KEY", ""),
			Model:         r.str("API_AI_MODEL", defaultAIModel),
			Timeout:       r.duration("API_AI_TIMEOUT", defaultAITimeout),
			RetryAttempts: r.integer("API_AI_RETRY_ATTEMPTS", defaultAIRetryAttempts),
			RetryInitial:  r.duration("API_AI_RETRY_INITIAL", defaultAIRetryInitial),
			RetryMax:      r.duration("API_AI_RETRY_MAX", defaultAIRetryMax),
		},
		PlateDecoder: PlateDecoderConfig{
			APIKey:   r.str("API_PLATE_DECODER_API_KEY", ""),
			Endpoint: r.str("API_PLATE_DECODER_ENDPOINT", defaultPlateDecoderEndpoint),
			Timeout:  r.duration("API_PLATE_DECODER_TIMEOUT", defaultPlateDecoderTimeout),
		},
		PSP: PSPConfig{
			StripeAPIKey:        r.str("API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: r.str("API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			ProPriceCents:       int64(r.integer("API_PSP_PRO_PRICE_CENTS", defaultProPriceCents)),
			Currency:            strings.ToLower(r.str("API_PSP_CURRENCY", defaultCurrency)),
		},
		Storage: StorageConfig{
			ScanBucket: r.str("API_STORAGE_SCAN_BUCKET", ""),
			ScanPrefix: strings.Trim(r.str("API_STORAGE_SCAN_PREFIX", defaultScanPrefix), "/"),
		},
		Events: EventsConfig{
			ProjectID: r.str("API_EVENTS_PROJECT_ID", ""),
			TopicID:   r.str("API_EVENTS_SEARCH_TOPIC", ""),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:       r.integer("API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			AuthenticatedPerMinute: r.integer("API_RATELIMIT_AUTH_PER_MIN", defaultRateLimitAuth),
			LookupPerMinute:        r.integer("API_RATELIMIT_LOOKUP_PER_MIN", defaultRateLimitLookup),
		},
		Features: FeatureFlags{
			DevProToggle: r.boolean("API_FEATURES_DEV_PRO_TOGGLE", false),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(r.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   r.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  r.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: r.keyValues("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   r.list("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           r.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              r.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  r.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: r.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Retention: RetentionConfig{
			SearchLogs: r.duration("API_RETENTION_SEARCH_LOGS", defaultSearchLogRetention),
		},
	}

	// Firestore and Pub/Sub default to the Firebase project.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"AI.APIKey", &cfg.AI.APIKey},
		{"PlateDecoder.APIKey", &cfg.PlateDecoder.APIKey},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validate(cfg, options.serverScope); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

// RetryEnabled reports whether backend calls should be retried.
func (c AIConfig) RetryEnabled() bool {
	return c.RetryAttempts > 1
}

// ArchiveEnabled reports whether scan images are copied to Cloud Storage.
func (c StorageConfig) ArchiveEnabled() bool {
	return strings.TrimSpace(c.ScanBucket) != ""
}

// PublishEnabled reports whether search events are published.
func (c EventsConfig) PublishEnabled() bool {
	return strings.TrimSpace(c.TopicID) != ""
}

func validate(cfg Config, serverScope bool) error {
	var invalid []string
	check := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	check(cfg.AI.Model != "", "AI.Model")
	check(cfg.AI.Timeout > 0, "AI.Timeout")
	check(cfg.AI.RetryAttempts >= 1, "AI.RetryAttempts")
	if serverScope {
		check(cfg.Server.Port != "", "Server.Port")
		check(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
		check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
		check(cfg.PSP.ProPriceCents > 0, "PSP.ProPriceCents")
		check(len(cfg.PSP.Currency) == 3, "PSP.Currency")
		check(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
		check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
		check(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
		check(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")
		check(cfg.Retention.SearchLogs > 0, "Retention.SearchLogs")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{}, len(required))
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

// reader reads typed values from the merged environment, falling back on parse errors.
type reader struct {
	env map[string]string
}

func (r reader) raw(key string) (string, bool) {
	value, ok := r.env[key]
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (r reader) str(key, fallback string) string {
	if value, ok := r.raw(key); ok {
		return value
	}
	return fallback
}

func (r reader) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := r.raw(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (r reader) integer(key string, fallback int) int {
	if value, ok := r.raw(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func (r reader) boolean(key string, fallback bool) bool {
	if value, ok := r.raw(key); ok {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func (r reader) list(key string) []string {
	out := []string{}
	value, ok := r.raw(key)
	if !ok {
		return out
	}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// keyValues parses "env=value,env2=value2" with lower-cased keys.
func (r reader) keyValues(key string) map[string]string {
	out := make(map[string]string)
	for _, entry := range r.list(key) {
		name, value, ok := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}

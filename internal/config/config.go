package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/addispay/telebirr-service/internal/domain/ports"
)

// Mode selects the merchant resolution strategy.
const (
	ModeSingle = "single"
	ModeMulti  = "multi"
)

// SecretRefPrefix marks a config value that must be resolved through the
// configured secret manager instead of being used literally.
const SecretRefPrefix = "secret://"

// Config holds all application configuration. Components receive it (or a
// sub-struct) at construction; nothing reads the environment after startup.
type Config struct {
	Mode     string
	Server   ServerConfig
	API      APIConfig
	Merchant MerchantConfig
	Resolver ResolverConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Webhook  WebhookConfig
	Verify   VerifyConfig
	Signer   SignerConfig
	Secrets  SecretsConfig
	Logger   LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int
	Host        string
	MetricsPort int
}

// APIConfig holds gateway API configuration
type APIConfig struct {
	BaseURL   string
	Timeout   time.Duration
	VerifySSL bool
}

// MerchantConfig holds the single-tenant credential set. In multi mode
// FabricAppID and AppSecret still apply to every tenant.
type MerchantConfig struct {
	FabricAppID   string
	MerchantAppID string
	MerchantCode  string
	AppSecret     string
	RSAPrivateKey string
	RSAPublicKey  string
}

// ResolverConfig holds multi-tenant resolution configuration
type ResolverConfig struct {
	// KeyName is the context key looked up after merchant_id.
	KeyName string
	// OwnerMappings maps context keys to owner types, e.g. branch_id->branch.
	OwnerMappings map[string]string
	// LegacyLookup enables the flat-column fallback for pre-polymorphism rows.
	LegacyLookup bool
}

// DatabaseConfig holds PostgreSQL configuration for the merchant store
type DatabaseConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// CacheConfig holds fabric token cache configuration
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

// WebhookConfig holds inbound webhook configuration
type WebhookConfig struct {
	// Secret may be empty, in which case webhooks are accepted unverified.
	Secret    string
	Tolerance time.Duration
	Path      string
	// NotifyURL is the public callback URL handed to the gateway on preorder.
	NotifyURL string
}

// VerifyConfig holds verification worker configuration
type VerifyConfig struct {
	Enabled       bool
	Tries         int
	Timeout       time.Duration
	RetrySchedule []time.Duration
}

// SignerConfig holds request signing configuration
type SignerConfig struct {
	// AllowPKCS1Fallback permits the legacy PKCS#1 v1.5 signing path when
	// PSS fails. The gateway expects PSS; leave this off unless the live
	// endpoint has been confirmed to accept both schemes.
	AllowPKCS1Fallback bool
}

// SecretsConfig selects the secret manager backend for secret:// references
type SecretsConfig struct {
	// Backend: "none", "local", "vault", "aws"
	Backend string

	LocalPath string

	VaultAddress string
	VaultToken   string
	VaultMount   string

	AWSRegion  string
	AWSProfile string
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string
	Development bool
	// SensitiveData disables redaction of secrets in log context. Debug only.
	SensitiveData bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Mode: getEnv("TELEBIRR_MODE", ModeSingle),
		Server: ServerConfig{
			Port:        getEnvAsInt("SERVER_PORT", 8080),
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			MetricsPort: getEnvAsInt("METRICS_PORT", 9090),
		},
		API: APIConfig{
			BaseURL:   getEnv("TELEBIRR_BASE_URL", "https://developerportal.ethiotelebirr.et:38443/apiaccess/payment/gateway"),
			Timeout:   time.Duration(getEnvAsInt("TELEBIRR_TIMEOUT", 60)) * time.Second,
			VerifySSL: getEnvAsBool("TELEBIRR_VERIFY_SSL", false),
		},
		Merchant: MerchantConfig{
			FabricAppID:   getEnv("TELEBIRR_FABRIC_APP_ID", ""),
			MerchantAppID: getEnv("TELEBIRR_MERCHANT_APP_ID", ""),
			MerchantCode:  getEnv("TELEBIRR_MERCHANT_CODE", ""),
			AppSecret:     getEnv("TELEBIRR_APP_SECRET", ""),
			RSAPrivateKey: getEnv("TELEBIRR_RSA_PRIVATE_KEY", ""),
			RSAPublicKey:  getEnv("TELEBIRR_RSA_PUBLIC_KEY", ""),
		},
		Resolver: ResolverConfig{
			KeyName:       getEnv("TELEBIRR_MERCHANT_KEY_NAME", "merchant_id"),
			OwnerMappings: parseOwnerMappings(getEnv("TELEBIRR_OWNER_MAPPINGS", defaultOwnerMappings)),
			LegacyLookup:  getEnvAsBool("TELEBIRR_LEGACY_OWNER_LOOKUP", true),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 2)),
		},
		Cache: CacheConfig{
			Enabled: getEnvAsBool("TELEBIRR_CACHE_TOKENS", true),
			TTL:     time.Duration(getEnvAsInt("TELEBIRR_TOKEN_TTL", 3300)) * time.Second,
			Prefix:  getEnv("TELEBIRR_CACHE_PREFIX", "telebirr_token_"),
		},
		Webhook: WebhookConfig{
			Secret:    getEnv("TELEBIRR_WEBHOOK_SECRET", ""),
			Tolerance: time.Duration(getEnvAsInt("TELEBIRR_SIGNATURE_TOLERANCE", 300)) * time.Second,
			Path:      getEnv("TELEBIRR_WEBHOOK_PATH", "/api/telebirr/webhook"),
			NotifyURL: getEnv("TELEBIRR_NOTIFY_URL", ""),
		},
		Verify: VerifyConfig{
			Enabled:       getEnvAsBool("TELEBIRR_QUEUE_VERIFICATION", true),
			Tries:         getEnvAsInt("TELEBIRR_JOB_TRIES", 5),
			Timeout:       time.Duration(getEnvAsInt("TELEBIRR_JOB_TIMEOUT", 120)) * time.Second,
			RetrySchedule: parseSchedule(getEnv("TELEBIRR_RETRY_SCHEDULE", "5,5,5,5,5")),
		},
		Signer: SignerConfig{
			AllowPKCS1Fallback: getEnvAsBool("TELEBIRR_ALLOW_PKCS1_FALLBACK", false),
		},
		Secrets: SecretsConfig{
			Backend:      getEnv("SECRETS_BACKEND", "none"),
			LocalPath:    getEnv("SECRETS_LOCAL_PATH", "/etc/telebirr/secrets"),
			VaultAddress: getEnv("VAULT_ADDR", ""),
			VaultToken:   getEnv("VAULT_TOKEN", ""),
			VaultMount:   getEnv("VAULT_MOUNT", "secret"),
			AWSRegion:    getEnv("AWS_REGION", ""),
			AWSProfile:   getEnv("AWS_PROFILE", ""),
		},
		Logger: LoggerConfig{
			Level:         getEnv("LOG_LEVEL", "info"),
			Development:   getEnvAsBool("LOG_DEVELOPMENT", false),
			SensitiveData: getEnvAsBool("TELEBIRR_LOG_SENSITIVE", false),
		},
	}

	if cfg.Mode != ModeSingle && cfg.Mode != ModeMulti {
		return nil, fmt.Errorf("TELEBIRR_MODE must be %q or %q, got %q", ModeSingle, ModeMulti, cfg.Mode)
	}
	if cfg.Mode == ModeMulti && cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required in multi-tenant mode")
	}
	if cfg.Verify.Tries < 1 {
		return nil, fmt.Errorf("TELEBIRR_JOB_TRIES must be at least 1")
	}

	return cfg, nil
}

// ResolveSecretRefs replaces secret:// values with material fetched from the
// secret manager. Call once at startup, before the config is handed out.
func (c *Config) ResolveSecretRefs(ctx context.Context, sm ports.SecretManager) error {
	refs := []*string{
		&c.Merchant.AppSecret,
		&c.Merchant.RSAPrivateKey,
		&c.Merchant.RSAPublicKey,
		&c.Webhook.Secret,
	}
	for _, ref := range refs {
		if !strings.HasPrefix(*ref, SecretRefPrefix) {
			continue
		}
		if sm == nil {
			return fmt.Errorf("config references %s but no secrets backend is configured", *ref)
		}
		secret, err := sm.GetSecret(ctx, strings.TrimPrefix(*ref, SecretRefPrefix))
		if err != nil {
			return fmt.Errorf("resolve secret reference: %w", err)
		}
		*ref = secret.Value
	}
	return nil
}

const defaultOwnerMappings = "branch_id:branch,store_id:store,organization_id:organization,company_id:company,location_id:location"

// parseOwnerMappings parses "branch_id:branch,store_id:store" pairs.
func parseOwnerMappings(raw string) map[string]string {
	mappings := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		mappings[parts[0]] = parts[1]
	}
	return mappings
}

// parseSchedule parses a comma-separated list of delays in seconds.
func parseSchedule(raw string) []time.Duration {
	var schedule []time.Duration
	for _, field := range strings.Split(raw, ",") {
		seconds, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || seconds < 0 {
			continue
		}
		schedule = append(schedule, time.Duration(seconds)*time.Second)
	}
	if len(schedule) == 0 {
		schedule = []time.Duration{5 * time.Second}
	}
	return schedule
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string   `mapstructure:"PORT"`
	Env                string   `mapstructure:"ENV"`
	AuthMode           string   `mapstructure:"AUTH_MODE"`
	DatabaseURL        string   `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL           string   `mapstructure:"REDIS_URL"`
	AuthIssuer         string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL        string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience       string   `mapstructure:"AUTH_AUDIENCE"`
	DefaultTenant      string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
	HIPAAEncryptionKey string   `mapstructure:"HIPAA_ENCRYPTION_KEY"`
	RateLimitRPS       float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int      `mapstructure:"RATE_LIMIT_BURST"`
	TLSEnabled         bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile        string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile         string   `mapstructure:"TLS_KEY_FILE"`

	// auth.* / oauth.* / signing.* / policy.* — conformance-level policy knobs.
	// Validate checks SIGNING_ALGORITHM; no other code in this module reads
	// these fields, and there is no HTTP auth middleware (out of CORE scope).
	AuthEnabled             bool   `mapstructure:"AUTH_ENABLED"`
	OAuthCodeLifetime       string `mapstructure:"OAUTH_CODE_LIFETIME"`
	OAuthAccessLifetime     string `mapstructure:"OAUTH_ACCESS_LIFETIME"`
	OAuthRefreshLifetime    string `mapstructure:"OAUTH_REFRESH_LIFETIME"`
	OAuthRefreshRotation    bool   `mapstructure:"OAUTH_REFRESH_ROTATION"`
	SigningAlgorithm        string `mapstructure:"SIGNING_ALGORITHM"`
	SigningKeyRotationDays  int    `mapstructure:"SIGNING_KEY_ROTATION_DAYS"`
	SigningKeysToKeep       int    `mapstructure:"SIGNING_KEYS_TO_KEEP"`
	PolicyDefaultDeny       bool   `mapstructure:"POLICY_DEFAULT_DENY"`

	// rate_limits.* — independent of the HTTP-level RateLimitRPS/Burst above.
	// They are loaded and defaulted only; no storage or search code reads them.
	RateLimitSearchRPS float64 `mapstructure:"RATE_LIMIT_SEARCH_RPS"`
	RateLimitWriteRPS  float64 `mapstructure:"RATE_LIMIT_WRITE_RPS"`

	// audit.*
	AuditEnabled   bool   `mapstructure:"AUDIT_ENABLED"`
	AuditSink      string `mapstructure:"AUDIT_SINK"`
	AuditRetention string `mapstructure:"AUDIT_RETENTION"`

	// terminology.*
	TerminologyEnabled  bool   `mapstructure:"TERMINOLOGY_ENABLED"`
	TerminologyServerURL string `mapstructure:"TERMINOLOGY_SERVER_URL"`
	TerminologyCacheTTL  string `mapstructure:"TERMINOLOGY_CACHE_TTL"`

	// bulk_export.*
	BulkExportEnabled            bool   `mapstructure:"BULK_EXPORT_ENABLED"`
	BulkExportPath               string `mapstructure:"BULK_EXPORT_PATH"`
	BulkExportMaxResourcesPerFile int   `mapstructure:"BULK_EXPORT_MAX_RESOURCES_PER_FILE"`
	BulkExportBatchSize          int    `mapstructure:"BULK_EXPORT_BATCH_SIZE"`
	BulkExportRetentionHours     int    `mapstructure:"BULK_EXPORT_RETENTION_HOURS"`

	// sql_on_fhir.*
	SQLOnFHIREnabled bool `mapstructure:"SQL_ON_FHIR_ENABLED"`

	// unknown_param_handling ∈ {strict, lenient} — Validate rejects any other
	// value. internal/search does not read it: the compiler raises every
	// unknown parameter as an UnknownParameter fault under either setting.
	UnknownParamHandling string `mapstructure:"UNKNOWN_PARAM_HANDLING"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	v.SetDefault("AUTH_ENABLED", false)
	v.SetDefault("OAUTH_CODE_LIFETIME", "5m")
	v.SetDefault("OAUTH_ACCESS_LIFETIME", "1h")
	v.SetDefault("OAUTH_REFRESH_LIFETIME", "720h")
	v.SetDefault("OAUTH_REFRESH_ROTATION", true)
	v.SetDefault("SIGNING_ALGORITHM", "RS256")
	v.SetDefault("SIGNING_KEY_ROTATION_DAYS", 90)
	v.SetDefault("SIGNING_KEYS_TO_KEEP", 2)
	v.SetDefault("POLICY_DEFAULT_DENY", true)
	v.SetDefault("RATE_LIMIT_SEARCH_RPS", 50)
	v.SetDefault("RATE_LIMIT_WRITE_RPS", 20)
	v.SetDefault("AUDIT_ENABLED", true)
	v.SetDefault("AUDIT_SINK", "log")
	v.SetDefault("AUDIT_RETENTION", "8760h")
	v.SetDefault("TERMINOLOGY_ENABLED", false)
	v.SetDefault("TERMINOLOGY_CACHE_TTL", "1h")
	v.SetDefault("BULK_EXPORT_ENABLED", true)
	v.SetDefault("BULK_EXPORT_PATH", "./export")
	v.SetDefault("BULK_EXPORT_MAX_RESOURCES_PER_FILE", 50000)
	v.SetDefault("BULK_EXPORT_BATCH_SIZE", 1000)
	v.SetDefault("BULK_EXPORT_RETENTION_HOURS", 168)
	v.SetDefault("SQL_ON_FHIR_ENABLED", false)
	v.SetDefault("UNKNOWN_PARAM_HANDLING", "strict")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("DEFAULT_TENANT")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("HIPAA_ENCRYPTION_KEY")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")
	v.BindEnv("AUTH_ENABLED")
	v.BindEnv("OAUTH_CODE_LIFETIME")
	v.BindEnv("OAUTH_ACCESS_LIFETIME")
	v.BindEnv("OAUTH_REFRESH_LIFETIME")
	v.BindEnv("OAUTH_REFRESH_ROTATION")
	v.BindEnv("SIGNING_ALGORITHM")
	v.BindEnv("SIGNING_KEY_ROTATION_DAYS")
	v.BindEnv("SIGNING_KEYS_TO_KEEP")
	v.BindEnv("POLICY_DEFAULT_DENY")
	v.BindEnv("RATE_LIMIT_SEARCH_RPS")
	v.BindEnv("RATE_LIMIT_WRITE_RPS")
	v.BindEnv("AUDIT_ENABLED")
	v.BindEnv("AUDIT_SINK")
	v.BindEnv("AUDIT_RETENTION")
	v.BindEnv("TERMINOLOGY_ENABLED")
	v.BindEnv("TERMINOLOGY_SERVER_URL")
	v.BindEnv("TERMINOLOGY_CACHE_TTL")
	v.BindEnv("BULK_EXPORT_ENABLED")
	v.BindEnv("BULK_EXPORT_PATH")
	v.BindEnv("BULK_EXPORT_MAX_RESOURCES_PER_FILE")
	v.BindEnv("BULK_EXPORT_BATCH_SIZE")
	v.BindEnv("BULK_EXPORT_RETENTION_HOURS")
	v.BindEnv("SQL_ON_FHIR_ENABLED")
	v.BindEnv("UNKNOWN_PARAM_HANDLING")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: No authentication is enforced — all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development → "development" (no auth, all requests get admin)
//   - AUTH_ISSUER set → "external" (Keycloak, Auth0, etc.)
//   - Otherwise       → "standalone" (built-in SMART on FHIR server)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	if c.AuthIssuer != "" {
		return "external"
	}
	return "standalone"
}

// Validate checks that the configuration is safe to run. AUTH_ISSUER must be
// set when the resolved auth mode is "external"; the "standalone" and
// "development" modes run without it. In production, HIPAA_ENCRYPTION_KEY is required and must be a valid
// 64-character hex string (32 bytes when decoded).
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode == "external" && c.AuthIssuer == "" {
		return fmt.Errorf(
			"AUTH_ISSUER must be set when AUTH_MODE is \"external\" (current ENV=%q). "+
				"Refusing to start without authentication configuration. "+
				"Use AUTH_MODE=standalone to use the built-in SMART on FHIR server", c.Env)
	}
	if mode != "development" && mode != "standalone" && mode != "external" {
		return fmt.Errorf("AUTH_MODE must be \"development\", \"standalone\", or \"external\", got %q", mode)
	}

	// HIPAA encryption key validation
	if c.IsProduction() && c.HIPAAEncryptionKey == "" {
		return fmt.Errorf("HIPAA_ENCRYPTION_KEY is required in production")
	}
	if c.HIPAAEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.HIPAAEncryptionKey)
		if err != nil {
			return fmt.Errorf("HIPAA_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("HIPAA_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	switch c.SigningAlgorithm {
	case "", "RS256", "RS384", "ES384":
	default:
		return fmt.Errorf("SIGNING_ALGORITHM must be one of RS256, RS384, ES384, got %q", c.SigningAlgorithm)
	}

	switch c.UnknownParamHandling {
	case "", "strict", "lenient":
	default:
		return fmt.Errorf("UNKNOWN_PARAM_HANDLING must be \"strict\" or \"lenient\", got %q", c.UnknownParamHandling)
	}

	if c.TerminologyEnabled && c.TerminologyServerURL == "" {
		return fmt.Errorf("TERMINOLOGY_SERVER_URL is required when TERMINOLOGY_ENABLED is true")
	}

	return nil
}

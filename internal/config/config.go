// Package config loads server configuration from an optional file and
// PLANCAST_* environment variables using Viper, and validates it against an
// embedded CUE schema.
package config

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/spf13/viper"
)

//go:embed schema.cue
var schemaSource []byte

// EnvPrefix prefixes every environment override, e.g. PLANCAST_HTTP_ADDR.
const EnvPrefix = "PLANCAST"

// Capabilities are the capabilities granted per session kind.
type Capabilities struct {
	User    []string `mapstructure:"user"`
	AppUser []string `mapstructure:"app_user"`
	System  []string `mapstructure:"system"`
}

// Config holds the server configuration.
type Config struct {
	// WorkDir holds scenarios.dat, the journal and the recordings directory.
	WorkDir  string `mapstructure:"work_dir"`
	HTTPAddr string `mapstructure:"http_addr"`
	// Env selects the log format: "dev" (text) or "prod" (JSON).
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	// RunMode is "normal" or "playback". It is written into every recording
	// manifest and controls whether playback end triggers a snapshot.
	RunMode string `mapstructure:"run_mode"`

	SessionSweepInterval     time.Duration `mapstructure:"session_sweep_interval"`
	DefaultConnectionTimeout time.Duration `mapstructure:"default_connection_timeout"`
	ChecksumCacheSize        int           `mapstructure:"checksum_cache_size"`
	ChecksumAuditTTL         time.Duration `mapstructure:"checksum_audit_ttl"`

	// MaxBackupsPerSession bounds the backups kept in the active recording
	// directory. 0 keeps all of them.
	MaxBackupsPerSession int `mapstructure:"max_backups_per_session"`
	// BackupIntervalMinutes is the period of automatic snapshots. 0 disables them.
	BackupIntervalMinutes int `mapstructure:"backup_interval_minutes"`
	// MaxStoredRecordings bounds the recording directories kept on disk.
	// 0 keeps all of them.
	MaxStoredRecordings int `mapstructure:"max_stored_recordings"`

	// AdminToken guards the /v1/admin routes. Empty leaves them open.
	AdminToken string `mapstructure:"admin_token"`

	// NATSURL enables broadcast notifications when set.
	NATSURL string `mapstructure:"nats_url"`

	// S3Bucket enables off-site backup copies when set.
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Prefix   string `mapstructure:"s3_prefix"`

	Capabilities Capabilities `mapstructure:"capabilities"`
}

// BackupInterval returns BackupIntervalMinutes as a duration.
func (c *Config) BackupInterval() time.Duration {
	return time.Duration(c.BackupIntervalMinutes) * time.Minute
}

// ValidationError reports a configuration rejected by the schema.
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string {
	return "config: invalid configuration: " + e.Details
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("work_dir", "./plancast-data")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("admin_token", "")
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("run_mode", "normal")
	v.SetDefault("session_sweep_interval", "5s")
	v.SetDefault("default_connection_timeout", "2m")
	v.SetDefault("checksum_cache_size", 4096)
	v.SetDefault("checksum_audit_ttl", "10m")
	v.SetDefault("max_backups_per_session", 10)
	v.SetDefault("backup_interval_minutes", 30)
	v.SetDefault("max_stored_recordings", 20)
	v.SetDefault("nats_url", "")
	v.SetDefault("s3_bucket", "")
	v.SetDefault("s3_region", "")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_prefix", "plancast")
	v.SetDefault("capabilities.user", []string{"plan.write", "scenario.edit"})
	v.SetDefault("capabilities.app_user", []string{"plan.write", "scenario.edit"})
	v.SetDefault("capabilities.system", []string{})
}

// Load reads path (if non-empty; TOML or YAML by extension), applies
// PLANCAST_* environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks c against the embedded schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config: schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	doc := ctx.Encode(c.document())
	if err := doc.Err(); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Details: strings.TrimSpace(cueerrors.Details(err, nil))}
	}
	return nil
}

// document is the schema view of c. Durations are expressed in milliseconds.
func (c *Config) document() map[string]any {
	caps := func(s []string) []string {
		if s == nil {
			return []string{}
		}
		return s
	}
	return map[string]any{
		"work_dir":                      c.WorkDir,
		"http_addr":                     c.HTTPAddr,
		"admin_token":                   c.AdminToken,
		"env":                           c.Env,
		"log_level":                     c.LogLevel,
		"run_mode":                      c.RunMode,
		"session_sweep_interval_ms":     c.SessionSweepInterval.Milliseconds(),
		"default_connection_timeout_ms": c.DefaultConnectionTimeout.Milliseconds(),
		"checksum_audit_ttl_ms":         c.ChecksumAuditTTL.Milliseconds(),
		"checksum_cache_size":           c.ChecksumCacheSize,
		"max_backups_per_session":       c.MaxBackupsPerSession,
		"backup_interval_minutes":       c.BackupIntervalMinutes,
		"max_stored_recordings":         c.MaxStoredRecordings,
		"nats_url":                      c.NATSURL,
		"s3_bucket":                     c.S3Bucket,
		"s3_region":                     c.S3Region,
		"s3_endpoint":                   c.S3Endpoint,
		"s3_prefix":                     c.S3Prefix,
		"capabilities": map[string]any{
			"user":     caps(c.Capabilities.User),
			"app_user": caps(c.Capabilities.AppUser),
			"system":   caps(c.Capabilities.System),
		},
	}
}

// Package config loads ratedesk settings from defaults, an optional config
// file and RATEDESK_ environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"

	"ratedesk/pkg/domain"
)

// EnvPrefix is prepended to every environment override, e.g.
// RATEDESK_STORAGE_DRIVER or RATEDESK_BLOB_S3_BUCKET.
const EnvPrefix = "RATEDESK"

// Config is the full runtime configuration.
type Config struct {
	Server  Server                   `mapstructure:"server"`
	Log     Log                      `mapstructure:"log"`
	Storage Storage                  `mapstructure:"storage"`
	Cache   Cache                    `mapstructure:"cache"`
	Blob    Blob                     `mapstructure:"blob"`
	Metrics Metrics                  `mapstructure:"metrics"`
	Tracing Tracing                  `mapstructure:"tracing"`
	Tables  map[string]TableOverride `mapstructure:"tables"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr              string        `mapstructure:"addr" validate:"required"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"gt=0"`
}

// Log configures the zap logger.
type Log struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// Storage selects and configures the record store backend.
type Storage struct {
	Driver      string   `mapstructure:"driver" validate:"oneof=memory sqlite postgres"`
	SQLitePath  string   `mapstructure:"sqlite_path"`
	PostgresDSN string   `mapstructure:"postgres_dsn"`
	Postgres    Postgres `mapstructure:"postgres"`
	// Connection names a [connections.<name>] section of the config file
	// holding accountname/username/password credentials.
	Connection string `mapstructure:"connection"`
}

// Postgres holds discrete connection settings used when no DSN is given.
type Postgres struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the explicit DSN, or one assembled from the discrete settings,
// or "" when neither is configured.
func (s Storage) DSN() string {
	if s.PostgresDSN != "" {
		return s.PostgresDSN
	}
	p := s.Postgres
	if p.Host == "" {
		return ""
	}
	host := p.Host
	if p.Port != "" {
		host = net.JoinHostPort(p.Host, p.Port)
	}
	u := url.URL{Scheme: "postgres", Host: host, Path: "/" + p.Database}
	if p.User != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.User, p.Password)
		} else {
			u.User = url.User(p.User)
		}
	}
	if p.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {p.SSLMode}}.Encode()
	}
	return u.String()
}

// Cache sizes the lookup cache and the session registry.
type Cache struct {
	LookupSize  int           `mapstructure:"lookup_size" validate:"gt=0"`
	LookupTTL   time.Duration `mapstructure:"lookup_ttl" validate:"gt=0"`
	SessionSize int           `mapstructure:"session_size" validate:"gt=0"`
	SessionTTL  time.Duration `mapstructure:"session_ttl" validate:"gt=0"`
}

// Blob configures where CSV exports are archived.
type Blob struct {
	Driver string `mapstructure:"driver" validate:"oneof=fs s3 memory"`
	FSRoot string `mapstructure:"fs_root"`
	S3     S3     `mapstructure:"s3"`
}

// S3 configures the S3 or MinIO export bucket. Empty credentials fall back
// to the AWS default chain.
type S3 struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
}

// Metrics toggles the Prometheus recorder and /metrics endpoint.
type Metrics struct {
	Enabled bool `mapstructure:"enabled"`
}

// Tracing toggles the stdout OpenTelemetry exporter.
type Tracing struct {
	Stdout bool `mapstructure:"stdout"`
}

// TableOverride replaces a variant's table names.
type TableOverride struct {
	RecordTable  string `mapstructure:"record_table"`
	MappingTable string `mapstructure:"mapping_table"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "ratedesk.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.connection", "")
	for _, key := range []string{"host", "port", "user", "password", "database", "sslmode"} {
		v.SetDefault("storage.postgres."+key, "")
	}
	v.SetDefault("cache.lookup_size", 256)
	v.SetDefault("cache.lookup_ttl", 10*time.Minute)
	v.SetDefault("cache.session_size", 1024)
	v.SetDefault("cache.session_ttl", 12*time.Hour)
	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.fs_root", "./exports")
	for _, key := range []string{"bucket", "region", "endpoint", "access_key_id", "secret_access_key", "session_token"} {
		v.SetDefault("blob.s3."+key, "")
	}
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.stdout", false)
	for name, variant := range domain.DefaultVariants() {
		v.SetDefault("tables."+string(name)+".record_table", variant.RecordTable)
		v.SetDefault("tables."+string(name)+".mapping_table", variant.MappingTable)
	}
}

var validate = validator.New()

// Load resolves the configuration. path may be empty; YAML, TOML, JSON and
// INI files are accepted, the latter typically holding [connections.<name>]
// credential sections.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v, path); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Storage.Connection != "" {
		if err := applyConnection(v, &cfg.Storage); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if strings.EqualFold(filepath.Ext(path), ".ini") {
		settings, err := loadINI(path)
		if err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return v.MergeConfigMap(settings)
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// loadINI nests dotted section names, so [connections.data_eng] becomes
// connections -> data_eng -> keys.
func loadINI(path string) (map[string]any, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	root := make(map[string]any)
	for _, section := range file.Sections() {
		node := root
		if section.Name() != ini.DefaultSection {
			for _, part := range strings.Split(strings.ToLower(section.Name()), ".") {
				child, ok := node[part].(map[string]any)
				if !ok {
					child = make(map[string]any)
					node[part] = child
				}
				node = child
			}
		}
		for _, key := range section.Keys() {
			node[strings.ToLower(key.Name())] = key.Value()
		}
	}
	return root, nil
}

// applyConnection copies a named credentials section onto the postgres
// settings without overriding values that were set explicitly.
func applyConnection(v *viper.Viper, s *Storage) error {
	section := "connections." + s.Connection
	if !v.IsSet(section) {
		return fmt.Errorf("connection %q not found in config", s.Connection)
	}
	fill := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, key := range keys {
			if value := v.GetString(section + "." + key); value != "" {
				*dst = value
				return
			}
		}
	}
	fill(&s.Postgres.Host, "host", "accountname")
	fill(&s.Postgres.Port, "port")
	fill(&s.Postgres.User, "user", "username")
	fill(&s.Postgres.Password, "password")
	fill(&s.Postgres.Database, "database", "dbname")
	fill(&s.Postgres.SSLMode, "sslmode")
	return nil
}

// Validate checks field constraints and table identifiers.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config %s: failed %s", strings.ToLower(fe.Namespace()), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Blob.Driver == "s3" && c.Blob.S3.Bucket == "" {
		return errors.New("invalid config blob: s3 driver requires s3.bucket")
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN() == "" {
		return errors.New("invalid config storage: postgres driver requires postgres_dsn or postgres.host")
	}
	_, err := c.Variants()
	return err
}

// Variants returns the built-in variants with table overrides applied, sorted
// by name.
func (c Config) Variants() ([]domain.Variant, error) {
	defaults := domain.DefaultVariants()
	for name := range c.Tables {
		if _, ok := defaults[domain.VariantName(name)]; !ok {
			return nil, fmt.Errorf("tables: unknown variant %q", name)
		}
	}
	out := make([]domain.Variant, 0, len(defaults))
	for _, name := range []domain.VariantName{domain.VariantCommission, domain.VariantProducerCommission, domain.VariantULR} {
		variant := defaults[name]
		if override, ok := c.Tables[string(name)]; ok {
			if override.RecordTable != "" {
				variant.RecordTable = override.RecordTable
			}
			if override.MappingTable != "" {
				variant.MappingTable = override.MappingTable
			}
		}
		if err := variant.Validate(); err != nil {
			return nil, err
		}
		out = append(out, variant)
	}
	return out, nil
}

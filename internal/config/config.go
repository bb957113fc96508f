// Package config loads the service configuration. A Config is treated as
// immutable once loaded; Apply returns a new value instead of mutating.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	alarms "alarm-sync/internal/alarms/domain"
	"alarm-sync/internal/alarms/infrastructure/sqlsource"
	"alarm-sync/internal/sqldb"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "ALARM_SYNC_CONFIG"

type Config struct {
	Server       ServerConfig       `yaml:"server" json:"server"`
	Source       SourceConfig       `yaml:"source" json:"source"`
	Store        StoreConfig        `yaml:"store" json:"store"`
	Alertmanager AlertmanagerConfig `yaml:"alertmanager" json:"alertmanager"`
	Sync         SyncConfig         `yaml:"sync" json:"sync"`
	Silence      SilenceConfig      `yaml:"silence" json:"silence"`
	Severity     alarms.SeverityMap `yaml:"severity" json:"severity"`
	Labels       LabelsConfig       `yaml:"labels" json:"labels"`
	Retention    RetentionConfig    `yaml:"retention" json:"retention"`
	Notify       NotifyConfig       `yaml:"notify" json:"notify"`
	Log          LogConfig          `yaml:"log" json:"log"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr" json:"addr"`
	JWTSecret    string        `yaml:"jwt_secret" json:"-"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

type SourceConfig struct {
	Driver       string            `yaml:"driver" json:"driver"`
	DSN          string            `yaml:"dsn" json:"-"`
	QueryTimeout time.Duration     `yaml:"query_timeout" json:"query_timeout"`
	MaxOpenConns int               `yaml:"max_open_conns" json:"max_open_conns"`
	Mapping      sqlsource.Mapping `yaml:"mapping" json:"mapping"`
}

// StoreConfig locates the bookkeeping tables. An empty DSN reuses the source database.
type StoreConfig struct {
	Driver      string `yaml:"driver" json:"driver"`
	DSN         string `yaml:"dsn" json:"-"`
	AutoMigrate bool   `yaml:"auto_migrate" json:"auto_migrate"`
}

type AlertmanagerConfig struct {
	URL           string        `yaml:"url" json:"url"`
	Username      string        `yaml:"username" json:"username,omitempty"`
	Password      string        `yaml:"password" json:"-"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	RetryCount    int           `yaml:"retry_count" json:"retry_count"`
	RetryInterval time.Duration `yaml:"retry_interval" json:"retry_interval"`
}

type SyncConfig struct {
	ScanInterval       time.Duration `yaml:"scan_interval" json:"scan_interval"`
	MaxCycleDuration   time.Duration `yaml:"max_cycle_duration" json:"max_cycle_duration"`
	BatchSize          int           `yaml:"batch_size" json:"batch_size"`
	NewBatchSize       int           `yaml:"new_batch_size" json:"new_batch_size,omitempty"`
	ChangedBatchSize   int           `yaml:"changed_batch_size" json:"changed_batch_size,omitempty"`
	HeartbeatBatchSize int           `yaml:"heartbeat_batch_size" json:"heartbeat_batch_size,omitempty"`
	WorkerThreads      int           `yaml:"worker_threads" json:"worker_threads"`
	HeartbeatEnabled   bool          `yaml:"heartbeat_enabled" json:"heartbeat_enabled"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	HistoryHours       int           `yaml:"history_hours" json:"history_hours"`
	RefireWindow       time.Duration `yaml:"refire_window" json:"refire_window,omitempty"`
	SyncOnStartup      bool          `yaml:"sync_on_startup" json:"sync_on_startup"`
	AlarmLevels        string        `yaml:"alarm_levels" json:"alarm_levels"`
	SeverityFilter     string        `yaml:"severity_filter" json:"severity_filter"`
}

type SilenceConfig struct {
	UseSilenceAPI     bool          `yaml:"use_silence_api" json:"use_silence_api"`
	DefaultDuration   time.Duration `yaml:"default_duration" json:"default_duration"`
	AutoRemoveOnClear bool          `yaml:"auto_remove_on_clear" json:"auto_remove_on_clear"`
	CreatedBy         string        `yaml:"created_by" json:"created_by"`
	CommentTemplate   string        `yaml:"comment_template" json:"comment_template"`
}

type LabelsConfig struct {
	Source     string `yaml:"source" json:"source"`
	Cluster    string `yaml:"cluster" json:"cluster,omitempty"`
	Datacenter string `yaml:"datacenter" json:"datacenter,omitempty"`
}

// Static returns the labels attached to every alert.
func (l LabelsConfig) Static() map[string]string {
	return map[string]string{
		"source":     l.Source,
		"cluster":    l.Cluster,
		"datacenter": l.Datacenter,
	}
}

type RetentionConfig struct {
	ResolvedDays int `yaml:"resolved_days" json:"resolved_days"`
	AuditDays    int `yaml:"audit_days" json:"audit_days"`
}

type NotifyConfig struct {
	WebhookURL         string        `yaml:"webhook_url" json:"webhook_url,omitempty"`
	WebhookTimeout     time.Duration `yaml:"webhook_timeout" json:"webhook_timeout"`
	WebhookTemplate    string        `yaml:"webhook_template" json:"webhook_template,omitempty"`
	WebhookEveryCycle  bool          `yaml:"webhook_every_cycle" json:"webhook_every_cycle"`
	NATSURL            string        `yaml:"nats_url" json:"nats_url,omitempty"`
	NATSSubject        string        `yaml:"nats_subject" json:"nats_subject"`
	NATSTriggerSubject string        `yaml:"nats_trigger_subject" json:"nats_trigger_subject"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Source: SourceConfig{
			Driver:       string(sqldb.DialectPgx),
			QueryTimeout: 30 * time.Second,
			MaxOpenConns: 10,
			Mapping:      sqlsource.DefaultMapping(),
		},
		Store: StoreConfig{AutoMigrate: true},
		Alertmanager: AlertmanagerConfig{
			URL:           "http://localhost:9093",
			Timeout:       30 * time.Second,
			RetryCount:    3,
			RetryInterval: time.Second,
		},
		Sync: SyncConfig{
			ScanInterval:      60 * time.Second,
			MaxCycleDuration:  5 * time.Minute,
			BatchSize:         100,
			WorkerThreads:     4,
			HeartbeatEnabled:  true,
			HeartbeatInterval: 120 * time.Second,
			HistoryHours:      24,
			SyncOnStartup:     true,
			AlarmLevels:       "1,2,3,4",
		},
		Silence: SilenceConfig{
			UseSilenceAPI:     true,
			DefaultDuration:   24 * time.Hour,
			AutoRemoveOnClear: true,
			CreatedBy:         "zmc-alarm-exporter",
			CommentTemplate:   "Silenced by ZMC at {time}. Operator: {operator}",
		},
		Severity:  alarms.DefaultSeverityMap(),
		Labels:    LabelsConfig{Source: "BSS_OSS_L1"},
		Retention: RetentionConfig{ResolvedDays: 7, AuditDays: 30},
		Notify: NotifyConfig{
			WebhookTimeout:     5 * time.Second,
			NATSSubject:        "alarmsync.cycle",
			NATSTriggerSubject: "alarmsync.trigger",
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (or $ALARM_SYNC_CONFIG when path is empty) over the
// defaults, then applies environment overrides. A missing path is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	cfg.fill()
	return &cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.fill()
	return &cfg, nil
}

func (c *Config) fill() {
	if c.Store.DSN == "" {
		c.Store.DSN = c.Source.DSN
		if c.Store.Driver == "" {
			c.Store.Driver = c.Source.Driver
		}
	}
	if c.Store.Driver == "" {
		c.Store.Driver = string(sqldb.DialectPgx)
	}
	merged := alarms.DefaultSeverityMap()
	for level, sev := range c.Severity {
		if strings.TrimSpace(sev) != "" {
			merged[strings.TrimSpace(level)] = strings.ToLower(strings.TrimSpace(sev))
		}
	}
	c.Severity = merged
}

// Validate returns an error for unusable settings and warnings for settings
// that work but are probably not what was meant.
func (c *Config) Validate() ([]string, error) {
	var (
		errs     []error
		warnings []string
	)
	if _, err := sqldb.ParseDialect(c.Source.Driver); err != nil {
		errs = append(errs, fmt.Errorf("source.driver: %w", err))
	}
	if _, err := sqldb.ParseDialect(c.Store.Driver); err != nil {
		errs = append(errs, fmt.Errorf("store.driver: %w", err))
	}
	if err := c.Source.Mapping.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("source.mapping: %w", err))
	}
	if strings.TrimSpace(c.Alertmanager.URL) == "" {
		errs = append(errs, errors.New("alertmanager.url is required"))
	}
	if c.Alertmanager.RetryCount < 0 {
		errs = append(errs, errors.New("alertmanager.retry_count must be >= 0"))
	}
	if c.Sync.ScanInterval < time.Second {
		errs = append(errs, errors.New("sync.scan_interval must be at least 1s"))
	}
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, errors.New("sync.batch_size must be positive"))
	}
	if c.Sync.WorkerThreads <= 0 {
		errs = append(errs, errors.New("sync.worker_threads must be positive"))
	}
	if c.Sync.HeartbeatEnabled && c.Sync.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("sync.heartbeat_interval must be positive"))
	}
	if c.Sync.HistoryHours <= 0 {
		errs = append(errs, errors.New("sync.history_hours must be positive"))
	}
	if c.Silence.DefaultDuration <= 0 {
		errs = append(errs, errors.New("silence.default_duration must be positive"))
	}
	for _, level := range c.Sync.Levels() {
		if _, ok := c.Severity[level]; !ok {
			warnings = append(warnings, fmt.Sprintf("sync.alarm_levels: level %q has no severity mapping", level))
		}
	}
	filter := c.Filter()
	if len(filter.Levels) > 0 && len(filter.Severities) > 0 && len(filter.Reachable()) == 0 {
		warnings = append(warnings, "level and severity filters never match: no alarm will be synced")
	}
	if c.Sync.MaxCycleDuration > 0 && c.Sync.MaxCycleDuration > c.Sync.ScanInterval*10 {
		warnings = append(warnings, "sync.max_cycle_duration is much longer than scan_interval")
	}
	if c.Server.JWTSecret == "" {
		warnings = append(warnings, "server.jwt_secret is empty: admin API is unauthenticated")
	}
	return warnings, errors.Join(errs...)
}

// Levels returns the configured level filter.
func (s SyncConfig) Levels() []string {
	return splitList(s.AlarmLevels, false)
}

// Severities returns the configured severity filter.
func (s SyncConfig) Severities() []string {
	return splitList(s.SeverityFilter, true)
}

// Pass identifies one pass of a sync cycle.
type Pass string

const (
	PassNew       Pass = "new"
	PassChanged   Pass = "changed"
	PassHeartbeat Pass = "heartbeat"
)

// BatchFor returns the batch size of pass, falling back to batch_size.
func (s SyncConfig) BatchFor(p Pass) int {
	var n int
	switch p {
	case PassNew:
		n = s.NewBatchSize
	case PassChanged:
		n = s.ChangedBatchSize
	case PassHeartbeat:
		n = s.HeartbeatBatchSize
	}
	if n <= 0 {
		n = s.BatchSize
	}
	return n
}

// Refire returns how long resolved records keep being watched for a return to unconfirmed.
func (s SyncConfig) Refire() time.Duration {
	if s.RefireWindow > 0 {
		return s.RefireWindow
	}
	return time.Duration(s.HistoryHours) * time.Hour
}

// History returns the lookback horizon for new alarms.
func (s SyncConfig) History() time.Duration {
	return time.Duration(s.HistoryHours) * time.Hour
}

// Filter builds the alarm filter from the sync and severity settings.
func (c *Config) Filter() alarms.Filter {
	return alarms.Filter{
		Levels:     c.Sync.Levels(),
		Severities: c.Sync.Severities(),
		Severity:   c.Severity,
	}
}

func splitList(value string, lower bool) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lower {
			part = strings.ToLower(part)
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	sort.Strings(out)
	return out
}

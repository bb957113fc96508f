package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func applyEnv(c *Config) {
	c.Server.Addr = getenvDefault("SERVER_ADDR", getenvDefault("HTTP_ADDR", c.Server.Addr))
	c.Server.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", c.Server.JWTSecret))

	c.Source.Driver = getenvDefault("SOURCE_DRIVER", c.Source.Driver)
	c.Source.DSN = getenvDefault("SOURCE_DSN", getenvDefault("DATABASE_URL", c.Source.DSN))
	c.Source.QueryTimeout = getenvDuration("SOURCE_QUERY_TIMEOUT", c.Source.QueryTimeout)

	c.Store.Driver = getenvDefault("STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = getenvDefault("STORE_DSN", c.Store.DSN)
	c.Store.AutoMigrate = getenvBool("STORE_AUTO_MIGRATE", c.Store.AutoMigrate)

	c.Alertmanager.URL = getenvDefault("ALERTMANAGER_URL", c.Alertmanager.URL)
	c.Alertmanager.Username = getenvDefault("ALERTMANAGER_USERNAME", c.Alertmanager.Username)
	c.Alertmanager.Password = getenvDefault("ALERTMANAGER_PASSWORD", c.Alertmanager.Password)
	c.Alertmanager.Timeout = getenvDuration("ALERTMANAGER_TIMEOUT", c.Alertmanager.Timeout)
	c.Alertmanager.RetryCount = getenvIntDefault("ALERTMANAGER_RETRY_COUNT", c.Alertmanager.RetryCount)
	c.Alertmanager.RetryInterval = getenvDuration("ALERTMANAGER_RETRY_INTERVAL", c.Alertmanager.RetryInterval)

	c.Sync.ScanInterval = getenvDuration("SYNC_SCAN_INTERVAL", c.Sync.ScanInterval)
	c.Sync.MaxCycleDuration = getenvDuration("SYNC_MAX_CYCLE_DURATION", c.Sync.MaxCycleDuration)
	c.Sync.BatchSize = getenvIntDefault("SYNC_BATCH_SIZE", c.Sync.BatchSize)
	c.Sync.WorkerThreads = getenvIntDefault("SYNC_WORKER_THREADS", c.Sync.WorkerThreads)
	c.Sync.HeartbeatEnabled = getenvBool("SYNC_HEARTBEAT_ENABLED", c.Sync.HeartbeatEnabled)
	c.Sync.HeartbeatInterval = getenvDuration("SYNC_HEARTBEAT_INTERVAL", c.Sync.HeartbeatInterval)
	c.Sync.HistoryHours = getenvIntDefault("SYNC_HISTORY_HOURS", c.Sync.HistoryHours)
	c.Sync.SyncOnStartup = getenvBool("SYNC_SYNC_ON_STARTUP", c.Sync.SyncOnStartup)
	c.Sync.AlarmLevels = getenvDefault("SYNC_ALARM_LEVELS", c.Sync.AlarmLevels)
	c.Sync.SeverityFilter = getenvDefault("SYNC_SEVERITY_FILTER", c.Sync.SeverityFilter)

	c.Silence.UseSilenceAPI = getenvBool("SILENCE_USE_SILENCE_API", c.Silence.UseSilenceAPI)
	c.Silence.DefaultDuration = getenvDuration("SILENCE_DEFAULT_DURATION", c.Silence.DefaultDuration)
	if hours := getenvIntDefault("SILENCE_DEFAULT_DURATION_HOURS", 0); hours > 0 {
		c.Silence.DefaultDuration = time.Duration(hours) * time.Hour
	}
	c.Silence.AutoRemoveOnClear = getenvBool("SILENCE_AUTO_REMOVE_ON_CLEAR", c.Silence.AutoRemoveOnClear)
	c.Silence.CommentTemplate = getenvDefault("SILENCE_COMMENT_TEMPLATE", c.Silence.CommentTemplate)

	if c.Severity == nil {
		c.Severity = make(map[string]string)
	}
	for _, level := range []string{"0", "1", "2", "3", "4"} {
		if v := os.Getenv("SEVERITY_LEVEL_" + level); v != "" {
			c.Severity[level] = v
		}
	}

	c.Labels.Source = getenvDefault("LABEL_SOURCE", c.Labels.Source)
	c.Labels.Cluster = getenvDefault("LABEL_CLUSTER", c.Labels.Cluster)
	c.Labels.Datacenter = getenvDefault("LABEL_DATACENTER", c.Labels.Datacenter)

	c.Retention.ResolvedDays = getenvIntDefault("RETENTION_RESOLVED_DAYS", c.Retention.ResolvedDays)
	c.Retention.AuditDays = getenvIntDefault("RETENTION_AUDIT_DAYS", c.Retention.AuditDays)

	c.Notify.WebhookURL = getenvDefault("NOTIFY_WEBHOOK_URL", c.Notify.WebhookURL)
	c.Notify.NATSURL = getenvDefault("NATS_URL", c.Notify.NATSURL)
	c.Notify.NATSSubject = getenvDefault("NATS_SUBJECT", c.Notify.NATSSubject)
	c.Notify.NATSTriggerSubject = getenvDefault("NATS_TRIGGER_SUBJECT", c.Notify.NATSTriggerSubject)

	c.Log.Level = getenvDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenvDefault("LOG_FORMAT", c.Log.Format)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvDuration accepts Go durations ("90s") and bare seconds ("90").
func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

package alertmanager

import "time"

// TimeLayout is the timestamp format sent to the gateway.
const TimeLayout = time.RFC3339

// Alert is one entry of a POST /api/v2/alerts batch.
type Alert struct {
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     string            `json:"startsAt"`
	EndsAt       string            `json:"endsAt,omitempty"`
	GeneratorURL string            `json:"generatorURL,omitempty"`
}

// Resolved reports whether the alert carries an end timestamp.
func (a Alert) Resolved() bool {
	return a.EndsAt != ""
}

// Matcher selects alerts by label for a silence.
type Matcher struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	IsRegex bool   `json:"isRegex"`
	IsEqual bool   `json:"isEqual"`
}

// Silence is a time-boxed suppression rule.
type Silence struct {
	ID        string    `json:"id,omitempty"`
	Matchers  []Matcher `json:"matchers"`
	StartsAt  string    `json:"startsAt"`
	EndsAt    string    `json:"endsAt"`
	CreatedBy string    `json:"createdBy"`
	Comment   string    `json:"comment"`
}

// Result describes one gateway exchange for audit rows.
type Result struct {
	Method     string
	URL        string
	StatusCode int
	Attempts   int
	Duration   time.Duration
	Body       string
}

// Health is the outcome of a health probe.
type Health struct {
	Healthy       bool   `json:"healthy"`
	Version       string `json:"version,omitempty"`
	ClusterStatus string `json:"cluster_status,omitempty"`
	Uptime        string `json:"uptime,omitempty"`
	Error         string `json:"error,omitempty"`
}

type silenceCreated struct {
	SilenceID string `json:"silenceID"`
}

type statusResponse struct {
	Cluster struct {
		Status string `json:"status"`
	} `json:"cluster"`
	VersionInfo struct {
		Version string `json:"version"`
	} `json:"versionInfo"`
	Uptime string `json:"uptime"`
}

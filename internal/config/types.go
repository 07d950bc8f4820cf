// Package config decodes, defaults, and validates the declarative per-site
// documents that drive the scraping framework.
package config

import "time"

// Config is the root decoded shape of one site document.
type Config struct {
	SiteName string `yaml:"site_name" json:"site_name" validate:"required"`
	Version  string `yaml:"version" json:"version" validate:"required"`

	BaseURL string            `yaml:"base_url" json:"base_url" validate:"required"`
	Method  string            `yaml:"method" json:"method" validate:"omitempty,oneof=GET POST"`
	Headers map[string]string `yaml:"headers" json:"headers"`
	Cookies map[string]string `yaml:"cookies" json:"cookies"`
	Auth    *AuthConfig       `yaml:"auth,omitempty" json:"auth,omitempty"`

	Renderer        string          `yaml:"renderer" json:"renderer" validate:"omitempty,oneof=plain headless"`
	RendererOptions RendererOptions `yaml:"renderer_options" json:"renderer_options"`

	Selectors SelectorsConfig `yaml:"selectors" json:"selectors"`

	Pagination PaginationConfig `yaml:"pagination" json:"pagination"`
	Output     OutputConfig     `yaml:"output" json:"output"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" json:"rate_limit"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`

	Priority int          `yaml:"priority" json:"priority" validate:"omitempty,min=1,max=100"`
	Gotify   GotifyConfig `yaml:"gotify" json:"gotify"`
}

// AuthConfig describes the single login step the framework performs before
// the first fetch. Login reads the credential from the TokenHeader response
// header when one is set, otherwise from the cookie named TokenName.
// TokenSelector satisfies validation but is not read by Login; no token is
// extracted from the login response body.
type AuthConfig struct {
	LoginURL      string            `yaml:"login_url" json:"login_url"`
	Method        string            `yaml:"method" json:"method"`
	Body          map[string]string `yaml:"body" json:"body"`
	TokenName     string            `yaml:"token_name" json:"token_name"`
	TokenSelector string            `yaml:"token_selector" json:"token_selector"`
	TokenHeader   string            `yaml:"token_header" json:"token_header"`
}

// RendererOptions controls headless rendering behavior, including the
// ordered pre-extraction actions run before the document is scraped.
type RendererOptions struct {
	WaitSelector   string         `yaml:"wait_selector" json:"wait_selector"`
	TimeoutSeconds int            `yaml:"timeout_seconds" json:"timeout_seconds"`
	OnTimeout      string         `yaml:"on_timeout" json:"on_timeout"`
	Actions        []ActionConfig `yaml:"actions" json:"actions"`
}

// ActionConfig is one ordered pre-extraction step: click, wait, fill, press
// or hover, applied in document order before scraping begins.
type ActionConfig struct {
	Type     string `yaml:"type" json:"type"`
	Selector string `yaml:"selector" json:"selector"`
	Value    string `yaml:"value" json:"value"`
	Seconds  int    `yaml:"seconds" json:"seconds"`
}

// SelectorsConfig is the extraction map: an optional container selector and
// a non-empty map of field extraction rules.
type SelectorsConfig struct {
	Container string                 `yaml:"container" json:"container"`
	Fields    map[string]FieldConfig `yaml:"fields" json:"fields"`
}

// SelectorKind names how a field or pagination expression is evaluated.
// Fields and the next-link selector declare it explicitly; the container
// expression has no kind field, and its kind is detected from a leading "/".
type SelectorKind string

const (
	SelectorKindCSS   SelectorKind = "css"
	SelectorKindXPath SelectorKind = "xpath"
)

// FieldConfig is one named extraction rule within selectors.fields.
type FieldConfig struct {
	Expression string       `yaml:"expression" json:"expression"`
	Kind       SelectorKind `yaml:"kind" json:"kind"`
	Transform  *Transform   `yaml:"transform,omitempty" json:"transform,omitempty"`
}

// Transform is one transform descriptor applied to an extracted field
// value: strip, regex, cast, or default.
type Transform struct {
	Type       string `yaml:"type" json:"type"`
	Pattern    string `yaml:"pattern" json:"pattern"`
	CastTo     string `yaml:"cast_to" json:"cast_to"`
	DefaultVal string `yaml:"default" json:"default"`
}

// PaginationType enumerates the four supported paginator strategies.
type PaginationType string

const (
	PaginationNone       PaginationType = "none"
	PaginationURLPattern PaginationType = "url_pattern"
	PaginationNextLink   PaginationType = "next_link"
	PaginationScroll     PaginationType = "scroll"
)

// PaginationConfig selects and parameterizes one paginator strategy.
type PaginationConfig struct {
	Type              PaginationType `yaml:"type" json:"type"`
	Param             string         `yaml:"param" json:"param"`
	Start             int            `yaml:"start" json:"start"`
	MaxPages          int            `yaml:"max_pages" json:"max_pages"`
	Selector          string         `yaml:"selector" json:"selector"`
	SelectorKind      SelectorKind   `yaml:"selector_kind" json:"selector_kind"`
	ScrollWaitSeconds int            `yaml:"scroll_wait_seconds" json:"scroll_wait_seconds"`
}

// OutputMode controls whether a run's records append to or replace prior
// rows for the same site.
type OutputMode string

const (
	OutputModeAppend    OutputMode = "append"
	OutputModeOverwrite OutputMode = "overwrite"
)

// OutputConfig selects the sink format and destination for scraped records.
type OutputConfig struct {
	Format      string     `yaml:"format" json:"format"`
	Destination string     `yaml:"destination" json:"destination"`
	Mode        OutputMode `yaml:"mode" json:"mode"`
}

// RateLimitConfig bounds per-origin request pacing.
type RateLimitConfig struct {
	DelaySeconds  float64 `yaml:"delay_seconds" json:"delay_seconds"`
	MaxConcurrent int     `yaml:"max_concurrent" json:"max_concurrent"`
}

// RetryConfig bounds the retry engine's backoff behavior.
type RetryConfig struct {
	MaxRetries    int     `yaml:"max_retries" json:"max_retries"`
	BackoffFactor float64 `yaml:"backoff_factor" json:"backoff_factor"`
}

// GotifyConfig parameterizes the push notifier. Notification is disabled
// unless both ServerURL and AppToken are set.
type GotifyConfig struct {
	ServerURL string `yaml:"server_url" json:"server_url"`
	AppToken  string `yaml:"app_token" json:"app_token"`
	Priority  int    `yaml:"priority" json:"priority"`
}

// Job is the scheduling-facing projection of a Config, keyed by SiteName
// for upsert and removal.
type Job struct {
	JobID     string
	Config    *Config
	Priority  int
	CreatedAt time.Time
}

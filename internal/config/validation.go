// internal/config/validation.go - struct-tag validation plus the
// framework's own cross-field rules layered on top.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError is one (field_path, message) pair, optionally carrying the
// offending value for errors.
type FieldError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// ValidationResult is the outcome of validating one Config document.
type ValidationResult struct {
	IsValid  bool         `json:"is_valid"`
	Errors   []FieldError `json:"errors"`
	Warnings []FieldError `json:"warnings"`
}

func (r *ValidationResult) addError(field, message string, value interface{}) {
	r.Errors = append(r.Errors, FieldError{Field: field, Message: message, Value: value})
	r.IsValid = false
}

func (r *ValidationResult) addWarning(field, message string) {
	r.Warnings = append(r.Warnings, FieldError{Field: field, Message: message})
}

var structValidator = validator.New()

var rateLimitKnownKeys = map[string]bool{"delay_seconds": true, "max_concurrent": true}
var retryKnownKeys = map[string]bool{"max_retries": true, "backoff_factor": true}

// Validate runs the framework's hand-written field and cross-field rules
// and then the struct-tag validator (standing in for the external
// JSON-Schema validator), collecting the errors of both. raw is the defaulted/overridden document map, used only to
// detect unknown keys under rate_limit/retry.
func Validate(cfg *Config, raw map[string]interface{}) ValidationResult {
	result := ValidationResult{IsValid: true}

	validateBasicFields(cfg, &result)
	validateSelectors(cfg, &result)
	validatePagination(cfg, &result)
	validateAuth(cfg, &result)
	validateRenderer(cfg, &result)
	validateRateLimitRetry(cfg, &result)

	if err := structValidator.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				result.addError(toFieldPath(fe.Namespace()), fe.Tag(), fe.Value())
			}
		}
	}

	warnUnknownKeys(raw, "rate_limit", rateLimitKnownKeys, &result)
	warnUnknownKeys(raw, "retry", retryKnownKeys, &result)

	return result
}

func toFieldPath(namespace string) string {
	idx := strings.Index(namespace, ".")
	if idx < 0 {
		return strings.ToLower(namespace)
	}
	return strings.ToLower(namespace[idx+1:])
}

func validateBasicFields(cfg *Config, result *ValidationResult) {
	if strings.TrimSpace(cfg.SiteName) == "" {
		result.addError("site_name", "site_name is required", cfg.SiteName)
	}
	if cfg.Version != "1.0" {
		result.addError("version", "unsupported config version", cfg.Version)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		result.addError("base_url", "base_url is required", cfg.BaseURL)
	}
	switch cfg.Method {
	case "GET", "POST":
	default:
		result.addError("method", "method must be GET or POST", cfg.Method)
	}
}

func validateSelectors(cfg *Config, result *ValidationResult) {
	if len(cfg.Selectors.Fields) == 0 {
		result.addError("selectors.fields", "selectors.fields must be non-empty", nil)
	}
	for name, field := range cfg.Selectors.Fields {
		switch field.Kind {
		case SelectorKindCSS, SelectorKindXPath:
		default:
			result.addError(fmt.Sprintf("selectors.fields.%s.kind", name), "kind must be css or xpath", field.Kind)
		}
		if strings.TrimSpace(field.Expression) == "" {
			result.addError(fmt.Sprintf("selectors.fields.%s.expression", name), "expression is required", field.Expression)
		}
	}
}

func validatePagination(cfg *Config, result *ValidationResult) {
	switch cfg.Pagination.Type {
	case PaginationNone, PaginationURLPattern, PaginationNextLink, PaginationScroll:
	default:
		result.addError("pagination.type", "unrecognized pagination type", cfg.Pagination.Type)
		return
	}

	if cfg.Pagination.Type == PaginationURLPattern {
		param := cfg.Pagination.Param
		if param == "" || !strings.Contains(cfg.BaseURL, "{"+param+"}") {
			result.addError("pagination.param", "url_pattern pagination requires the {param} placeholder in base_url", param)
		}
	}

	if cfg.Pagination.Type == PaginationNextLink && strings.TrimSpace(cfg.Pagination.Selector) == "" {
		result.addError("pagination.selector", "next_link pagination requires a selector", nil)
	}

	if cfg.Pagination.Type == PaginationScroll && cfg.Renderer != "headless" {
		result.addError("pagination.type", "scroll pagination requires the headless renderer", cfg.Renderer)
	}
}

func validateAuth(cfg *Config, result *ValidationResult) {
	if cfg.Auth == nil {
		return
	}
	if strings.TrimSpace(cfg.Auth.TokenName) == "" && strings.TrimSpace(cfg.Auth.TokenSelector) == "" {
		result.addError("auth", "auth token extraction requires a name or a selector", nil)
	}
}

func validateRenderer(cfg *Config, result *ValidationResult) {
	switch cfg.Renderer {
	case "plain", "headless":
	default:
		result.addError("renderer", "renderer must be plain or headless", cfg.Renderer)
	}
	if cfg.RendererOptions.OnTimeout != "" {
		switch cfg.RendererOptions.OnTimeout {
		case "proceed", "fail":
		default:
			result.addError("renderer_options.on_timeout", "on_timeout must be proceed or fail", cfg.RendererOptions.OnTimeout)
		}
	}
}

func validateRateLimitRetry(cfg *Config, result *ValidationResult) {
	if cfg.RateLimit.DelaySeconds <= 0 {
		result.addError("rate_limit.delay_seconds", "delay_seconds must be > 0", cfg.RateLimit.DelaySeconds)
	}
	if cfg.RateLimit.MaxConcurrent < 1 {
		result.addError("rate_limit.max_concurrent", "max_concurrent must be >= 1", cfg.RateLimit.MaxConcurrent)
	}
	if cfg.Retry.MaxRetries < 0 {
		result.addError("retry.max_retries", "max_retries must be >= 0", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.BackoffFactor <= 0 {
		result.addError("retry.backoff_factor", "backoff_factor must be > 0", cfg.Retry.BackoffFactor)
	}
	if cfg.Priority < 1 || cfg.Priority > 100 {
		result.addError("priority", "priority must be in [1,100]", cfg.Priority)
	}
	if cfg.Gotify.Priority < 0 || cfg.Gotify.Priority > 10 {
		result.addError("gotify.priority", "gotify.priority must be in [0,10]", cfg.Gotify.Priority)
	}
}

func warnUnknownKeys(raw map[string]interface{}, section string, known map[string]bool, result *ValidationResult) {
	sub, ok := raw[section].(map[string]interface{})
	if !ok {
		return
	}
	for key := range sub {
		if !known[key] {
			result.addWarning(fmt.Sprintf("%s.%s", section, key), "unknown key")
		}
	}
}

package validator

import (
	"regexp"
	"time"
)

// Common validation rules for the notification broker's admin API.

var channelPattern = regexp.MustCompile(`^[a-zA-Z0-9_.\*\?\[\]-]+$`)

// ValidatePublishRequest validates a publish request body.
func ValidatePublishRequest(data map[string]interface{}) error {
	v := New()

	if channel, ok := data["channel"].(string); ok {
		v.Required("channel", channel).
			MaxLength("channel", channel, 256, "channel must not exceed 256 characters").
			Pattern("channel", channel, channelPattern.String(), "channel contains invalid characters")
	} else {
		v.Required("channel", data["channel"])
	}

	if payload, ok := data["payload"]; ok {
		v.Required("payload", payload)
	}

	if delaySeconds, ok := data["delay_seconds"]; ok {
		v.Min("delay_seconds", delaySeconds, 0, "delay_seconds cannot be negative")
	}

	if dedupKey, ok := data["dedup_key"].(string); ok && dedupKey != "" {
		v.MaxLength("dedup_key", dedupKey, 256, "dedup_key must not exceed 256 characters")
	}

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// ValidateSubscriptionPattern validates a subscribe-request glob pattern.
func ValidateSubscriptionPattern(pattern string) error {
	v := New()
	v.Required("pattern", pattern).
		MaxLength("pattern", pattern, 256, "pattern must not exceed 256 characters").
		Pattern("pattern", pattern, channelPattern.String(), "pattern contains invalid characters")

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// ValidateDLQConfigUpdate validates a DLQ configuration update payload.
func ValidateDLQConfigUpdate(data map[string]interface{}) error {
	v := New()

	if maxAge, ok := data["max_age_seconds"]; ok {
		v.Min("max_age_seconds", maxAge, 0, "max_age_seconds cannot be negative")
	}

	if maxSize, ok := data["max_size"]; ok {
		v.Min("max_size", maxSize, 0, "max_size cannot be negative")
	}

	if cleanupInterval, ok := data["cleanup_interval_seconds"]; ok {
		v.Min("cleanup_interval_seconds", cleanupInterval, 0, "cleanup_interval_seconds cannot be negative")
	}

	if batchSize, ok := data["batch_size"]; ok {
		v.Range("batch_size", batchSize, 1, 10000, "batch_size must be between 1 and 10000")
	}

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// ValidateRequeueRequest validates a DLQ requeue request.
func ValidateRequeueRequest(data map[string]interface{}) error {
	v := New()

	if count, ok := data["count"]; ok {
		v.Range("count", count, 1, 10000, "count must be between 1 and 10000")
	}

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// ValidatePaginationParams validates pagination parameters.
func ValidatePaginationParams(data map[string]interface{}) error {
	v := New()

	if page, ok := data["page"]; ok {
		v.Min("page", page, 1, "page must be at least 1")
	}

	if pageSize, ok := data["page_size"]; ok {
		v.Range("page_size", pageSize, 1, 100, "page_size must be between 1 and 100")
	}

	if sortBy, ok := data["sort_by"].(string); ok && sortBy != "" {
		v.Pattern("sort_by", sortBy, `^[a-zA-Z_][a-zA-Z0-9_]*$`, "sort_by must be a valid field name")
	}

	if sortOrder, ok := data["sort_order"].(string); ok && sortOrder != "" {
		v.OneOf("sort_order", sortOrder, []string{"asc", "desc"}, "sort_order must be 'asc' or 'desc'")
	}

	if v.HasErrors() {
		return v.Errors()
	}
	return nil
}

// IsValidChannel reports whether s is a syntactically valid channel name
// or glob subscription pattern.
func IsValidChannel(s string) bool {
	if s == "" || len(s) > 256 {
		return false
	}
	return channelPattern.MatchString(s)
}

// IsValidRetryStrategyName validates a retry strategy kind string, as
// accepted from admin API overrides.
func IsValidRetryStrategyName(name string) bool {
	switch name {
	case "fixed", "linear", "exponential", "exponential_jitter", "fibonacci":
		return true
	default:
		return false
	}
}

// IsValidDuration validates a duration string as accepted from config
// overrides in admin API requests.
func IsValidDuration(s string) bool {
	_, err := time.ParseDuration(s)
	return err == nil
}

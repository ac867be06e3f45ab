package errors

// HTTP status codes for different error types
const (
	StatusValidationError     = 400
	StatusNotFoundError       = 404
	StatusConflictError       = 409
	StatusUnauthorizedError   = 401
	StatusForbiddenError      = 403
	StatusInternalError       = 500
	StatusBadRequestError     = 400
	StatusServiceUnavailable  = 503
	StatusNotImplementedError = 501
	StatusRateLimitError      = 429
	StatusTransportError      = 502
	StatusScriptError         = 500
	StatusPoisonMessageError  = 422
)

// Business error codes for the Rotif broker.
const (
	// Publish & validation
	CodeChannelInvalid   = "PUBLISH_CHANNEL_INVALID"
	CodePayloadTooLarge  = "PUBLISH_PAYLOAD_TOO_LARGE"
	CodeDuplicateMessage = "PUBLISH_DUPLICATE_MESSAGE"

	// Subscription
	CodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	CodePatternInvalid       = "SUBSCRIPTION_PATTERN_INVALID"

	// Delivery & retry
	CodeMessageNotFound    = "MESSAGE_NOT_FOUND"
	CodeRetriesExhausted   = "MESSAGE_RETRIES_EXHAUSTED"
	CodeMovedToDLQ         = "MESSAGE_MOVED_TO_DLQ"
	CodeConsumerGroupError = "CONSUMER_GROUP_ERROR"

	// Dead-letter queue
	CodeDLQEntryNotFound = "DLQ_ENTRY_NOT_FOUND"
	CodeDLQArchiveFailed = "DLQ_ARCHIVE_FAILED"

	// Transport / script
	CodeRedisUnavailable = "TRANSPORT_REDIS_UNAVAILABLE"
	CodeScriptNoScript   = "SCRIPT_NOSCRIPT"
	CodeScriptFailed     = "SCRIPT_EXECUTION_FAILED"

	// Validation
	CodeInvalidInput         = "VALIDATION_INVALID_INPUT"
	CodeRequiredFieldMissing = "VALIDATION_REQUIRED_FIELD_MISSING"
	CodeInvalidFormat        = "VALIDATION_INVALID_FORMAT"
	CodeValueOutOfRange      = "VALIDATION_VALUE_OUT_OF_RANGE"

	// Configuration
	CodeConfigNotFound  = "CONFIG_NOT_FOUND"
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeFeatureDisabled = "CONFIG_FEATURE_DISABLED"
)

// ErrorCodeToMessage maps error codes to human-readable messages.
var ErrorCodeToMessage = map[string]string{
	CodeChannelInvalid:   "channel name does not match the allowed pattern",
	CodePayloadTooLarge:  "message payload exceeds the configured size limit",
	CodeDuplicateMessage: "message already processed within the deduplication window",

	CodeSubscriptionNotFound: "subscription not found",
	CodePatternInvalid:       "subscription pattern is invalid",

	CodeMessageNotFound:    "message not found",
	CodeRetriesExhausted:   "message exhausted its retry budget",
	CodeMovedToDLQ:         "message moved to the dead-letter queue",
	CodeConsumerGroupError: "consumer group operation failed",

	CodeDLQEntryNotFound: "dead-letter queue entry not found",
	CodeDLQArchiveFailed: "failed to archive dead-letter queue entries",

	CodeRedisUnavailable: "redis is currently unavailable",
	CodeScriptNoScript:   "script not loaded in redis script cache",
	CodeScriptFailed:     "script execution failed",

	CodeInvalidInput:         "invalid input provided",
	CodeRequiredFieldMissing: "required field is missing",
	CodeInvalidFormat:        "invalid format",
	CodeValueOutOfRange:      "value is out of acceptable range",

	CodeConfigNotFound:  "configuration not found",
	CodeConfigInvalid:   "invalid configuration",
	CodeFeatureDisabled: "feature is disabled",
}

// GetErrorMessage returns a human-readable message for the given error code.
func GetErrorMessage(code string) string {
	if message, exists := ErrorCodeToMessage[code]; exists {
		return message
	}
	return "an error occurred"
}

// NewErrorWithCode creates a new AppError with a specific error code.
func NewErrorWithCode(code string, details string) *AppError {
	message := GetErrorMessage(code)

	var errorType AppErrorType
	switch code {
	case CodeSubscriptionNotFound, CodeMessageNotFound, CodeDLQEntryNotFound, CodeConfigNotFound:
		errorType = NotFoundError
	case CodeDuplicateMessage:
		errorType = ConflictError
	case CodeRetriesExhausted, CodeMovedToDLQ:
		errorType = PoisonMessageError
	case CodeRedisUnavailable:
		errorType = TransportError
	case CodeScriptNoScript, CodeScriptFailed:
		errorType = ScriptError
	case CodeChannelInvalid, CodePatternInvalid, CodeInvalidInput, CodeRequiredFieldMissing,
		CodeInvalidFormat, CodeValueOutOfRange, CodePayloadTooLarge:
		errorType = ValidationError
	case CodeConfigInvalid, CodeFeatureDisabled:
		errorType = BadRequestError
	default:
		errorType = InternalError
	}

	return NewAppError(errorType, message, details, nil)
}

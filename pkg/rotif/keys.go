package rotif

import "fmt"

// Stream-key layout. Every Redis key the broker touches is derived here so
// the naming convention lives in exactly one place.
const (
	streamPrefix       = "rotif:stream:"
	scheduledSetKey    = "rotif:scheduled"
	dlqStreamKey       = "rotif:dlq"
	patternsSetKey     = "rotif:patterns"
	updatesChannelKey  = "rotif:subscriptions:updates"
	dedupPrefix        = "rotif:dedup:"
	dlqArchivePrefix   = "rotif:dlq:archive:"
	defaultGroup       = "rotif-group"
	dlqGroup           = "dlq-group"
	dlqConsumer        = "dlq-worker"
)

// streamKey returns the main stream key for a pattern.
func streamKey(pattern string) string {
	return streamPrefix + pattern
}

// publisherDedupKey derives the publish-side dedup key: scoped by pattern and
// channel so overlapping patterns each get their own dedup window.
func publisherDedupKey(pattern, channel, payloadHash string) string {
	return fmt.Sprintf("%spub:%s:%s:%s", dedupPrefix, pattern, channel, payloadHash)
}

// consumerDedupKey derives the consume-side dedup key: scoped by consumer
// group and channel so concurrent workers in the same group agree on who
// has already handled a given payload.
func consumerDedupKey(group, channel, payloadHash string) string {
	return fmt.Sprintf("%scon:%s:%s:%s", dedupPrefix, group, channel, payloadHash)
}

// archiveListKey returns the dated DLQ archive list key for a given date
// string formatted as YYYY-MM-DD.
func archiveListKey(date string) string {
	return dlqArchivePrefix + date
}

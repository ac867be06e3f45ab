package rotif

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	rotiferrors "rotif/pkg/errors"
)

// Publish implements the publish pipeline (spec §4.9): it matches the
// channel against active patterns, runs middleware, and invokes the
// publish-message script once per matching pattern's stream.
//
// Returns: nil if no pattern matches, the literal "DUPLICATE" if every
// matching publish was rejected as a duplicate, a single id string for one
// match, or a []string of ids for fan-out across multiple matching patterns.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte, opts PublishOptions) (interface{}, error) {
	if channel == "" {
		return nil, rotiferrors.NewValidationError("channel is required", "")
	}

	b.middleware.runBeforePublish(channel, payload, opts)

	patterns := b.patterns.matchingPatterns(channel)
	if len(patterns) == 0 {
		b.middleware.runAfterPublish(channel, payload, "", opts)
		return nil, nil
	}

	var ids []string
	duplicateCount := 0
	var lastErr error

	for _, pattern := range patterns {
		id, err := b.publishToPattern(ctx, pattern, channel, payload, opts)
		if err != nil {
			lastErr = err
			b.middleware.runOnError(&Message{Channel: channel, Payload: payload, Pattern: pattern}, err)
			b.logger.WithError(err).WithField("pattern", pattern).WithField("channel", channel).
				Error("publish failed for pattern, continuing with remaining patterns")
			continue
		}
		if id == "DUPLICATE" {
			duplicateCount++
			continue
		}
		ids = append(ids, id)
	}

	var result interface{}
	switch {
	case len(ids) == 0 && duplicateCount > 0:
		result = "DUPLICATE"
	case len(ids) == 1:
		result = ids[0]
	case len(ids) > 1:
		result = ids
	case lastErr != nil && len(ids) == 0 && duplicateCount == 0:
		return nil, lastErr
	}

	resultStr, _ := result.(string)
	b.middleware.runAfterPublish(channel, payload, resultStr, opts)

	if b.metrics != nil {
		outcome := "published"
		if resultStr == "DUPLICATE" {
			outcome = "duplicate"
		}
		for _, p := range patterns {
			b.metrics.published.WithLabelValues(p, outcome).Inc()
		}
	}

	return result, nil
}

func (b *Broker) publishToPattern(ctx context.Context, pattern, channel string, payload []byte, opts PublishOptions) (string, error) {
	stream := streamKey(pattern)

	deliveryType := "normal"
	delayTimestamp := int64(0)
	now := time.Now()

	if opts.DelayMs > 0 {
		deliveryType = "delayed"
		delayTimestamp = now.Add(time.Duration(opts.DelayMs) * time.Millisecond).UnixMilli()
	} else if !opts.DeliverAt.IsZero() {
		deliveryType = "delayed"
		delayTimestamp = opts.DeliverAt.UnixMilli()
	}

	dedupKey := ""
	dedupTTL := opts.DeduplicationTTL
	if dedupTTL <= 0 {
		dedupTTL = b.config.DeduplicationTTL
	}
	if opts.ExactlyOnce {
		dedupKey = publisherDedupKey(pattern, channel, hashPayload(payload))
	}

	attempt := opts.Attempt
	if attempt < 1 {
		attempt = 1
	}

	exactlyOnceFlag := "0"
	if opts.ExactlyOnce {
		exactlyOnceFlag = "1"
	}

	nonce := uuid.NewString()

	res, err := run(ctx, b.redis, b.scripts.publish,
		[]string{stream, scheduledSetKey},
		string(payload), now.UnixMilli(), channel, attempt, deliveryType, delayTimestamp,
		b.config.MaxStreamLength, b.config.MinStreamID, dedupKey, int64(dedupTTL.Seconds()),
		nonce, exactlyOnceFlag, pattern,
	)
	if err != nil {
		return "", rotiferrors.NewScriptError("publish-message failed", err)
	}

	switch v := res.(type) {
	case string:
		if v == "DUPLICATE" {
			return "DUPLICATE", nil
		}
		return v, nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

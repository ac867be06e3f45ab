package rotif

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// scriptRunner wraps the atomic scripts with go-redis's content-addressed
// EVALSHA caching, reloading automatically on NOSCRIPT as required by the
// external-interface contract.
type scriptRunner struct {
	client *redis.Client

	publish        *redis.Script
	moveScheduled  *redis.Script
	ack            *redis.Script
	retry          *redis.Script
	moveToDLQ      *redis.Script
	requeueFromDLQ *redis.Script
	safeUnsubscribe *redis.Script
}

func newScriptRunner(client *redis.Client) *scriptRunner {
	return &scriptRunner{
		client:          client,
		publish:         redis.NewScript(publishMessageScript),
		moveScheduled:   redis.NewScript(moveScheduledMessagesScript),
		ack:             redis.NewScript(ackMessageScript),
		retry:           redis.NewScript(retryMessageScript),
		moveToDLQ:       redis.NewScript(moveToDLQScript),
		requeueFromDLQ:  redis.NewScript(requeueFromDLQScript),
		safeUnsubscribe: redis.NewScript(safeUnsubscribeScript),
	}
}

// run executes a script, retrying once via EVAL (which implicitly loads the
// script into the server-side cache) if the cached EVALSHA comes back
// NOSCRIPT.
func run(ctx context.Context, client *redis.Client, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	res, err := script.Run(ctx, client, keys, args...).Result()
	if err == nil {
		return res, nil
	}
	if redis.HasErrorPrefix(err, "NOSCRIPT") {
		return script.Eval(ctx, client, keys, args...).Result()
	}
	return nil, err
}

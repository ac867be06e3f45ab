package rotif

// Lua scripts for atomic multi-step Redis operations. Every state transition
// that could otherwise interleave with a competing worker runs as one of
// these, preserving the invariant that a message is in exactly one of
// {delivered-and-acked, pending-in-stream, in-scheduled-set, in-DLQ,
// acknowledged-duplicate}.
const (
	// publishMessageScript implements publish-message.
	//
	// Keys:
	//   KEYS[1] - destination stream
	//   KEYS[2] - scheduled set
	// Args:
	//   ARGV[1]  - payload
	//   ARGV[2]  - timestamp (ms)
	//   ARGV[3]  - channel
	//   ARGV[4]  - attempt
	//   ARGV[5]  - delivery type: "normal" | "delayed"
	//   ARGV[6]  - delay timestamp (ms), used when delivery type is "delayed"
	//   ARGV[7]  - max stream length (0 = no trim)
	//   ARGV[8]  - min stream id ("" = no trim)
	//   ARGV[9]  - dedup key ("" = dedup disabled)
	//   ARGV[10] - dedup TTL seconds
	//   ARGV[11] - nonce
	//   ARGV[12] - exactly-once flag ("1"/"0")
	//   ARGV[13] - pattern
	//
	// Returns: "DUPLICATE", the new stream entry id, or "SCHEDULED:<nonce>".
	publishMessageScript = `
local stream = KEYS[1]
local scheduled = KEYS[2]

local payload = ARGV[1]
local timestamp = ARGV[2]
local channel = ARGV[3]
local attempt = ARGV[4]
local deliveryType = ARGV[5]
local delayTimestamp = ARGV[6]
local maxLen = tonumber(ARGV[7])
local minId = ARGV[8]
local dedupKey = ARGV[9]
local dedupTTL = tonumber(ARGV[10])
local nonce = ARGV[11]
local exactlyOnce = ARGV[12]
local pattern = ARGV[13]

if dedupKey ~= "" then
	local set = redis.call('SET', dedupKey, '1', 'NX', 'EX', dedupTTL)
	if not set then
		return "DUPLICATE"
	end
end

if deliveryType == "delayed" then
	local member = cjson.encode({
		channel = channel, payload = payload, timestamp = timestamp,
		attempt = attempt, exactlyOnce = exactlyOnce, dedupTTL = dedupTTL,
		pattern = pattern, targetStream = stream, nonce = nonce,
	})
	redis.call('ZADD', scheduled, delayTimestamp, member)
	return "SCHEDULED:" .. nonce
end

local id
if maxLen and maxLen > 0 then
	id = redis.call('XADD', stream, 'MAXLEN', '~', maxLen, '*',
		'channel', channel, 'payload', payload, 'timestamp', timestamp,
		'attempt', attempt, 'exactlyOnce', exactlyOnce, 'dedupTTL', dedupTTL, 'pattern', pattern)
elseif minId ~= "" then
	id = redis.call('XADD', stream, 'MINID', '~', minId, '*',
		'channel', channel, 'payload', payload, 'timestamp', timestamp,
		'attempt', attempt, 'exactlyOnce', exactlyOnce, 'dedupTTL', dedupTTL, 'pattern', pattern)
else
	id = redis.call('XADD', stream, '*',
		'channel', channel, 'payload', payload, 'timestamp', timestamp,
		'attempt', attempt, 'exactlyOnce', exactlyOnce, 'dedupTTL', dedupTTL, 'pattern', pattern)
end

return id
`

	// moveScheduledMessagesScript implements move-scheduled-messages.
	//
	// Keys:
	//   KEYS[1] - scheduled set
	// Args:
	//   ARGV[1] - now (ms)
	//   ARGV[2] - batch size
	//
	// Returns: number of entries promoted.
	moveScheduledMessagesScript = `
local scheduled = KEYS[1]
local now = tonumber(ARGV[1])
local batchSize = tonumber(ARGV[2])

local members = redis.call('ZRANGEBYSCORE', scheduled, '0', now, 'LIMIT', 0, batchSize)
local moved = 0

for _, raw in ipairs(members) do
	local removed = redis.call('ZREM', scheduled, raw)
	if removed == 1 then
		local ok, entry = pcall(cjson.decode, raw)
		if ok then
			redis.call('XADD', entry.targetStream, '*',
				'channel', entry.channel, 'payload', entry.payload, 'timestamp', entry.timestamp,
				'attempt', entry.attempt, 'exactlyOnce', entry.exactlyOnce, 'dedupTTL', entry.dedupTTL,
				'pattern', entry.pattern)
			moved = moved + 1
		end
	end
end

return moved
`

	// ackMessageScript implements ack-message.
	//
	// Keys:
	//   KEYS[1] - stream
	// Args:
	//   ARGV[1] - group
	//   ARGV[2] - id
	//   ARGV[3] - delete flag ("1"/"0")
	ackMessageScript = `
local stream = KEYS[1]
local group = ARGV[1]
local id = ARGV[2]
local doDelete = ARGV[3]

redis.call('XACK', stream, group, id)
if doDelete == "1" then
	redis.call('XDEL', stream, id)
end

return 1
`

	// retryMessageScript implements retry-message: acks the failed entry off
	// the stream it was read from and re-enters the message into the
	// scheduled set targeting the main stream (not the retry stream), so
	// promotions resume at mainStream regardless of where the failure
	// occurred.
	//
	// Keys:
	//   KEYS[1] - stream the failed entry was read from
	//   KEYS[2] - scheduled set
	// Args:
	//   ARGV[1]  - group
	//   ARGV[2]  - id
	//   ARGV[3]  - channel
	//   ARGV[4]  - payload
	//   ARGV[5]  - timestamp
	//   ARGV[6]  - next attempt
	//   ARGV[7]  - due at (ms)
	//   ARGV[8]  - nonce
	//   ARGV[9]  - exactly-once flag
	//   ARGV[10] - dedup TTL seconds
	//   ARGV[11] - main stream key
	//   ARGV[12] - pattern
	//
	// Returns: the nonce.
	retryMessageScript = `
local stream = KEYS[1]
local scheduled = KEYS[2]

local group = ARGV[1]
local id = ARGV[2]
local channel = ARGV[3]
local payload = ARGV[4]
local timestamp = ARGV[5]
local nextAttempt = ARGV[6]
local dueAt = ARGV[7]
local nonce = ARGV[8]
local exactlyOnce = ARGV[9]
local dedupTTL = ARGV[10]
local mainStream = ARGV[11]
local pattern = ARGV[12]

redis.call('XACK', stream, group, id)
redis.call('XDEL', stream, id)

local member = cjson.encode({
	channel = channel, payload = payload, timestamp = timestamp,
	attempt = nextAttempt, exactlyOnce = exactlyOnce, dedupTTL = dedupTTL,
	pattern = pattern, targetStream = mainStream, nonce = nonce,
})
redis.call('ZADD', scheduled, dueAt, member)

return nonce
`

	// moveToDLQScript implements move-to-dlq.
	//
	// Keys:
	//   KEYS[1] - source stream
	//   KEYS[2] - dlq stream
	// Args:
	//   ARGV[1] - group
	//   ARGV[2] - id
	//   ARGV[3] - channel
	//   ARGV[4] - payload
	//   ARGV[5] - error
	//   ARGV[6] - timestamp
	//   ARGV[7] - attempt
	//
	// Returns: the new DLQ entry id.
	moveToDLQScript = `
local stream = KEYS[1]
local dlq = KEYS[2]

local group = ARGV[1]
local id = ARGV[2]
local channel = ARGV[3]
local payload = ARGV[4]
local errMsg = ARGV[5]
local timestamp = ARGV[6]
local attempt = ARGV[7]

redis.call('XACK', stream, group, id)
redis.call('XDEL', stream, id)

local dlqID = redis.call('XADD', dlq, '*',
	'channel', channel, 'payload', payload, 'error', errMsg,
	'timestamp', timestamp, 'attempt', attempt)

return dlqID
`

	// requeueFromDLQScript implements requeue-from-dlq.
	//
	// Keys:
	//   KEYS[1] - dlq stream
	// Args:
	//   ARGV[1] - count
	//
	// Returns: number of entries moved.
	requeueFromDLQScript = `
local dlq = KEYS[1]
local count = tonumber(ARGV[1])

local entries = redis.call('XRANGE', dlq, '-', '+', 'COUNT', count)
local moved = 0

for _, entry in ipairs(entries) do
	local id = entry[1]
	local fields = entry[2]
	local values = {}
	for i = 1, #fields, 2 do
		values[fields[i]] = fields[i + 1]
	end

	local streamKey = "rotif:stream:" .. (values["pattern"] or values["channel"])
	redis.call('XADD', streamKey, '*',
		'channel', values["channel"], 'payload', values["payload"],
		'timestamp', values["timestamp"], 'attempt', '1',
		'exactlyOnce', values["exactlyOnce"] or "0", 'dedupTTL', values["dedupTTL"] or "0",
		'pattern', values["pattern"] or values["channel"])
	redis.call('XDEL', dlq, id)
	moved = moved + 1
end

return moved
`

	// safeUnsubscribeScript implements safe-unsubscribe.
	//
	// Keys:
	//   KEYS[1] - pattern registry sorted set
	// Args:
	//   ARGV[1] - pattern
	//
	// Returns: the new reference count.
	safeUnsubscribeScript = `
local patterns = KEYS[1]
local pattern = ARGV[1]

local newScore = redis.call('ZINCRBY', patterns, -1, pattern)
if tonumber(newScore) <= 0 then
	redis.call('ZREM', patterns, pattern)
end

return tonumber(newScore)
`
)

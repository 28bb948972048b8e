package jobstore

import "github.com/redis/go-redis/v9"

// Server-side scripts implementing the claim protocol and credit settlement.
//
// Redis executes each script as one atomic command, which is what gives the
// protocol its cross-process guarantees: two claimants can never both observe
// an item as pending, and an item transition always lands in the same atomic
// unit as its ledger row. All hash field values arrive pre-stringified from
// Go (see StringifyHash).

// createJobScript materializes a job: balance check, reserve row, job hash,
// item hashes, claim queue. Either everything exists afterwards or nothing
// does. Zero-item jobs are written already settled, with the overhead charge
// row appended in the same step.
//
// KEYS: balance, ledger, job, pending, items, jobSet
// ARGV: reserveAmount, reserveRow, jobFieldsJSON, itemsJSON, itemKeyPrefix,
//
//	jobID, overheadRow ("" when the job has items)
var createJobScript = redis.NewScript(`
local balance = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
if balance < amount then
	return 'insufficient'
end
redis.call('DECRBY', KEYS[1], amount)
redis.call('RPUSH', KEYS[2], ARGV[2])
local job = cjson.decode(ARGV[3])
for field, value in pairs(job) do
	redis.call('HSET', KEYS[3], field, value)
end
local items = cjson.decode(ARGV[4])
for _, item in ipairs(items) do
	local itemKey = ARGV[5] .. item.id
	for field, value in pairs(item) do
		redis.call('HSET', itemKey, field, value)
	end
	redis.call('ZADD', KEYS[4], tonumber(item.item_index), item.id)
	redis.call('ZADD', KEYS[5], tonumber(item.item_index), item.id)
end
redis.call('SADD', KEYS[6], ARGV[6])
if ARGV[7] ~= '' then
	redis.call('RPUSH', KEYS[2], ARGV[7])
end
return 'ok'
`)

// claimScript pops the FIFO head of the claim queue and flips it to claimed
// in one step. A caller that finds no pending item gets 'empty' immediately;
// it never waits behind another claimant. Claims against cancelled or
// settled jobs get 'closed'. The claimant must be a live registered
// instance.
//
// KEYS: job, pending, agent, agentClaims
// ARGV: workerID, nowMs, itemKeyPrefix, jobID
var claimScript = redis.NewScript(`
local jobStatus = redis.call('HGET', KEYS[1], 'status')
if jobStatus == false then
	return {'not_found'}
end
if jobStatus ~= 'pending' and jobStatus ~= 'running' then
	return {'closed'}
end
local agentStatus = redis.call('HGET', KEYS[3], 'status')
if agentStatus == false then
	return {'no_worker'}
end
if agentStatus ~= 'starting' and agentStatus ~= 'running' and agentStatus ~= 'idle' then
	return {'stale_worker'}
end
local ids = redis.call('ZRANGE', KEYS[2], 0, 0)
if #ids == 0 then
	return {'empty'}
end
local itemID = ids[1]
redis.call('ZREM', KEYS[2], itemID)
redis.call('HSET', ARGV[3] .. itemID,
	'status', 'claimed',
	'worker_instance_id', ARGV[1],
	'claimed_at_ms', ARGV[2])
if jobStatus == 'pending' then
	redis.call('HSET', KEYS[1], 'status', 'running')
end
redis.call('SADD', KEYS[4], ARGV[4] .. '/' .. itemID)
return {'ok', itemID}
`)

// settleFragment is shared by completeScript and failScript: once every item
// is terminal it finalizes the job status and posts the overhead charge.
// Cancelled jobs keep their status; cancel posted the overhead already.
const settleFragment = `
local total = tonumber(redis.call('HGET', KEYS[1], 'total_items') or '0')
local done = tonumber(redis.call('HGET', KEYS[1], 'completed_items') or '0')
	+ tonumber(redis.call('HGET', KEYS[1], 'failed_items') or '0')
	+ tonumber(redis.call('HGET', KEYS[1], 'cancelled_items') or '0')
local jobStatus = redis.call('HGET', KEYS[1], 'status')
if done >= total and jobStatus ~= 'cancelled' then
	local failed = tonumber(redis.call('HGET', KEYS[1], 'failed_items') or '0')
	local finalStatus = 'completed'
	if total > 0 and failed >= total then
		finalStatus = 'failed'
	end
	redis.call('HSET', KEYS[1], 'status', finalStatus, 'completed_at_ms', ARGV[2])
	local overhead = tonumber(redis.call('HGET', KEYS[1], 'job_overhead') or '0')
	if overhead > 0 then
		redis.call('RPUSH', KEYS[3], ARGV[4])
		redis.call('HINCRBY', KEYS[1], 'credits_remaining', -overhead)
		redis.call('HINCRBY', KEYS[1], 'credits_spent', overhead)
	end
end
`

// completeScript resolves a claimed item successfully. Valid only from
// claimed; a second call on a terminal item returns a conflict and posts
// nothing. The charge is bounded by the job's remaining reserved pool - a
// racing charge that would overspend fails closed.
//
// KEYS: job, item, ledger
// ARGV: output, nowMs, chargeRow, overheadRow, agentClaimsPrefix, claimRef
var completeScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[2], 'status')
if st == false then
	return {'not_found'}
end
if st ~= 'claimed' then
	return {'conflict', st}
end
local cost = tonumber(redis.call('HGET', KEYS[1], 'per_item_cost') or '0')
local remaining = tonumber(redis.call('HGET', KEYS[1], 'credits_remaining') or '0')
if remaining < cost then
	return {'insufficient'}
end
local worker = redis.call('HGET', KEYS[2], 'worker_instance_id')
redis.call('HSET', KEYS[2], 'status', 'completed', 'output', ARGV[1], 'completed_at_ms', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'completed_items', 1)
redis.call('HINCRBY', KEYS[1], 'credits_remaining', -cost)
redis.call('HINCRBY', KEYS[1], 'credits_spent', cost)
redis.call('RPUSH', KEYS[3], ARGV[3])
if worker and worker ~= '' then
	redis.call('SREM', ARGV[5] .. worker .. ':claims', ARGV[6])
end
`+settleFragment+`
return {'ok'}
`)

// failScript resolves a failed execution attempt. Below the retry budget the
// item goes back to pending with no ledger effect; at the budget it becomes
// terminally failed and the unspent reservation for the item is refunded.
//
// KEYS: job, item, ledger, balance, pending
// ARGV: errorMsg, nowMs, refundRow, overheadRow, agentClaimsPrefix, claimRef, itemID
var failScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[2], 'status')
if st == false then
	return {'not_found'}
end
if st ~= 'claimed' then
	return {'conflict', st}
end
local worker = redis.call('HGET', KEYS[2], 'worker_instance_id')
if worker and worker ~= '' then
	redis.call('SREM', ARGV[5] .. worker .. ':claims', ARGV[6])
end
local retry = tonumber(redis.call('HGET', KEYS[2], 'retry_count') or '0')
local max = tonumber(redis.call('HGET', KEYS[2], 'max_retries') or '0')
local jobStatus = redis.call('HGET', KEYS[1], 'status')
if retry < max and jobStatus ~= 'cancelled' then
	redis.call('HSET', KEYS[2],
		'status', 'pending',
		'error_message', ARGV[1],
		'retry_count', retry + 1,
		'worker_instance_id', '',
		'claimed_at_ms', 0)
	local idx = tonumber(redis.call('HGET', KEYS[2], 'item_index') or '0')
	redis.call('ZADD', KEYS[5], idx, ARGV[7])
	return {'retry'}
end
if retry < max then
	-- Cancelled job: requeueing is pointless since claims are closed, so the
	-- failed attempt resolves the item as cancelled and refunds its portion.
	redis.call('HSET', KEYS[2], 'status', 'cancelled', 'error_message', ARGV[1], 'completed_at_ms', ARGV[2])
	redis.call('HINCRBY', KEYS[1], 'cancelled_items', 1)
else
	redis.call('HSET', KEYS[2], 'status', 'failed', 'error_message', ARGV[1], 'completed_at_ms', ARGV[2])
	redis.call('HINCRBY', KEYS[1], 'failed_items', 1)
end
local cost = tonumber(redis.call('HGET', KEYS[1], 'per_item_cost') or '0')
if cost > 0 then
	redis.call('RPUSH', KEYS[3], ARGV[3])
	redis.call('HINCRBY', KEYS[1], 'credits_remaining', -cost)
	redis.call('HINCRBY', KEYS[1], 'credits_refunded', cost)
	redis.call('INCRBY', KEYS[4], cost)
end
`+settleFragment+`
return {'failed'}
`)

// cancelScript stops new claims and cancels every still-pending item,
// refunding their portion in one atomic step. Claimed items are untouched;
// they resolve naturally and settle against the already-cancelled job.
//
// KEYS: job, pending, ledger, balance
// ARGV: nowMs, itemKeyPrefix, refundRowTemplate (with @amount@ placeholder),
//
//	overheadRow
var cancelScript = redis.NewScript(`
local jobStatus = redis.call('HGET', KEYS[1], 'status')
if jobStatus == false then
	return {'not_found'}
end
if jobStatus ~= 'pending' and jobStatus ~= 'running' then
	return {'closed'}
end
local ids = redis.call('ZRANGE', KEYS[2], 0, -1)
for _, itemID in ipairs(ids) do
	redis.call('HSET', ARGV[2] .. itemID, 'status', 'cancelled', 'completed_at_ms', ARGV[1])
end
redis.call('DEL', KEYS[2])
local n = #ids
if n > 0 then
	redis.call('HINCRBY', KEYS[1], 'cancelled_items', n)
end
local cost = tonumber(redis.call('HGET', KEYS[1], 'per_item_cost') or '0')
local refund = n * cost
if refund > 0 then
	local row = string.gsub(ARGV[3], '@amount@', string.format('%d', refund))
	redis.call('RPUSH', KEYS[3], row)
	redis.call('HINCRBY', KEYS[1], 'credits_remaining', -refund)
	redis.call('HINCRBY', KEYS[1], 'credits_refunded', refund)
	redis.call('INCRBY', KEYS[4], refund)
end
redis.call('HSET', KEYS[1], 'status', 'cancelled', 'completed_at_ms', ARGV[1])
local overhead = tonumber(redis.call('HGET', KEYS[1], 'job_overhead') or '0')
if overhead > 0 then
	redis.call('RPUSH', KEYS[3], ARGV[4])
	redis.call('HINCRBY', KEYS[1], 'credits_remaining', -overhead)
	redis.call('HINCRBY', KEYS[1], 'credits_spent', overhead)
end
return {n, refund}
`)

// releaseClaimsScript returns every item a worker still holds to pending.
// This is the crash-recovery path: items are requeued with their retry count
// untouched and any stored output preserved, never deleted. Items already
// resolved or re-claimed by another worker are skipped.
//
// KEYS: agentClaims
// ARGV: itemKeyPrefix, jobKeyPrefix, workerID
var releaseClaimsScript = redis.NewScript(`
local refs = redis.call('SMEMBERS', KEYS[1])
local released = 0
for _, ref in ipairs(refs) do
	local slash = string.find(ref, '/', 1, true)
	if slash then
		local jobID = string.sub(ref, 1, slash - 1)
		local itemID = string.sub(ref, slash + 1)
		local itemKey = ARGV[1] .. itemID
		local st = redis.call('HGET', itemKey, 'status')
		local holder = redis.call('HGET', itemKey, 'worker_instance_id')
		if st == 'claimed' and holder == ARGV[3] then
			redis.call('HSET', itemKey, 'status', 'pending', 'worker_instance_id', '', 'claimed_at_ms', 0)
			local idx = tonumber(redis.call('HGET', itemKey, 'item_index') or '0')
			redis.call('ZADD', ARGV[2] .. jobID .. ':pending', idx, itemID)
			released = released + 1
		end
	end
end
redis.call('DEL', KEYS[1])
return released
`)

// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package account

import "github.com/go-redis/redis/v8"

// Script results are {status, balance}.
const (
	statusOK           = 1
	statusRejected     = 0
	statusBanned       = -1
	statusInsufficient = -2
	statusNotFound     = -3
)

// luaHelpers is prepended to every mutating script.
// Credit arguments: amount, encoded ledger entry, ledger trim stop index, now in ms.
const luaHelpers = `
local function banned(account)
  return redis.call('HGET', account, 'banned') == '1'
end
local function balance(account)
  return tonumber(redis.call('HGET', account, 'balance') or '0')
end
local function credit(account, ledger, amount, entry, stop, now)
  redis.call('HSETNX', account, 'created_at', now)
  local b = redis.call('HINCRBY', account, 'balance', amount)
  redis.call('HINCRBY', account, 'lifetime_earned', amount)
  redis.call('LPUSH', ledger, entry)
  redis.call('LTRIM', ledger, 0, stop)
  return b
end
`

// KEYS: account, ledger[, daily]
// ARGV: amount, entry, stop, now[, daily ttl, minutes]
var creditScript = redis.NewScript(luaHelpers + `
if banned(KEYS[1]) then
  return {-1, 0}
end
local b = credit(KEYS[1], KEYS[2], ARGV[1], ARGV[2], ARGV[3], ARGV[4])
if #KEYS > 2 then
  redis.call('HINCRBY', KEYS[3], 'minutes', ARGV[6])
  redis.call('HINCRBY', KEYS[3], 'earned', ARGV[1])
  redis.call('EXPIRE', KEYS[3], ARGV[5])
end
return {1, b}
`)

// KEYS: account, ledger
// ARGV: amount, entry, stop
var debitScript = redis.NewScript(luaHelpers + `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-3, 0}
end
if banned(KEYS[1]) then
  return {-1, 0}
end
local b = balance(KEYS[1])
if b < tonumber(ARGV[1]) then
  return {-2, b}
end
b = redis.call('HINCRBY', KEYS[1], 'balance', '-' .. ARGV[1])
redis.call('LPUSH', KEYS[2], ARGV[2])
redis.call('LTRIM', KEYS[2], 0, ARGV[3])
return {1, b}
`)

// Claims a field in a flag hash once and credits the grant with it.
// KEYS: account, ledger, flags
// ARGV: amount, entry, stop, now, field, ttl seconds (0 keeps the hash forever)
var claimScript = redis.NewScript(luaHelpers + `
if redis.call('HEXISTS', KEYS[3], ARGV[5]) == 1 then
  return {0, balance(KEYS[1])}
end
if banned(KEYS[1]) then
  return {-1, 0}
end
redis.call('HSET', KEYS[3], ARGV[5], ARGV[4])
if ARGV[6] ~= '0' then
  redis.call('EXPIRE', KEYS[3], ARGV[6])
end
if tonumber(ARGV[1]) > 0 then
  return {1, credit(KEYS[1], KEYS[2], ARGV[1], ARGV[2], ARGV[3], ARGV[4])}
end
return {1, balance(KEYS[1])}
`)

// Compare-and-set on the streak's last counted date, crediting every grant pair.
// KEYS: account, ledger, streak
// ARGV: expected last date, current, longest, new last date, stop, now, {amount, entry}...
var streakScript = redis.NewScript(luaHelpers + `
local stored = redis.call('HGET', KEYS[3], 'last_date') or ''
if stored ~= ARGV[1] then
  return {0, 0}
end
if banned(KEYS[1]) then
  return {-1, 0}
end
redis.call('HSET', KEYS[3], 'current', ARGV[2], 'longest', ARGV[3], 'last_date', ARGV[4])
local b = balance(KEYS[1])
for i = 7, #ARGV, 2 do
  b = credit(KEYS[1], KEYS[2], ARGV[i], ARGV[i + 1], ARGV[5], ARGV[6])
end
return {1, b}
`)

// KEYS: streak
// ARGV: week id, flag field
var bridgeFlagsScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'week') ~= ARGV[1] then
  redis.call('HSET', KEYS[1], 'week', ARGV[1], 'weekend_seen', '0', 'weekday_seen', '0', 'bridge_claimed', '0')
end
redis.call('HSET', KEYS[1], ARGV[2], '1')
local v = redis.call('HMGET', KEYS[1], 'weekend_seen', 'weekday_seen', 'bridge_claimed')
return {v[1] or '0', v[2] or '0', v[3] or '0'}
`)

// KEYS: account, ledger, streak
// ARGV: amount, entry, stop, now, week id
var bridgeClaimScript = redis.NewScript(luaHelpers + `
if redis.call('HGET', KEYS[3], 'week') ~= ARGV[5] then
  return {0, 0}
end
if redis.call('HGET', KEYS[3], 'bridge_claimed') == '1' then
  return {0, balance(KEYS[1])}
end
if redis.call('HGET', KEYS[3], 'weekend_seen') ~= '1' or redis.call('HGET', KEYS[3], 'weekday_seen') ~= '1' then
  return {0, balance(KEYS[1])}
end
if banned(KEYS[1]) then
  return {-1, 0}
end
redis.call('HSET', KEYS[3], 'bridge_claimed', '1')
return {1, credit(KEYS[1], KEYS[2], ARGV[1], ARGV[2], ARGV[3], ARGV[4])}
`)

package valkey

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tunegate/tunegate/storage"
)

// luaAdmitWindowed implements an atomic dual sliding-window admission check
// over two sorted sets (per-endpoint and global). Stale entries are evicted,
// both counts are checked against their limits, and the new entry is admitted
// only when both windows have capacity. Running as a single script means
// concurrent callers can never overshoot either limit.
//
// KEYS[1] = endpoint window key
// KEYS[2] = global window key
// ARGV[1] = now in Unix milliseconds
// ARGV[2] = endpoint window in milliseconds
// ARGV[3] = endpoint limit
// ARGV[4] = global window in milliseconds
// ARGV[5] = global limit
// ARGV[6] = unique member for the admitted entry
//
// Returns {allowed (0|1), endpointCount, globalCount}; counts include the
// admitted entry when allowed.
const luaAdmitWindowed = `
local nowMs = tonumber(ARGV[1])
local epWindowMs = tonumber(ARGV[2])
local epLimit = tonumber(ARGV[3])
local gWindowMs = tonumber(ARGV[4])
local gLimit = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, nowMs - epWindowMs)
redis.call('ZREMRANGEBYSCORE', KEYS[2], 0, nowMs - gWindowMs)

local epCount = redis.call('ZCARD', KEYS[1])
local gCount = redis.call('ZCARD', KEYS[2])

if epCount >= epLimit or gCount >= gLimit then
    return {0, epCount, gCount}
end

redis.call('ZADD', KEYS[1], nowMs, ARGV[6])
redis.call('ZADD', KEYS[2], nowMs, ARGV[6])
redis.call('PEXPIRE', KEYS[1], epWindowMs)
redis.call('PEXPIRE', KEYS[2], gWindowMs)

return {1, epCount + 1, gCount + 1}
`

// AdmitWindowed atomically evicts, checks, and admits a request across the
// endpoint and global sliding windows.
func (s *Store) AdmitWindowed(ctx context.Context, endpointKey, globalKey string, req storage.WindowRequest) (*storage.WindowResult, error) {
	nowMs := req.Now.UnixMilli()

	values, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaAdmitWindowed).
			Numkeys(2).
			Key(s.windowKey(endpointKey), s.windowKey(globalKey)).
			Arg(fmt.Sprintf("%d", nowMs)).
			Arg(fmt.Sprintf("%d", req.EndpointWindow.Milliseconds())).
			Arg(fmt.Sprintf("%d", req.EndpointLimit)).
			Arg(fmt.Sprintf("%d", req.GlobalWindow.Milliseconds())).
			Arg(fmt.Sprintf("%d", req.GlobalLimit)).
			Arg(uuid.NewString()).
			Build(),
	).AsIntSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to execute windowed admission: %w", err)
	}

	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected admission result length %d", len(values))
	}

	return &storage.WindowResult{
		Allowed:       values[0] == 1,
		EndpointCount: int(values[1]),
		GlobalCount:   int(values[2]),
	}, nil
}

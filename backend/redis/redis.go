// Package redis is a CAS-capable backend.Client over go-redis.
//
// Each cache key is stored as a hash with two fields: "v" holds the value and
// "c" holds the CAS token. Every write replaces the token with a fresh random
// value, so a deleted and recreated key never matches a token read earlier.
// Conditional operations run as Lua scripts and are atomic on the server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/nemocache/backend"
)

var ErrNilClient = errors.New("redis backend: nil client")

const (
	fieldValue = "v"
	fieldCAS   = "c"
)

// expire(key, kind, arg) applies the expiration computed client side.
const prelude = `
local function expire(key, kind, arg)
  if kind == 'px' then
    redis.call('PEXPIRE', key, arg)
  elseif kind == 'pxat' then
    redis.call('PEXPIREAT', key, arg)
  else
    redis.call('PERSIST', key)
  end
end
local function apply(key, v, token, kind, arg)
  if kind == 'del' then
    redis.call('DEL', key)
    return 1
  end
  redis.call('HSET', key, 'v', v)
  redis.call('HSET', key, 'c', token)
  expire(key, kind, arg)
  return 1
end
`

// KEYS[1]; ARGV: mode, value, token, kind, arg
var storeScript = goredis.NewScript(prelude + `
local exists = redis.call('EXISTS', KEYS[1]) == 1
if ARGV[1] == 'add' and exists then return 0 end
if ARGV[1] == 'replace' and not exists then return 0 end
return apply(KEYS[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5])
`)

// KEYS[1]; ARGV: cas, value, token, kind, arg
var casScript = goredis.NewScript(prelude + `
local cur = redis.call('HGET', KEYS[1], 'c')
if not cur or cur ~= ARGV[1] then return 0 end
return apply(KEYS[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5])
`)

// KEYS[1]; ARGV: cas
var removeCASScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'c')
if not cur or cur ~= ARGV[1] then return 0 end
redis.call('DEL', KEYS[1])
return 1
`)

// KEYS[1]; ARGV: kind, arg
var touchScript = goredis.NewScript(prelude + `
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if ARGV[1] == 'del' then
  redis.call('DEL', KEYS[1])
  return 1
end
expire(KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// KEYS[1]; ARGV: data, token
var appendScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if not cur then return 0 end
redis.call('HSET', KEYS[1], 'v', cur .. ARGV[1])
redis.call('HSET', KEYS[1], 'c', ARGV[2])
return 1
`)

// KEYS[1]; ARGV: initial, delta, token
// The counter is returned as a string; Lua numbers are doubles.
var incrScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('HSET', KEYS[1], 'v', ARGV[1])
  redis.call('HSET', KEYS[1], 'c', ARGV[3])
  return ARGV[1]
end
redis.call('HINCRBY', KEYS[1], 'v', ARGV[2])
redis.call('HSET', KEYS[1], 'c', ARGV[3])
return redis.call('HGET', KEYS[1], 'v')
`)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this backend exclusively owns the client
	// Clock computes absolute deadlines. Nil uses the wall clock.
	Clock clock.Clock
}

type Client struct {
	rdb         goredis.UniversalClient
	closeClient bool
	clk         clock.Clock
}

var _ backend.Client = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Client{rdb: cfg.Client, closeClient: cfg.CloseClient, clk: clk}, nil
}

func (c *Client) Capabilities() backend.Capabilities { return backend.Capabilities{CAS: true} }

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.HGet(ctx, key, fieldValue).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (c *Client) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	items, err := c.GetMultiWithCAS(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(items))
	for k, it := range items {
		out[k] = it.Value
	}
	return out, nil
}

func (c *Client) Store(ctx context.Context, mode backend.StoreMode, key string, value []byte, exp backend.Expiration) (bool, error) {
	kind, arg := c.expiry(exp)
	return runBool(ctx, c.rdb, storeScript, key, mode.String(), value, newToken(), kind, arg)
}

func (c *Client) Remove(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Client) FlushAll(ctx context.Context) error {
	return c.rdb.FlushDB(ctx).Err()
}

func (c *Client) Touch(ctx context.Context, key string, exp backend.Expiration) (bool, error) {
	kind, arg := c.expiry(exp)
	return runBool(ctx, c.rdb, touchScript, key, kind, arg)
}

func (c *Client) Append(ctx context.Context, key string, data []byte) (bool, error) {
	return runBool(ctx, c.rdb, appendScript, key, data, newToken())
}

func (c *Client) Increment(ctx context.Context, key string, initial, delta uint64) (uint64, error) {
	if delta > math.MaxInt64 || initial > math.MaxInt64 {
		return 0, fmt.Errorf("redis backend: counter operand out of range")
	}
	s, err := incrScript.Run(ctx, c.rdb, []string{key},
		strconv.FormatUint(initial, 10), strconv.FormatUint(delta, 10), newToken()).Text()
	if err != nil {
		if strings.Contains(err.Error(), "not an integer") || strings.Contains(err.Error(), "overflow") {
			return 0, backend.ErrNotNumeric
		}
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, backend.ErrNotNumeric
	}
	return v, nil
}

func (c *Client) GetWithCAS(ctx context.Context, key string) ([]byte, backend.CAS, bool, error) {
	vals, err := c.rdb.HMGet(ctx, key, fieldValue, fieldCAS).Result()
	if err != nil {
		return nil, 0, false, err
	}
	it, ok, err := parseItem(key, vals)
	if err != nil || !ok {
		return nil, 0, false, err
	}
	return it.Value, it.CAS, true, nil
}

// GetMultiWithCAS pipelines one HMGET per key.
func (c *Client) GetMultiWithCAS(ctx context.Context, keys []string) (map[string]backend.Item, error) {
	out := make(map[string]backend.Item, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	cmds := make([]*goredis.SliceCmd, len(keys))
	_, err := c.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.HMGet(ctx, k, fieldValue, fieldCAS)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, cmd := range cmds {
		it, ok, err := parseItem(keys[i], cmd.Val())
		if err != nil {
			return nil, err
		}
		if ok {
			out[keys[i]] = it
		}
	}
	return out, nil
}

func (c *Client) CompareAndSwap(ctx context.Context, key string, value []byte, cas backend.CAS, exp backend.Expiration) (bool, error) {
	kind, arg := c.expiry(exp)
	return runBool(ctx, c.rdb, casScript, key, strconv.FormatUint(uint64(cas), 10), value, newToken(), kind, arg)
}

func (c *Client) RemoveCAS(ctx context.Context, key string, cas backend.CAS) (bool, error) {
	return runBool(ctx, c.rdb, removeCASScript, key, strconv.FormatUint(uint64(cas), 10))
}

// Close releases the underlying redis client only when this backend owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (c *Client) Close() error {
	if c.closeClient {
		if err := c.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

// expiry maps a policy onto (kind, arg) for the Lua prelude.
func (c *Client) expiry(exp backend.Expiration) (string, string) {
	switch exp.Kind {
	case backend.ExpireNever:
		return "none", "0"
	case backend.ExpireAfter:
		ms := exp.Span.Milliseconds()
		if ms <= 0 {
			ms = 1
		}
		return "px", strconv.FormatInt(ms, 10)
	default:
		now := c.clk.Now()
		dl := exp.Deadline(now)
		if !dl.After(now) {
			return "del", "0"
		}
		return "pxat", strconv.FormatInt(dl.UnixNano()/int64(time.Millisecond), 10)
	}
}

func runBool(ctx context.Context, rdb goredis.UniversalClient, s *goredis.Script, key string, args ...any) (bool, error) {
	n, err := s.Run(ctx, rdb, []string{key}, args...).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func parseItem(key string, vals []any) (backend.Item, bool, error) {
	if len(vals) != 2 || vals[0] == nil {
		return backend.Item{}, false, nil
	}
	v, ok := vals[0].(string)
	if !ok {
		return backend.Item{}, false, fmt.Errorf("redis backend: unexpected value type %T at %s", vals[0], key)
	}
	var cas uint64
	if s, ok := vals[1].(string); ok {
		u, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return backend.Item{}, false, fmt.Errorf("redis backend: cas parse at %s: %w", key, err)
		}
		cas = u
	}
	return backend.Item{Value: []byte(v), CAS: backend.CAS(cas)}, true, nil
}

// newToken returns a non-zero random CAS token.
func newToken() string {
	for {
		if u := rand.Uint64(); u != 0 {
			return strconv.FormatUint(u, 10)
		}
	}
}

package binmc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/binmc/binmc/binproto"
)

// DefaultPoolSize is used when PoolConfig.MaxSize is zero.
const DefaultPoolSize = 8

// PoolConfig holds configuration for a PooledClient.
type PoolConfig struct {
	// Config carries dialing, authentication, routing and logging
	// settings, shared with Client.
	Config

	// MaxSize is the maximum number of connections per server.
	// Zero means DefaultPoolSize.
	MaxSize int32

	// MaxConnLifetime is the maximum age of a connection before the
	// health check loop retires it. Zero means no limit.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is how long a connection may sit unused before
	// the health check loop retires it. Zero means no limit.
	MaxConnIdleTime time.Duration

	// HealthCheckInterval is how often idle connections are probed with
	// a Noop and checked against the lifetime limits. Zero disables the
	// loop.
	HealthCheckInterval time.Duration

	// NewCircuitBreaker creates a circuit breaker per server. Called
	// once per server when its pool is created. Nil disables breaking.
	// See NewCircuitBreakerConfig for a ready-made policy.
	NewCircuitBreaker func(serverAddr string) *gobreaker.CircuitBreaker[bool]

	// for testing purposes only
	dial func(ctx context.Context, spec ServerSpec) (*Conn, error)
}

// serverPool is one server's connection pool with its breaker.
// puddle does not count created and destroyed resources, so the pool
// tracks those itself from the constructor and destructor.
type serverPool struct {
	spec    ServerSpec
	pool    *puddle.Pool[*Conn]
	breaker *gobreaker.CircuitBreaker[bool] // nil if not configured

	createdConns   atomic.Int64
	destroyedConns atomic.Int64
}

// PooledClient routes operations across servers like Client, but is
// safe for concurrent use: each server gets a connection pool, and
// every operation borrows a connection for its duration. Pools are
// created lazily, the first time a key routes to their server.
type PooledClient struct {
	specs    []ServerSpec
	selector Selector
	config   PoolConfig
	logger   *zap.Logger

	mu    sync.RWMutex
	pools map[int]*serverPool

	stopHealthCheck chan struct{}
	stats           *clientStatsCollector
}

// NewPooledClient creates a pooled client over the given servers.
// No connection is dialed until the first operation.
func NewPooledClient(specs []ServerSpec, config PoolConfig) (*PooledClient, error) {
	if len(specs) == 0 {
		return nil, ErrNoServers
	}
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultPoolSize
	}
	if config.dial == nil {
		config.dial = func(ctx context.Context, spec ServerSpec) (*Conn, error) {
			return dialServer(ctx, spec, config.Config)
		}
	}

	client := &PooledClient{
		specs:           specs,
		selector:        config.Config.selector(specs),
		config:          config,
		logger:          config.Config.logger(),
		pools:           make(map[int]*serverPool),
		stopHealthCheck: make(chan struct{}),
		stats:           newClientStatsCollector(),
	}

	if config.HealthCheckInterval > 0 {
		go client.healthCheckLoop()
	}
	return client, nil
}

// Close stops the health check loop and destroys every pooled
// connection. In-flight acquires fail once their pool is closed.
func (c *PooledClient) Close() {
	if c.config.HealthCheckInterval > 0 {
		close(c.stopHealthCheck)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sp := range c.pools {
		sp.pool.Close()
	}
}

// Stats returns a snapshot of the operation counters.
func (c *PooledClient) Stats() ClientStats {
	return c.stats.snapshot()
}

// ServerPoolStats contains pool statistics for a single server.
type ServerPoolStats struct {
	Addr         string
	PoolStats    PoolStats
	BreakerState gobreaker.State
}

// PoolStats returns statistics for every pool created so far.
func (c *PooledClient) PoolStats() []ServerPoolStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make([]ServerPoolStats, 0, len(c.pools))
	for _, sp := range c.pools {
		s := ServerPoolStats{
			Addr:      sp.spec.String(),
			PoolStats: sp.poolStats(),
		}
		if sp.breaker != nil {
			s.BreakerState = sp.breaker.State()
		}
		stats = append(stats, s)
	}
	return stats
}

func (sp *serverPool) poolStats() PoolStats {
	s := sp.pool.Stat()
	return PoolStats{
		TotalConns:        s.TotalResources(),
		IdleConns:         s.IdleResources(),
		ActiveConns:       s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()),
		CreatedConns:      uint64(sp.createdConns.Load()),
		DestroyedConns:    uint64(sp.destroyedConns.Load()),
		AcquireErrors:     uint64(s.CanceledAcquireCount()),
		AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
	}
}

// getOrCreatePool returns the pool for server index i, creating it on
// first use.
func (c *PooledClient) getOrCreatePool(i int) (*serverPool, error) {
	c.mu.RLock()
	sp, exists := c.pools[i]
	c.mu.RUnlock()
	if exists {
		return sp, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if sp, exists := c.pools[i]; exists {
		return sp, nil
	}
	if i < 0 || i >= len(c.specs) {
		return nil, ErrNoServers
	}
	spec := c.specs[i]

	sp = &serverPool{spec: spec}
	pool, err := puddle.NewPool(&puddle.Config[*Conn]{
		Constructor: func(ctx context.Context) (*Conn, error) {
			conn, err := c.config.dial(ctx, spec)
			if err == nil {
				sp.createdConns.Add(1)
			}
			return conn, err
		},
		Destructor: func(conn *Conn) {
			sp.destroyedConns.Add(1)
			_ = conn.Close()
		},
		MaxSize: c.config.MaxSize,
	})
	if err != nil {
		return nil, err
	}
	sp.pool = pool
	if c.config.NewCircuitBreaker != nil {
		sp.breaker = c.config.NewCircuitBreaker(spec.String())
	}
	c.pools[i] = sp
	return sp, nil
}

// withConn runs fn with a connection to the server owning key. A
// connection poisoned by an I/O or protocol error is destroyed instead
// of returned to the pool.
func (c *PooledClient) withConn(ctx context.Context, key string, fn func(*Conn) error) error {
	i, err := c.selector.Pick(key)
	if err != nil {
		c.stats.recordError()
		return err
	}
	return c.withServerConn(ctx, i, fn)
}

// withConnForKeys runs fn with a connection to the single server
// owning all keys.
func (c *PooledClient) withConnForKeys(ctx context.Context, keys []string, fn func(*Conn) error) error {
	if len(keys) == 0 {
		c.stats.recordError()
		return ErrNoServers
	}

	first, err := c.selector.Pick(keys[0])
	if err != nil {
		c.stats.recordError()
		return err
	}
	for _, key := range keys[1:] {
		i, err := c.selector.Pick(key)
		if err != nil {
			c.stats.recordError()
			return err
		}
		if i != first {
			c.stats.recordError()
			return ErrMultiServerKeys
		}
	}
	return c.withServerConn(ctx, first, fn)
}

func (c *PooledClient) withServerConn(ctx context.Context, i int, fn func(*Conn) error) error {
	sp, err := c.getOrCreatePool(i)
	if err != nil {
		c.stats.recordError()
		return err
	}

	exec := func() error { return c.execDirect(ctx, sp.pool, fn) }
	if sp.breaker != nil {
		_, err = sp.breaker.Execute(func() (bool, error) {
			return true, exec()
		})
	} else {
		err = exec()
	}

	if err != nil {
		var se *binproto.ServerError
		if errors.As(err, &se) {
			c.stats.recordServerErr()
		} else {
			c.stats.recordError()
		}
	}
	return err
}

func (c *PooledClient) execDirect(ctx context.Context, pool *puddle.Pool[*Conn], fn func(*Conn) error) error {
	resource, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}

	conn := resource.Value()
	err = fn(conn)

	if conn.IsClosed() {
		resource.Destroy()
	} else {
		resource.Release()
	}
	return err
}

// healthCheckLoop periodically retires idle connections that exceeded
// their lifetime limits or fail a Noop probe.
func (c *PooledClient) healthCheckLoop() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHealthCheck:
			return
		case <-ticker.C:
			c.checkAllPools()
		}
	}
}

func (c *PooledClient) checkAllPools() {
	c.mu.RLock()
	pools := make([]*serverPool, 0, len(c.pools))
	for _, sp := range c.pools {
		pools = append(pools, sp)
	}
	c.mu.RUnlock()

	for _, sp := range pools {
		c.checkPoolConnections(sp)
	}
}

func (c *PooledClient) checkPoolConnections(sp *serverPool) {
	now := time.Now()

	for _, res := range sp.pool.AcquireAllIdle() {
		conn := res.Value()

		if c.config.MaxConnLifetime > 0 && now.Sub(res.CreationTime()) > c.config.MaxConnLifetime {
			c.logger.Debug("retiring connection past max lifetime", zap.Stringer("server", sp.spec))
			res.Destroy()
			continue
		}
		if c.config.MaxConnIdleTime > 0 && now.Sub(conn.LastUsed()) > c.config.MaxConnIdleTime {
			c.logger.Debug("retiring idle connection", zap.Stringer("server", sp.spec))
			res.Destroy()
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := conn.Noop(ctx)
		cancel()
		if err != nil {
			c.logger.Debug("retiring unhealthy connection", zap.Stringer("server", sp.spec), zap.Error(err))
			res.Destroy()
			continue
		}

		res.ReleaseUnused()
	}
}

// Get retrieves the item stored under key.
func (c *PooledClient) Get(ctx context.Context, key string) (Item, error) {
	var item Item
	err := c.withConn(ctx, key, func(conn *Conn) error {
		var err error
		item, err = conn.Get(ctx, key)
		return err
	})
	if binproto.IsStatus(err, binproto.StatusKeyNotFound) {
		c.stats.recordGet(false)
		return Item{}, err
	}
	if err != nil {
		return Item{}, err
	}
	c.stats.recordGet(true)
	return item, nil
}

// GetKey retrieves the item under key, echoing the key as stored.
func (c *PooledClient) GetKey(ctx context.Context, key string) (Item, error) {
	var item Item
	err := c.withConn(ctx, key, func(conn *Conn) error {
		var err error
		item, err = conn.GetKey(ctx, key)
		return err
	})
	if binproto.IsStatus(err, binproto.StatusKeyNotFound) {
		c.stats.recordGet(false)
		return Item{}, err
	}
	if err != nil {
		return Item{}, err
	}
	c.stats.recordGet(true)
	return item, nil
}

// GetAndTouch retrieves the item under key and updates its expiration.
func (c *PooledClient) GetAndTouch(ctx context.Context, key string, expiration uint32) (Item, error) {
	var item Item
	err := c.withConn(ctx, key, func(conn *Conn) error {
		var err error
		item, err = conn.GetAndTouch(ctx, key, expiration)
		return err
	})
	if binproto.IsStatus(err, binproto.StatusKeyNotFound) {
		c.stats.recordGet(false)
		return Item{}, err
	}
	if err != nil {
		return Item{}, err
	}
	c.stats.recordGet(true)
	return item, nil
}

// Set unconditionally stores value under key.
func (c *PooledClient) Set(ctx context.Context, key string, value []byte, flags, expiration uint32) error {
	err := c.withConn(ctx, key, func(conn *Conn) error {
		return conn.Set(ctx, key, value, flags, expiration)
	})
	if err == nil {
		c.stats.recordSet()
	}
	return err
}

// SetCAS stores value under key if the CAS token still matches and
// returns the new token.
func (c *PooledClient) SetCAS(ctx context.Context, key string, value []byte, flags, expiration uint32, cas uint64) (uint64, error) {
	var newCAS uint64
	err := c.withConn(ctx, key, func(conn *Conn) error {
		var err error
		newCAS, err = conn.SetCAS(ctx, key, value, flags, expiration, cas)
		return err
	})
	if err == nil {
		c.stats.recordSet()
	}
	return newCAS, err
}

// Add stores value under key only if the key does not exist.
func (c *PooledClient) Add(ctx context.Context, key string, value []byte, flags, expiration uint32) error {
	err := c.withConn(ctx, key, func(conn *Conn) error {
		return conn.Add(ctx, key, value, flags, expiration)
	})
	if err == nil {
		c.stats.recordAdd()
	}
	return err
}

// Replace stores value under key only if the key already exists.
func (c *PooledClient) Replace(ctx context.Context, key string, value []byte, flags, expiration uint32) error {
	err := c.withConn(ctx, key, func(conn *Conn) error {
		return conn.Replace(ctx, key, value, flags, expiration)
	})
	if err == nil {
		c.stats.recordReplace()
	}
	return err
}

// Append appends value to the existing item under key.
func (c *PooledClient) Append(ctx context.Context, key string, value []byte) error {
	err := c.withConn(ctx, key, func(conn *Conn) error {
		return conn.Append(ctx, key, value)
	})
	if err == nil {
		c.stats.recordAppend()
	}
	return err
}

// Prepend prepends value to the existing item under key.
func (c *PooledClient) Prepend(ctx context.Context, key string, value []byte) error {
	err := c.withConn(ctx, key, func(conn *Conn) error {
		return conn.Prepend(ctx, key, value)
	})
	if err == nil {
		c.stats.recordAppend()
	}
	return err
}

// Delete removes the item under key.
func (c *PooledClient) Delete(ctx context.Context, key string) error {
	err := c.withConn(ctx, key, func(conn *Conn) error {
		return conn.Delete(ctx, key)
	})
	if err == nil {
		c.stats.recordDelete()
	}
	return err
}

// Increment adds delta to the counter under key.
func (c *PooledClient) Increment(ctx context.Context, key string, delta, initial uint64, expiration uint32) (uint64, error) {
	var value uint64
	err := c.withConn(ctx, key, func(conn *Conn) error {
		var err error
		value, err = conn.Increment(ctx, key, delta, initial, expiration)
		return err
	})
	if err == nil {
		c.stats.recordCounter()
	}
	return value, err
}

// Decrement subtracts delta from the counter under key.
func (c *PooledClient) Decrement(ctx context.Context, key string, delta, initial uint64, expiration uint32) (uint64, error) {
	var value uint64
	err := c.withConn(ctx, key, func(conn *Conn) error {
		var err error
		value, err = conn.Decrement(ctx, key, delta, initial, expiration)
		return err
	})
	if err == nil {
		c.stats.recordCounter()
	}
	return value, err
}

// Touch updates the expiration of the item under key.
func (c *PooledClient) Touch(ctx context.Context, key string, expiration uint32) error {
	err := c.withConn(ctx, key, func(conn *Conn) error {
		return conn.Touch(ctx, key, expiration)
	})
	if err == nil {
		c.stats.recordTouch()
	}
	return err
}

// GetMulti retrieves several keys in one pipelined exchange. All keys
// must route to the same server.
func (c *PooledClient) GetMulti(ctx context.Context, keys []string) (map[string]Item, error) {
	var items map[string]Item
	err := c.withConnForKeys(ctx, keys, func(conn *Conn) error {
		var err error
		items, err = conn.GetMulti(ctx, keys)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		_, hit := items[key]
		c.stats.recordGet(hit)
	}
	return items, nil
}

// SetMulti stores several entries in one pipelined exchange. All keys
// must route to the same server.
func (c *PooledClient) SetMulti(ctx context.Context, entries []Entry) error {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	err := c.withConnForKeys(ctx, keys, func(conn *Conn) error {
		return conn.SetMulti(ctx, entries)
	})
	if err == nil {
		for range entries {
			c.stats.recordSet()
		}
	}
	return err
}

// DeleteMulti removes several keys in one pipelined exchange. All keys
// must route to the same server.
func (c *PooledClient) DeleteMulti(ctx context.Context, keys []string) error {
	err := c.withConnForKeys(ctx, keys, func(conn *Conn) error {
		return conn.DeleteMulti(ctx, keys)
	})
	if err == nil {
		for range keys {
			c.stats.recordDelete()
		}
	}
	return err
}

// IncrementMulti applies several counter adjustments in one pipelined
// exchange. All keys must route to the same server.
func (c *PooledClient) IncrementMulti(ctx context.Context, counters []Counter) (map[string]uint64, error) {
	var values map[string]uint64
	err := c.withConnForKeys(ctx, keysOfCounters(counters), func(conn *Conn) error {
		var err error
		values, err = conn.IncrementMulti(ctx, counters)
		return err
	})
	if err == nil {
		for range counters {
			c.stats.recordCounter()
		}
	}
	return values, err
}

func keysOfCounters(counters []Counter) []string {
	keys := make([]string, len(counters))
	for i, ctr := range counters {
		keys[i] = ctr.Key
	}
	return keys
}

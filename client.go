package binmc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultConnectTimeout is used when Config.ConnectTimeout is zero.
const DefaultConnectTimeout = 5 * time.Second

// Config holds configuration for Client and PooledClient.
type Config struct {
	// ConnectTimeout bounds the dial of each server connection.
	// Zero means DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// Selector picks the server for a key. If nil, a RingSelector over
	// the server list with Replicas virtual nodes per weight is used.
	Selector Selector

	// Replicas is the virtual node count per unit of weight for the
	// default ring selector. Zero means DefaultRingReplicas.
	Replicas int

	// Username and Password enable SASL PLAIN authentication on every
	// new connection when Username is non-empty.
	Username string
	Password string

	// Logger receives debug-level protocol events. Nil means no-op.
	Logger *zap.Logger
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return c.ConnectTimeout
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c Config) selector(specs []ServerSpec) Selector {
	if c.Selector != nil {
		return c.Selector
	}
	return NewRingSelector(specs, c.Replicas)
}

// dialServer establishes and authenticates one connection.
func dialServer(ctx context.Context, spec ServerSpec, config Config) (*Conn, error) {
	netConn, err := spec.dial(config.connectTimeout())
	if err != nil {
		return nil, err
	}
	if tc, ok := netConn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	conn := NewConn(netConn, WithLogger(config.logger()))
	if config.Username != "" {
		if err := conn.AuthPlain(ctx, config.Username, config.Password); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("server %s: %w", spec, err)
		}
	}
	return conn, nil
}

// Client routes operations across a fixed set of servers, one
// connection per server. Keys are assigned to servers by the
// configured Selector.
//
// Like Conn, a Client is not safe for concurrent use; it multiplexes
// single-stream connections. Use PooledClient for concurrent callers.
type Client struct {
	specs    []ServerSpec
	conns    []*Conn
	selector Selector
	logger   *zap.Logger
}

// NewClient connects to every server in specs. If any dial or
// authentication fails, already-opened connections are closed and the
// error is returned.
func NewClient(ctx context.Context, specs []ServerSpec, config Config) (*Client, error) {
	if len(specs) == 0 {
		return nil, ErrNoServers
	}

	logger := config.logger()
	conns := make([]*Conn, 0, len(specs))
	for _, spec := range specs {
		conn, err := dialServer(ctx, spec, config)
		if err != nil {
			for _, opened := range conns {
				_ = opened.Close()
			}
			return nil, err
		}
		logger.Debug("connected", zap.Stringer("server", spec))
		conns = append(conns, conn)
	}

	return &Client{
		specs:    specs,
		conns:    conns,
		selector: config.selector(specs),
		logger:   logger,
	}, nil
}

// Close sends Quit on every connection and closes them. Errors from
// individual servers are combined.
func (c *Client) Close() error {
	var errs error
	for _, conn := range c.conns {
		if conn.IsClosed() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := conn.Quit(ctx)
		cancel()
		if err != nil {
			errs = multierr.Append(errs, multierr.Append(err, conn.Close()))
		}
	}
	return errs
}

// pickConn returns the connection owning key.
func (c *Client) pickConn(key string) (*Conn, error) {
	i, err := c.selector.Pick(key)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(c.conns) {
		return nil, ErrNoServers
	}
	return c.conns[i], nil
}

// connForKeys returns the single connection owning all keys, or
// ErrMultiServerKeys when the keys span servers. Pipelined batches
// ride one connection.
func (c *Client) connForKeys(keys []string) (*Conn, error) {
	if len(keys) == 0 {
		return nil, ErrNoServers
	}

	first, err := c.selector.Pick(keys[0])
	if err != nil {
		return nil, err
	}
	for _, key := range keys[1:] {
		i, err := c.selector.Pick(key)
		if err != nil {
			return nil, err
		}
		if i != first {
			return nil, ErrMultiServerKeys
		}
	}
	if first < 0 || first >= len(c.conns) {
		return nil, ErrNoServers
	}
	return c.conns[first], nil
}

// Get retrieves the item stored under key.
func (c *Client) Get(ctx context.Context, key string) (Item, error) {
	conn, err := c.pickConn(key)
	if err != nil {
		return Item{}, err
	}
	return conn.Get(ctx, key)
}

// GetKey retrieves the item under key, echoing the key as stored.
func (c *Client) GetKey(ctx context.Context, key string) (Item, error) {
	conn, err := c.pickConn(key)
	if err != nil {
		return Item{}, err
	}
	return conn.GetKey(ctx, key)
}

// GetAndTouch retrieves the item under key and updates its expiration.
func (c *Client) GetAndTouch(ctx context.Context, key string, expiration uint32) (Item, error) {
	conn, err := c.pickConn(key)
	if err != nil {
		return Item{}, err
	}
	return conn.GetAndTouch(ctx, key, expiration)
}

// Set unconditionally stores value under key.
func (c *Client) Set(ctx context.Context, key string, value []byte, flags, expiration uint32) error {
	conn, err := c.pickConn(key)
	if err != nil {
		return err
	}
	return conn.Set(ctx, key, value, flags, expiration)
}

// SetCAS stores value under key if the CAS token still matches and
// returns the new token.
func (c *Client) SetCAS(ctx context.Context, key string, value []byte, flags, expiration uint32, cas uint64) (uint64, error) {
	conn, err := c.pickConn(key)
	if err != nil {
		return 0, err
	}
	return conn.SetCAS(ctx, key, value, flags, expiration, cas)
}

// Add stores value under key only if the key does not exist.
func (c *Client) Add(ctx context.Context, key string, value []byte, flags, expiration uint32) error {
	conn, err := c.pickConn(key)
	if err != nil {
		return err
	}
	return conn.Add(ctx, key, value, flags, expiration)
}

// Replace stores value under key only if the key already exists.
func (c *Client) Replace(ctx context.Context, key string, value []byte, flags, expiration uint32) error {
	conn, err := c.pickConn(key)
	if err != nil {
		return err
	}
	return conn.Replace(ctx, key, value, flags, expiration)
}

// Append appends value to the existing item under key.
func (c *Client) Append(ctx context.Context, key string, value []byte) error {
	conn, err := c.pickConn(key)
	if err != nil {
		return err
	}
	return conn.Append(ctx, key, value)
}

// Prepend prepends value to the existing item under key.
func (c *Client) Prepend(ctx context.Context, key string, value []byte) error {
	conn, err := c.pickConn(key)
	if err != nil {
		return err
	}
	return conn.Prepend(ctx, key, value)
}

// Delete removes the item under key.
func (c *Client) Delete(ctx context.Context, key string) error {
	conn, err := c.pickConn(key)
	if err != nil {
		return err
	}
	return conn.Delete(ctx, key)
}

// DeleteCAS removes the item under key if the CAS token still matches.
func (c *Client) DeleteCAS(ctx context.Context, key string, cas uint64) error {
	conn, err := c.pickConn(key)
	if err != nil {
		return err
	}
	return conn.DeleteCAS(ctx, key, cas)
}

// Increment adds delta to the counter under key.
func (c *Client) Increment(ctx context.Context, key string, delta, initial uint64, expiration uint32) (uint64, error) {
	conn, err := c.pickConn(key)
	if err != nil {
		return 0, err
	}
	return conn.Increment(ctx, key, delta, initial, expiration)
}

// Decrement subtracts delta from the counter under key.
func (c *Client) Decrement(ctx context.Context, key string, delta, initial uint64, expiration uint32) (uint64, error) {
	conn, err := c.pickConn(key)
	if err != nil {
		return 0, err
	}
	return conn.Decrement(ctx, key, delta, initial, expiration)
}

// Touch updates the expiration of the item under key.
func (c *Client) Touch(ctx context.Context, key string, expiration uint32) error {
	conn, err := c.pickConn(key)
	if err != nil {
		return err
	}
	return conn.Touch(ctx, key, expiration)
}

// GetMulti retrieves several keys in one pipelined exchange. All keys
// must route to the same server.
func (c *Client) GetMulti(ctx context.Context, keys []string) (map[string]Item, error) {
	conn, err := c.connForKeys(keys)
	if err != nil {
		return nil, err
	}
	return conn.GetMulti(ctx, keys)
}

// SetMulti stores several entries in one pipelined exchange. All keys
// must route to the same server.
func (c *Client) SetMulti(ctx context.Context, entries []Entry) error {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	conn, err := c.connForKeys(keys)
	if err != nil {
		return err
	}
	return conn.SetMulti(ctx, entries)
}

// DeleteMulti removes several keys in one pipelined exchange. All keys
// must route to the same server.
func (c *Client) DeleteMulti(ctx context.Context, keys []string) error {
	conn, err := c.connForKeys(keys)
	if err != nil {
		return err
	}
	return conn.DeleteMulti(ctx, keys)
}

// IncrementMulti applies several counter adjustments in one pipelined
// exchange. All keys must route to the same server.
func (c *Client) IncrementMulti(ctx context.Context, counters []Counter) (map[string]uint64, error) {
	keys := make([]string, len(counters))
	for i, ctr := range counters {
		keys[i] = ctr.Key
	}
	conn, err := c.connForKeys(keys)
	if err != nil {
		return nil, err
	}
	return conn.IncrementMulti(ctx, counters)
}

// Flush invalidates all items on every server after the given delay.
// Per-server failures are combined.
func (c *Client) Flush(ctx context.Context, delay uint32) error {
	var errs error
	for i, conn := range c.conns {
		if err := conn.Flush(ctx, delay); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("server %s: %w", c.specs[i], err))
		}
	}
	return errs
}

// Versions returns the version of every server, keyed by server
// address.
func (c *Client) Versions(ctx context.Context) (map[string]*semver.Version, error) {
	versions := make(map[string]*semver.Version, len(c.conns))
	for i, conn := range c.conns {
		version, err := conn.Version(ctx)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", c.specs[i], err)
		}
		versions[c.specs[i].String()] = version
	}
	return versions, nil
}

// Stats returns the statistics report of every server, keyed by
// server address.
func (c *Client) Stats(ctx context.Context, group string) (map[string]map[string]string, error) {
	stats := make(map[string]map[string]string, len(c.conns))
	for i, conn := range c.conns {
		report, err := conn.Stats(ctx, group)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", c.specs[i], err)
		}
		stats[c.specs[i].String()] = report
	}
	return stats, nil
}

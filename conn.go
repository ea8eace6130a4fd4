package binmc

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"math/rand"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/binmc/binmc/binproto"
	"github.com/binmc/binmc/internal/coarsetime"
)

// maxStaleResponses bounds how many responses with a foreign opaque the
// driver discards while waiting for a reply before declaring the stream
// desynchronized.
const maxStaleResponses = 1024

// requestBuffers holds scratch buffers for serializing outgoing
// packets. Pipelined batches are assembled into a single buffer so the
// whole batch goes out in one write.
var requestBuffers = newByteBufferPool(512)

// Item is a cached value together with the metadata the server stores
// alongside it.
type Item struct {
	Key   string
	Value []byte
	Flags uint32
	CAS   uint64
}

// Conn is a single-connection protocol driver. It exposes every
// command of the binary protocol over one transport stream.
//
// A Conn is not safe for concurrent use: the protocol correlates
// requests and responses by order and opaque on a single stream, so
// interleaved callers would corrupt each other's replies. Use
// PooledClient for concurrent access.
type Conn struct {
	rwc     io.ReadWriteCloser
	netConn net.Conn // nil when rwc is not a net.Conn
	reader  *bufio.Reader
	logger  *zap.Logger

	lastUsed time.Time
	closed   bool
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithLogger sets the logger used for debug-level protocol events.
// The default is a no-op logger.
func WithLogger(logger *zap.Logger) ConnOption {
	return func(c *Conn) {
		c.logger = logger
	}
}

// NewConn wraps an established transport stream. The stream is usually
// a net.Conn; when it is, context deadlines on operations are applied
// as connection deadlines.
func NewConn(rwc io.ReadWriteCloser, opts ...ConnOption) *Conn {
	c := &Conn{
		rwc:      rwc,
		reader:   bufio.NewReader(rwc),
		logger:   zap.NewNop(),
		lastUsed: coarsetime.Now(),
	}
	if nc, ok := rwc.(net.Conn); ok {
		c.netConn = nc
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsClosed reports whether the connection was closed, explicitly or
// after an I/O or protocol error.
func (c *Conn) IsClosed() bool {
	return c.closed
}

// LastUsed returns when the connection last completed an operation.
func (c *Conn) LastUsed() time.Time {
	return c.lastUsed
}

// Close closes the underlying stream. Safe to call more than once.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rwc.Close()
}

// prepare validates connection state and applies the context deadline
// to the transport. Called at the start of every operation.
func (c *Conn) prepare(ctx context.Context) error {
	if c.closed {
		return ErrConnClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.netConn != nil {
		if deadline, ok := ctx.Deadline(); ok {
			_ = c.netConn.SetDeadline(deadline)
		} else {
			_ = c.netConn.SetDeadline(time.Time{})
		}
	}
	return nil
}

// send serializes the requests into one buffer and writes it in a
// single call, so pipelined batches hit the wire as one segment.
// A write error poisons the connection.
func (c *Conn) send(reqs ...*binproto.Request) error {
	buf := requestBuffers.Get()
	defer requestBuffers.Put(buf)

	for _, req := range reqs {
		if err := req.WriteTo(buf); err != nil {
			return err
		}
	}

	if _, err := c.rwc.Write(buf.Bytes()); err != nil {
		c.closed = true
		return err
	}
	return nil
}

// readResponse reads one response packet. An I/O or decode error
// leaves the stream in an unknown position and poisons the connection.
func (c *Conn) readResponse() (*binproto.Response, error) {
	resp, err := binproto.ReadResponse(c.reader)
	if err != nil {
		c.closed = true
		return nil, err
	}
	return resp, nil
}

// readMatching reads responses until one carries the given opaque.
// Responses with a foreign opaque are leftovers from earlier noreply
// errors or aborted batches; they are logged and discarded, up to
// maxStaleResponses. An I/O or decode error, or blowing the drain
// bound, poisons the connection.
func (c *Conn) readMatching(opaque uint32) (*binproto.Response, error) {
	for drained := 0; ; drained++ {
		resp, err := c.readResponse()
		if err != nil {
			return nil, err
		}
		if resp.Header.Opaque == opaque {
			return resp, nil
		}

		c.logger.Debug("discarding stale response",
			zap.Stringer("opcode", resp.Header.Opcode),
			zap.Stringer("status", resp.Header.Status),
			zap.Uint32("opaque", resp.Header.Opaque),
			zap.Uint32("want", opaque))

		if drained >= maxStaleResponses {
			c.closed = true
			return nil, ErrOpaqueDrainExceeded
		}
	}
}

// roundTrip performs a single request-response exchange.
func (c *Conn) roundTrip(ctx context.Context, op binproto.Opcode, cas uint64, extras, key, value []byte) (*binproto.Response, error) {
	if err := c.prepare(ctx); err != nil {
		return nil, err
	}

	opaque := rand.Uint32()
	req, err := binproto.NewRequest(op, 0, opaque, cas, extras, key, value)
	if err != nil {
		return nil, err
	}
	if err := c.send(req); err != nil {
		return nil, err
	}

	resp, err := c.readMatching(opaque)
	if err != nil {
		return nil, err
	}

	c.lastUsed = coarsetime.Now()
	return resp, nil
}

// writeOnly sends a request without waiting for a response. Used by
// the noreply variants: the server only replies to quiet opcodes on
// error, and those replies are discarded by the next readMatching.
func (c *Conn) writeOnly(ctx context.Context, op binproto.Opcode, cas uint64, extras, key, value []byte) error {
	if err := c.prepare(ctx); err != nil {
		return err
	}

	req, err := binproto.NewRequest(op, 0, rand.Uint32(), cas, extras, key, value)
	if err != nil {
		return err
	}
	if err := c.send(req); err != nil {
		return err
	}

	c.lastUsed = coarsetime.Now()
	return nil
}

// statusErr converts a non-success response into a ServerError.
func statusErr(resp *binproto.Response) error {
	if resp.Header.Status == binproto.StatusNoError {
		return nil
	}
	return binproto.NewServerError(resp.Header.Status, resp.Value)
}

// Extras layouts. Store operations carry flags and expiration, counter
// operations carry delta, initial value and expiration, and the
// expiration-only layout serves touch, get-and-touch and flush.

func storeExtras(flags, expiration uint32) []byte {
	extras := make([]byte, 8)
	binary.BigEndian.PutUint32(extras[0:4], flags)
	binary.BigEndian.PutUint32(extras[4:8], expiration)
	return extras
}

func counterExtras(delta, initial uint64, expiration uint32) []byte {
	extras := make([]byte, 20)
	binary.BigEndian.PutUint64(extras[0:8], delta)
	binary.BigEndian.PutUint64(extras[8:16], initial)
	binary.BigEndian.PutUint32(extras[16:20], expiration)
	return extras
}

func expirationExtras(expiration uint32) []byte {
	extras := make([]byte, 4)
	binary.BigEndian.PutUint32(extras, expiration)
	return extras
}

// itemFromResponse builds an Item from a retrieval response. The
// extras of a retrieval reply are exactly the 4 flag bytes.
func itemFromResponse(key string, resp *binproto.Response) (Item, error) {
	if len(resp.Extras) != 4 {
		return Item{}, ErrMalformedResponse
	}
	if len(resp.Key) > 0 {
		key = string(resp.Key)
	}
	return Item{
		Key:   key,
		Value: resp.Value,
		Flags: binary.BigEndian.Uint32(resp.Extras),
		CAS:   resp.Header.CAS,
	}, nil
}

// counterFromResponse extracts the post-operation counter value.
func counterFromResponse(resp *binproto.Response) (uint64, error) {
	if len(resp.Value) != 8 {
		return 0, ErrMalformedResponse
	}
	return binary.BigEndian.Uint64(resp.Value), nil
}

// Get retrieves the item stored under key. A missing key surfaces as a
// ServerError with StatusKeyNotFound; use binproto.IsStatus to test
// for it.
func (c *Conn) Get(ctx context.Context, key string) (Item, error) {
	resp, err := c.roundTrip(ctx, binproto.OpcodeGet, 0, nil, []byte(key), nil)
	if err != nil {
		return Item{}, err
	}
	if err := statusErr(resp); err != nil {
		return Item{}, err
	}
	return itemFromResponse(key, resp)
}

// GetKey retrieves the item under key and echoes the key as the server
// stores it. Useful when the caller hashed or truncated the key and
// wants the canonical form back.
func (c *Conn) GetKey(ctx context.Context, key string) (Item, error) {
	resp, err := c.roundTrip(ctx, binproto.OpcodeGetKey, 0, nil, []byte(key), nil)
	if err != nil {
		return Item{}, err
	}
	if err := statusErr(resp); err != nil {
		return Item{}, err
	}
	return itemFromResponse(key, resp)
}

// Set unconditionally stores value under key. Expiration is in seconds
// (or a unix timestamp when beyond thirty days); zero means no expiry.
func (c *Conn) Set(ctx context.Context, key string, value []byte, flags, expiration uint32) error {
	return c.store(ctx, binproto.OpcodeSet, key, value, flags, expiration, 0)
}

// Add stores value under key only if the key does not exist. An
// existing key surfaces as StatusKeyExists.
func (c *Conn) Add(ctx context.Context, key string, value []byte, flags, expiration uint32) error {
	return c.store(ctx, binproto.OpcodeAdd, key, value, flags, expiration, 0)
}

// Replace stores value under key only if the key already exists. A
// missing key surfaces as StatusKeyNotFound.
func (c *Conn) Replace(ctx context.Context, key string, value []byte, flags, expiration uint32) error {
	return c.store(ctx, binproto.OpcodeReplace, key, value, flags, expiration, 0)
}

func (c *Conn) store(ctx context.Context, op binproto.Opcode, key string, value []byte, flags, expiration uint32, cas uint64) error {
	resp, err := c.roundTrip(ctx, op, cas, storeExtras(flags, expiration), []byte(key), value)
	if err != nil {
		return err
	}
	return statusErr(resp)
}

// Delete removes the item stored under key.
func (c *Conn) Delete(ctx context.Context, key string) error {
	resp, err := c.roundTrip(ctx, binproto.OpcodeDelete, 0, nil, []byte(key), nil)
	if err != nil {
		return err
	}
	return statusErr(resp)
}

// Increment adds delta to the numeric value stored under key and
// returns the new value. If the key does not exist it is created with
// the initial value. Expiration 0xffffffff disables creation and makes
// a missing key surface as StatusKeyNotFound.
func (c *Conn) Increment(ctx context.Context, key string, delta, initial uint64, expiration uint32) (uint64, error) {
	return c.counter(ctx, binproto.OpcodeIncrement, key, delta, initial, expiration)
}

// Decrement subtracts delta from the numeric value stored under key
// and returns the new value, saturating at zero. Creation semantics
// match Increment.
func (c *Conn) Decrement(ctx context.Context, key string, delta, initial uint64, expiration uint32) (uint64, error) {
	return c.counter(ctx, binproto.OpcodeDecrement, key, delta, initial, expiration)
}

func (c *Conn) counter(ctx context.Context, op binproto.Opcode, key string, delta, initial uint64, expiration uint32) (uint64, error) {
	resp, err := c.roundTrip(ctx, op, 0, counterExtras(delta, initial, expiration), []byte(key), nil)
	if err != nil {
		return 0, err
	}
	if err := statusErr(resp); err != nil {
		return 0, err
	}
	return counterFromResponse(resp)
}

// Append appends value to the existing item stored under key.
func (c *Conn) Append(ctx context.Context, key string, value []byte) error {
	return c.concat(ctx, binproto.OpcodeAppend, key, value, 0)
}

// Prepend prepends value to the existing item stored under key.
func (c *Conn) Prepend(ctx context.Context, key string, value []byte) error {
	return c.concat(ctx, binproto.OpcodePrepend, key, value, 0)
}

func (c *Conn) concat(ctx context.Context, op binproto.Opcode, key string, value []byte, cas uint64) error {
	resp, err := c.roundTrip(ctx, op, cas, nil, []byte(key), value)
	if err != nil {
		return err
	}
	return statusErr(resp)
}

// Touch updates the expiration of the item stored under key without
// retrieving it.
func (c *Conn) Touch(ctx context.Context, key string, expiration uint32) error {
	resp, err := c.roundTrip(ctx, binproto.OpcodeTouch, 0, expirationExtras(expiration), []byte(key), nil)
	if err != nil {
		return err
	}
	return statusErr(resp)
}

// GetAndTouch retrieves the item stored under key and updates its
// expiration in the same operation.
func (c *Conn) GetAndTouch(ctx context.Context, key string, expiration uint32) (Item, error) {
	resp, err := c.roundTrip(ctx, binproto.OpcodeGetAndTouch, 0, expirationExtras(expiration), []byte(key), nil)
	if err != nil {
		return Item{}, err
	}
	if err := statusErr(resp); err != nil {
		return Item{}, err
	}
	return itemFromResponse(key, resp)
}

package binmc

import (
	"context"

	"github.com/binmc/binmc/binproto"
)

// Noreply variants. Each sends the quiet form of its opcode and
// returns as soon as the request is written: the server stays silent
// on success and replies only on error. Those error replies carry the
// quiet request's opaque and are discarded by the drain loop of the
// next regular operation, so failures are silent. Use the regular
// variants when the outcome matters.

// SetNoReply stores value under key without waiting for the outcome.
func (c *Conn) SetNoReply(ctx context.Context, key string, value []byte, flags, expiration uint32) error {
	return c.writeOnly(ctx, binproto.OpcodeSetQuietly, 0, storeExtras(flags, expiration), []byte(key), value)
}

// AddNoReply stores value under a nonexistent key without waiting for
// the outcome.
func (c *Conn) AddNoReply(ctx context.Context, key string, value []byte, flags, expiration uint32) error {
	return c.writeOnly(ctx, binproto.OpcodeAddQuietly, 0, storeExtras(flags, expiration), []byte(key), value)
}

// ReplaceNoReply replaces the item under an existing key without
// waiting for the outcome.
func (c *Conn) ReplaceNoReply(ctx context.Context, key string, value []byte, flags, expiration uint32) error {
	return c.writeOnly(ctx, binproto.OpcodeReplaceQuietly, 0, storeExtras(flags, expiration), []byte(key), value)
}

// SetCASNoReply stores value under key with a CAS guard without
// waiting for the outcome.
func (c *Conn) SetCASNoReply(ctx context.Context, key string, value []byte, flags, expiration uint32, cas uint64) error {
	return c.writeOnly(ctx, binproto.OpcodeSetQuietly, cas, storeExtras(flags, expiration), []byte(key), value)
}

// DeleteNoReply removes the item under key without waiting for the
// outcome.
func (c *Conn) DeleteNoReply(ctx context.Context, key string) error {
	return c.writeOnly(ctx, binproto.OpcodeDeleteQuietly, 0, nil, []byte(key), nil)
}

// IncrementNoReply adjusts the counter under key without returning the
// new value.
func (c *Conn) IncrementNoReply(ctx context.Context, key string, delta, initial uint64, expiration uint32) error {
	return c.writeOnly(ctx, binproto.OpcodeIncrementQuietly, 0, counterExtras(delta, initial, expiration), []byte(key), nil)
}

// DecrementNoReply adjusts the counter under key without returning the
// new value.
func (c *Conn) DecrementNoReply(ctx context.Context, key string, delta, initial uint64, expiration uint32) error {
	return c.writeOnly(ctx, binproto.OpcodeDecrementQuietly, 0, counterExtras(delta, initial, expiration), []byte(key), nil)
}

// AppendNoReply appends value to the item under key without waiting
// for the outcome.
func (c *Conn) AppendNoReply(ctx context.Context, key string, value []byte) error {
	return c.writeOnly(ctx, binproto.OpcodeAppendQuietly, 0, nil, []byte(key), value)
}

// PrependNoReply prepends value to the item under key without waiting
// for the outcome.
func (c *Conn) PrependNoReply(ctx context.Context, key string, value []byte) error {
	return c.writeOnly(ctx, binproto.OpcodePrependQuietly, 0, nil, []byte(key), value)
}

// FlushNoReply invalidates all items after the given delay in seconds
// without waiting for the outcome.
func (c *Conn) FlushNoReply(ctx context.Context, delay uint32) error {
	return c.writeOnly(ctx, binproto.OpcodeFlushQuietly, 0, expirationExtras(delay), nil, nil)
}

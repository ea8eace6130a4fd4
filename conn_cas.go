package binmc

import (
	"context"

	"github.com/binmc/binmc/binproto"
)

// CAS variants. Each takes the CAS token from a previous retrieval and
// succeeds only if the item has not been modified since: a stale token
// surfaces as StatusKeyExists, a vanished item as StatusKeyNotFound.
// The store variants return the item's new CAS token on success.

// SetCAS stores value under key if the CAS token still matches.
func (c *Conn) SetCAS(ctx context.Context, key string, value []byte, flags, expiration uint32, cas uint64) (uint64, error) {
	return c.storeCAS(ctx, binproto.OpcodeSet, key, value, flags, expiration, cas)
}

// ReplaceCAS replaces the item under key if the CAS token still
// matches.
func (c *Conn) ReplaceCAS(ctx context.Context, key string, value []byte, flags, expiration uint32, cas uint64) (uint64, error) {
	return c.storeCAS(ctx, binproto.OpcodeReplace, key, value, flags, expiration, cas)
}

func (c *Conn) storeCAS(ctx context.Context, op binproto.Opcode, key string, value []byte, flags, expiration uint32, cas uint64) (uint64, error) {
	resp, err := c.roundTrip(ctx, op, cas, storeExtras(flags, expiration), []byte(key), value)
	if err != nil {
		return 0, err
	}
	if err := statusErr(resp); err != nil {
		return 0, err
	}
	return resp.Header.CAS, nil
}

// AddCAS stores value under a nonexistent key and returns the new
// item's CAS token, saving the retrieval that a CAS workflow would
// otherwise start with.
func (c *Conn) AddCAS(ctx context.Context, key string, value []byte, flags, expiration uint32) (uint64, error) {
	return c.storeCAS(ctx, binproto.OpcodeAdd, key, value, flags, expiration, 0)
}

// IncrementCAS adds delta to the counter under key if the CAS token
// still matches, returning the new value and the new token.
func (c *Conn) IncrementCAS(ctx context.Context, key string, delta, initial uint64, expiration uint32, cas uint64) (uint64, uint64, error) {
	return c.counterCAS(ctx, binproto.OpcodeIncrement, key, delta, initial, expiration, cas)
}

// DecrementCAS subtracts delta from the counter under key if the CAS
// token still matches, returning the new value and the new token.
func (c *Conn) DecrementCAS(ctx context.Context, key string, delta, initial uint64, expiration uint32, cas uint64) (uint64, uint64, error) {
	return c.counterCAS(ctx, binproto.OpcodeDecrement, key, delta, initial, expiration, cas)
}

func (c *Conn) counterCAS(ctx context.Context, op binproto.Opcode, key string, delta, initial uint64, expiration uint32, cas uint64) (uint64, uint64, error) {
	resp, err := c.roundTrip(ctx, op, cas, counterExtras(delta, initial, expiration), []byte(key), nil)
	if err != nil {
		return 0, 0, err
	}
	if err := statusErr(resp); err != nil {
		return 0, 0, err
	}
	value, err := counterFromResponse(resp)
	if err != nil {
		return 0, 0, err
	}
	return value, resp.Header.CAS, nil
}

// TouchCAS updates the expiration of the item under key if the CAS
// token still matches, returning the new token.
func (c *Conn) TouchCAS(ctx context.Context, key string, expiration uint32, cas uint64) (uint64, error) {
	resp, err := c.roundTrip(ctx, binproto.OpcodeTouch, cas, expirationExtras(expiration), []byte(key), nil)
	if err != nil {
		return 0, err
	}
	if err := statusErr(resp); err != nil {
		return 0, err
	}
	return resp.Header.CAS, nil
}

// AppendCAS appends value to the item under key if the CAS token still
// matches.
func (c *Conn) AppendCAS(ctx context.Context, key string, value []byte, cas uint64) error {
	return c.concat(ctx, binproto.OpcodeAppend, key, value, cas)
}

// PrependCAS prepends value to the item under key if the CAS token
// still matches.
func (c *Conn) PrependCAS(ctx context.Context, key string, value []byte, cas uint64) error {
	return c.concat(ctx, binproto.OpcodePrepend, key, value, cas)
}

// DeleteCAS removes the item under key if the CAS token still matches.
func (c *Conn) DeleteCAS(ctx context.Context, key string, cas uint64) error {
	resp, err := c.roundTrip(ctx, binproto.OpcodeDelete, cas, nil, []byte(key), nil)
	if err != nil {
		return err
	}
	return statusErr(resp)
}

package binmc

import (
	"context"
	"fmt"
	"math/rand"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/binmc/binmc/binproto"
	"github.com/binmc/binmc/internal/coarsetime"
)

// Entry is one item of a batch store operation.
type Entry struct {
	Key        string
	Value      []byte
	Flags      uint32
	Expiration uint32
}

// Counter is one item of a batch arithmetic operation.
type Counter struct {
	Key        string
	Delta      uint64
	Initial    uint64
	Expiration uint32
}

// batchOpaques returns n distinct opaques. Batches correlate replies
// to requests by opaque, so collisions within one batch must not
// happen; across batches the drain loop copes.
func batchOpaques(n int) map[uint32]int {
	opaques := make(map[uint32]int, n)
	for i := 0; i < n; {
		op := rand.Uint32()
		if _, taken := opaques[op]; taken {
			continue
		}
		opaques[op] = i
		i++
	}
	return opaques
}

// GetMulti retrieves several keys in one pipelined exchange. It sends
// a quiet get-with-key per key followed by a Noop sentinel; the server
// stays silent on misses, so the result map contains only the keys
// that were found.
func (c *Conn) GetMulti(ctx context.Context, keys []string) (map[string]Item, error) {
	if len(keys) == 0 {
		return map[string]Item{}, nil
	}
	if err := c.prepare(ctx); err != nil {
		return nil, err
	}

	opaques := batchOpaques(len(keys))
	reqs := make([]*binproto.Request, 0, len(keys)+1)
	for opaque, i := range opaques {
		req, err := binproto.NewRequest(binproto.OpcodeGetKeyQuietly, 0, opaque, 0, nil, []byte(keys[i]), nil)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}

	noopOpaque := rand.Uint32()
	noop, err := binproto.NewRequest(binproto.OpcodeNoop, 0, noopOpaque, 0, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := c.send(append(reqs, noop)...); err != nil {
		return nil, err
	}

	items := make(map[string]Item, len(keys))
	drained := 0
	for {
		resp, err := c.readResponse()
		if err != nil {
			return nil, err
		}
		if resp.Header.Opcode == binproto.OpcodeNoop && resp.Header.Opaque == noopOpaque {
			break
		}

		i, ours := opaques[resp.Header.Opaque]
		if !ours {
			c.logger.Debug("discarding stale response in batch",
				zap.Stringer("opcode", resp.Header.Opcode),
				zap.Uint32("opaque", resp.Header.Opaque))
			if drained++; drained > maxStaleResponses {
				c.closed = true
				return nil, ErrOpaqueDrainExceeded
			}
			continue
		}

		if resp.Header.Status != binproto.StatusNoError {
			// Quiet gets only reply on hit; anything else is a real
			// server-side failure for that key.
			return nil, fmt.Errorf("key %q: %w", keys[i], binproto.NewServerError(resp.Header.Status, resp.Value))
		}

		item, err := itemFromResponse(keys[i], resp)
		if err != nil {
			return nil, err
		}
		items[item.Key] = item
	}

	c.lastUsed = coarsetime.Now()
	return items, nil
}

// SetMulti stores several entries in one pipelined exchange. Quiet
// sets only reply on failure, so the exchange is a burst of requests,
// a Noop sentinel, and zero or more error replies before the Noop.
// Per-key failures are combined into the returned error.
func (c *Conn) SetMulti(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := c.prepare(ctx); err != nil {
		return err
	}

	opaques := batchOpaques(len(entries))
	reqs := make([]*binproto.Request, 0, len(entries)+1)
	for opaque, i := range opaques {
		e := entries[i]
		req, err := binproto.NewRequest(binproto.OpcodeSetQuietly, 0, opaque, 0,
			storeExtras(e.Flags, e.Expiration), []byte(e.Key), e.Value)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}

	keyForOpaque := func(opaque uint32) (string, bool) {
		i, ok := opaques[opaque]
		if !ok {
			return "", false
		}
		return entries[i].Key, true
	}
	return c.finishQuietBatch(reqs, keyForOpaque, nil)
}

// DeleteMulti removes several keys in one pipelined exchange. Keys
// that are already absent are not an error.
func (c *Conn) DeleteMulti(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.prepare(ctx); err != nil {
		return err
	}

	opaques := batchOpaques(len(keys))
	reqs := make([]*binproto.Request, 0, len(keys)+1)
	for opaque, i := range opaques {
		req, err := binproto.NewRequest(binproto.OpcodeDeleteQuietly, 0, opaque, 0, nil, []byte(keys[i]), nil)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}

	keyForOpaque := func(opaque uint32) (string, bool) {
		i, ok := opaques[opaque]
		if !ok {
			return "", false
		}
		return keys[i], true
	}
	ignore := func(status binproto.Status) bool { return status == binproto.StatusKeyNotFound }
	return c.finishQuietBatch(reqs, keyForOpaque, ignore)
}

// finishQuietBatch appends a Noop sentinel to a batch of quiet
// requests, sends the batch, and collects the error replies that
// arrive before the sentinel. ignore filters statuses that are not
// failures for the operation at hand.
func (c *Conn) finishQuietBatch(reqs []*binproto.Request, keyForOpaque func(uint32) (string, bool), ignore func(binproto.Status) bool) error {
	noopOpaque := rand.Uint32()
	noop, err := binproto.NewRequest(binproto.OpcodeNoop, 0, noopOpaque, 0, nil, nil, nil)
	if err != nil {
		return err
	}
	if err := c.send(append(reqs, noop)...); err != nil {
		return err
	}

	var failures error
	drained := 0
	for {
		resp, err := c.readResponse()
		if err != nil {
			return err
		}
		if resp.Header.Opcode == binproto.OpcodeNoop && resp.Header.Opaque == noopOpaque {
			break
		}

		key, ours := keyForOpaque(resp.Header.Opaque)
		if !ours {
			c.logger.Debug("discarding stale response in batch",
				zap.Stringer("opcode", resp.Header.Opcode),
				zap.Uint32("opaque", resp.Header.Opaque))
			if drained++; drained > maxStaleResponses {
				c.closed = true
				return ErrOpaqueDrainExceeded
			}
			continue
		}

		if resp.Header.Status == binproto.StatusNoError {
			continue
		}
		if ignore != nil && ignore(resp.Header.Status) {
			continue
		}
		failures = multierr.Append(failures,
			fmt.Errorf("key %q: %w", key, binproto.NewServerError(resp.Header.Status, resp.Value)))
	}

	c.lastUsed = coarsetime.Now()
	return failures
}

// IncrementMulti applies several counter adjustments in one pipelined
// exchange and returns the new value per key. Unlike the other batch
// operations it uses the regular opcode, because the caller wants the
// resulting values: every request gets exactly one reply, so no Noop
// sentinel is needed.
func (c *Conn) IncrementMulti(ctx context.Context, counters []Counter) (map[string]uint64, error) {
	if len(counters) == 0 {
		return map[string]uint64{}, nil
	}
	if err := c.prepare(ctx); err != nil {
		return nil, err
	}

	opaques := batchOpaques(len(counters))
	reqs := make([]*binproto.Request, 0, len(counters))
	for opaque, i := range opaques {
		ctr := counters[i]
		req, err := binproto.NewRequest(binproto.OpcodeIncrement, 0, opaque, 0,
			counterExtras(ctr.Delta, ctr.Initial, ctr.Expiration), []byte(ctr.Key), nil)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	if err := c.send(reqs...); err != nil {
		return nil, err
	}

	values := make(map[string]uint64, len(counters))
	var failures error
	drained := 0
	for pending := len(counters); pending > 0; {
		resp, err := c.readResponse()
		if err != nil {
			return nil, err
		}

		i, ours := opaques[resp.Header.Opaque]
		if !ours {
			c.logger.Debug("discarding stale response in batch",
				zap.Stringer("opcode", resp.Header.Opcode),
				zap.Uint32("opaque", resp.Header.Opaque))
			if drained++; drained > maxStaleResponses {
				c.closed = true
				return nil, ErrOpaqueDrainExceeded
			}
			continue
		}
		pending--

		key := counters[i].Key
		if err := statusErr(resp); err != nil {
			failures = multierr.Append(failures, fmt.Errorf("key %q: %w", key, err))
			continue
		}
		value, err := counterFromResponse(resp)
		if err != nil {
			return nil, err
		}
		values[key] = value
	}

	c.lastUsed = coarsetime.Now()
	if failures != nil {
		return values, failures
	}
	return values, nil
}

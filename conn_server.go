package binmc

import (
	"context"
	"math/rand"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/binmc/binmc/binproto"
	"github.com/binmc/binmc/internal/coarsetime"
)

// Noop performs a no-op round trip. Useful as a health check and as a
// pipeline fence.
func (c *Conn) Noop(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, binproto.OpcodeNoop, 0, nil, nil, nil)
	if err != nil {
		return err
	}
	return statusErr(resp)
}

// Version returns the server version.
func (c *Conn) Version(ctx context.Context) (*semver.Version, error) {
	resp, err := c.roundTrip(ctx, binproto.OpcodeVersion, 0, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := statusErr(resp); err != nil {
		return nil, err
	}

	version, err := semver.NewVersion(strings.TrimSpace(string(resp.Value)))
	if err != nil {
		return nil, ErrMalformedResponse
	}
	return version, nil
}

// Quit asks the server to close the connection after replying, then
// closes the local end. The connection is unusable afterwards.
func (c *Conn) Quit(ctx context.Context) error {
	resp, err := c.roundTrip(ctx, binproto.OpcodeQuit, 0, nil, nil, nil)
	if err != nil {
		return err
	}
	if err := statusErr(resp); err != nil {
		return err
	}
	return c.Close()
}

// Flush invalidates all items on the server after the given delay in
// seconds. A zero delay flushes immediately.
func (c *Conn) Flush(ctx context.Context, delay uint32) error {
	resp, err := c.roundTrip(ctx, binproto.OpcodeFlush, 0, expirationExtras(delay), nil, nil)
	if err != nil {
		return err
	}
	return statusErr(resp)
}

// Verbosity sets the server's logging verbosity level.
func (c *Conn) Verbosity(ctx context.Context, level uint32) error {
	resp, err := c.roundTrip(ctx, binproto.OpcodeVerbosity, 0, expirationExtras(level), nil, nil)
	if err != nil {
		return err
	}
	return statusErr(resp)
}

// Stats returns server statistics. An empty group requests the default
// statistics; groups like "items" or "slabs" select a sub-report. The
// server streams one packet per statistic and terminates the stream
// with an empty packet.
func (c *Conn) Stats(ctx context.Context, group string) (map[string]string, error) {
	if err := c.prepare(ctx); err != nil {
		return nil, err
	}

	var key []byte
	if group != "" {
		key = []byte(group)
	}

	opaque := rand.Uint32()
	req, err := binproto.NewRequest(binproto.OpcodeStat, 0, opaque, 0, nil, key, nil)
	if err != nil {
		return nil, err
	}
	if err := c.send(req); err != nil {
		return nil, err
	}

	stats := make(map[string]string)
	for {
		resp, err := c.readMatching(opaque)
		if err != nil {
			return nil, err
		}
		if err := statusErr(resp); err != nil {
			return nil, err
		}
		if len(resp.Key) == 0 && len(resp.Value) == 0 {
			break
		}
		stats[string(resp.Key)] = string(resp.Value)
	}

	c.lastUsed = coarsetime.Now()
	return stats, nil
}

// StatKeys returns the keys of a statistics report in sorted order,
// for stable display.
func StatKeys(stats map[string]string) []string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

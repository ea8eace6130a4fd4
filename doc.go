// Package binmc is a memcached client speaking the binary protocol.
//
// The package is layered:
//
//   - binproto holds the wire codec: packet headers, opcodes, statuses.
//   - Conn is a single-connection protocol driver exposing every command,
//     including quiet (noreply) and CAS variants and pipelined multi-key
//     operations. A Conn is not safe for concurrent use.
//   - Client routes keys across a weighted set of servers with a
//     consistent hash ring and mirrors the Conn operations.
//   - PooledClient adds per-server connection pooling, circuit breaking
//     and health checks for concurrent callers.
package binmc

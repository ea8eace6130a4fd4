// Package binproto implements the memcached binary wire protocol:
// the fixed 24-byte packet header, the opcode/status/data-type
// enumerations, and request/response packet serialization.
//
// The protocol is specified in the memcached BinaryProtocolRevamped
// document. Every packet is a 24-byte header followed by three
// contiguous payload segments in fixed order: extras, key, value.
// All multi-byte integers are big-endian.
//
// General packet layout:
//
//	Byte/     0       |       1       |       2       |       3       |
//	   +---------------+---------------+---------------+---------------+
//	  0| Magic         | Opcode        | Key length                    |
//	   +---------------+---------------+---------------+---------------+
//	  4| Extras length | Data type     | vbucket id / status           |
//	   +---------------+---------------+---------------+---------------+
//	  8| Total body length                                             |
//	   +---------------+---------------+---------------+---------------+
//	 12| Opaque                                                        |
//	   +---------------+---------------+---------------+---------------+
//	 16| CAS                                                           |
//	   |                                                               |
//	   +---------------+---------------+---------------+---------------+
//	   Total 24 bytes
//
// This package is transport-agnostic: it reads from io.Reader and
// writes to io.Writer. Connection management, opaque correlation and
// command semantics live in the parent package.
package binproto

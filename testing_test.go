package binmc

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/binmc/binmc/binproto"
)

func testContext(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func createListener(t testing.TB, handler func(conn net.Conn)) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to start test server")

	t.Cleanup(func() {
		listener.Close()
	})

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			go func(c net.Conn) {
				defer c.Close()

				if handler != nil {
					handler(c)
				}
			}(conn)
		}
	}()

	return listener.Addr().String()
}

func dialTestConn(t testing.TB, addr string) *Conn {
	t.Helper()

	netConn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	conn := NewConn(netConn)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func requireStatus(t testing.TB, err error, status binproto.Status) {
	t.Helper()
	require.Error(t, err)
	require.True(t, binproto.IsStatus(err, status), "expected status %v, got error: %v", status, err)
}

// fakeItem is one stored value in the fake server.
type fakeItem struct {
	value []byte
	flags uint32
	cas   uint64
}

// fakeServer is an in-memory cache speaking the binary protocol. It
// implements enough of the command set to exercise the client: CAS
// tokens advance on every mutation, quiet opcodes only reply on error
// (or on hit, for quiet gets), and Stat streams a terminated report.
type fakeServer struct {
	mu         sync.Mutex
	items      map[string]fakeItem
	casCounter uint64

	version  string
	username string
	password string
	stats    map[string]string
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		items:   make(map[string]fakeItem),
		version: "1.6.38",
		stats: map[string]string{
			"pid":        "12345",
			"uptime":     "3600",
			"curr_items": "0",
		},
	}
}

func (s *fakeServer) listen(t testing.TB) string {
	return createListener(t, s.handle)
}

func (s *fakeServer) get(key string) (fakeItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	return item, ok
}

func (s *fakeServer) put(key string, value []byte, flags uint32) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(key, value, flags)
}

func (s *fakeServer) putLocked(key string, value []byte, flags uint32) uint64 {
	s.casCounter++
	s.items[key] = fakeItem{value: value, flags: flags, cas: s.casCounter}
	return s.casCounter
}

func (s *fakeServer) handle(conn net.Conn) {
	for {
		req, err := binproto.ReadRequest(conn)
		if err != nil {
			return
		}

		for _, resp := range s.respond(req) {
			if err := resp.WriteTo(conn); err != nil {
				return
			}
		}

		if req.Header.Opcode == binproto.OpcodeQuit || req.Header.Opcode == binproto.OpcodeQuitQuietly {
			return
		}
	}
}

func mustResponse(op binproto.Opcode, status binproto.Status, opaque uint32, cas uint64, extras, key, value []byte) *binproto.Response {
	resp, err := binproto.NewResponse(op, status, opaque, cas, extras, key, value)
	if err != nil {
		panic(err)
	}
	return resp
}

func errorResponse(req *binproto.Request, status binproto.Status) *binproto.Response {
	return mustResponse(req.Header.Opcode, status, req.Header.Opaque, 0, nil, nil, []byte(status.String()))
}

func okResponse(req *binproto.Request, cas uint64) *binproto.Response {
	return mustResponse(req.Header.Opcode, binproto.StatusNoError, req.Header.Opaque, cas, nil, nil, nil)
}

func isQuiet(op binproto.Opcode) bool {
	switch op {
	case binproto.OpcodeGetQuietly, binproto.OpcodeGetKeyQuietly, binproto.OpcodeSetQuietly,
		binproto.OpcodeAddQuietly, binproto.OpcodeReplaceQuietly, binproto.OpcodeDeleteQuietly,
		binproto.OpcodeIncrementQuietly, binproto.OpcodeDecrementQuietly, binproto.OpcodeQuitQuietly,
		binproto.OpcodeFlushQuietly, binproto.OpcodeAppendQuietly, binproto.OpcodePrependQuietly,
		binproto.OpcodeGetAndTouchQuietly:
		return true
	}
	return false
}

// respond computes the responses for one request. Quiet opcodes
// suppress their success response.
func (s *fakeServer) respond(req *binproto.Request) []*binproto.Response {
	resps, success := s.respondVerbose(req)
	if success && isQuiet(req.Header.Opcode) {
		return nil
	}
	return resps
}

func (s *fakeServer) respondVerbose(req *binproto.Request) (resps []*binproto.Response, success bool) {
	key := string(req.Key)
	h := req.Header

	switch h.Opcode {
	case binproto.OpcodeGet, binproto.OpcodeGetQuietly,
		binproto.OpcodeGetKey, binproto.OpcodeGetKeyQuietly:
		item, ok := s.get(key)
		if !ok {
			// Quiet gets suppress the miss, not the hit.
			if isQuiet(h.Opcode) {
				return nil, false
			}
			return []*binproto.Response{errorResponse(req, binproto.StatusKeyNotFound)}, false
		}
		flags := make([]byte, 4)
		binary.BigEndian.PutUint32(flags, item.flags)
		var respKey []byte
		if h.Opcode == binproto.OpcodeGetKey || h.Opcode == binproto.OpcodeGetKeyQuietly {
			respKey = req.Key
		}
		resp := mustResponse(h.Opcode, binproto.StatusNoError, h.Opaque, item.cas, flags, respKey, item.value)
		// Quiet gets reply on hit, unlike other quiet opcodes.
		return []*binproto.Response{resp}, false

	case binproto.OpcodeSet, binproto.OpcodeSetQuietly,
		binproto.OpcodeAdd, binproto.OpcodeAddQuietly,
		binproto.OpcodeReplace, binproto.OpcodeReplaceQuietly:
		if len(req.Extras) != 8 {
			return []*binproto.Response{errorResponse(req, binproto.StatusInvalidArguments)}, false
		}
		flags := binary.BigEndian.Uint32(req.Extras[0:4])

		s.mu.Lock()
		defer s.mu.Unlock()
		existing, exists := s.items[key]

		switch h.Opcode {
		case binproto.OpcodeAdd, binproto.OpcodeAddQuietly:
			if exists {
				return []*binproto.Response{errorResponse(req, binproto.StatusKeyExists)}, false
			}
		case binproto.OpcodeReplace, binproto.OpcodeReplaceQuietly:
			if !exists {
				return []*binproto.Response{errorResponse(req, binproto.StatusKeyNotFound)}, false
			}
		}
		if h.CAS != 0 {
			if !exists {
				return []*binproto.Response{errorResponse(req, binproto.StatusKeyNotFound)}, false
			}
			if existing.cas != h.CAS {
				return []*binproto.Response{errorResponse(req, binproto.StatusKeyExists)}, false
			}
		}
		cas := s.putLocked(key, req.Value, flags)
		return []*binproto.Response{okResponse(req, cas)}, true

	case binproto.OpcodeDelete, binproto.OpcodeDeleteQuietly:
		s.mu.Lock()
		defer s.mu.Unlock()
		existing, exists := s.items[key]
		if !exists {
			return []*binproto.Response{errorResponse(req, binproto.StatusKeyNotFound)}, false
		}
		if h.CAS != 0 && existing.cas != h.CAS {
			return []*binproto.Response{errorResponse(req, binproto.StatusKeyExists)}, false
		}
		delete(s.items, key)
		return []*binproto.Response{okResponse(req, 0)}, true

	case binproto.OpcodeIncrement, binproto.OpcodeIncrementQuietly,
		binproto.OpcodeDecrement, binproto.OpcodeDecrementQuietly:
		if len(req.Extras) != 20 {
			return []*binproto.Response{errorResponse(req, binproto.StatusInvalidArguments)}, false
		}
		delta := binary.BigEndian.Uint64(req.Extras[0:8])
		initial := binary.BigEndian.Uint64(req.Extras[8:16])
		expiration := binary.BigEndian.Uint32(req.Extras[16:20])

		s.mu.Lock()
		defer s.mu.Unlock()

		var result uint64
		existing, exists := s.items[key]
		if h.CAS != 0 {
			if !exists {
				return []*binproto.Response{errorResponse(req, binproto.StatusKeyNotFound)}, false
			}
			if existing.cas != h.CAS {
				return []*binproto.Response{errorResponse(req, binproto.StatusKeyExists)}, false
			}
		}
		if !exists {
			if expiration == 0xffffffff {
				return []*binproto.Response{errorResponse(req, binproto.StatusKeyNotFound)}, false
			}
			result = initial
		} else {
			current, err := strconv.ParseUint(string(existing.value), 10, 64)
			if err != nil {
				return []*binproto.Response{errorResponse(req, binproto.StatusIncrDecrOnNonNumericValue)}, false
			}
			switch h.Opcode {
			case binproto.OpcodeIncrement, binproto.OpcodeIncrementQuietly:
				result = current + delta
			default:
				if delta > current {
					result = 0
				} else {
					result = current - delta
				}
			}
		}
		cas := s.putLocked(key, []byte(strconv.FormatUint(result, 10)), 0)

		value := make([]byte, 8)
		binary.BigEndian.PutUint64(value, result)
		resp := mustResponse(h.Opcode, binproto.StatusNoError, h.Opaque, cas, nil, nil, value)
		return []*binproto.Response{resp}, true

	case binproto.OpcodeAppend, binproto.OpcodeAppendQuietly,
		binproto.OpcodePrepend, binproto.OpcodePrependQuietly:
		s.mu.Lock()
		defer s.mu.Unlock()
		existing, exists := s.items[key]
		if !exists {
			return []*binproto.Response{errorResponse(req, binproto.StatusItemNotStored)}, false
		}
		if h.CAS != 0 && existing.cas != h.CAS {
			return []*binproto.Response{errorResponse(req, binproto.StatusKeyExists)}, false
		}
		var value []byte
		if h.Opcode == binproto.OpcodeAppend || h.Opcode == binproto.OpcodeAppendQuietly {
			value = append(append([]byte{}, existing.value...), req.Value...)
		} else {
			value = append(append([]byte{}, req.Value...), existing.value...)
		}
		cas := s.putLocked(key, value, existing.flags)
		return []*binproto.Response{okResponse(req, cas)}, true

	case binproto.OpcodeTouch, binproto.OpcodeGetAndTouch, binproto.OpcodeGetAndTouchQuietly:
		item, ok := s.get(key)
		if !ok {
			return []*binproto.Response{errorResponse(req, binproto.StatusKeyNotFound)}, false
		}
		if h.CAS != 0 && item.cas != h.CAS {
			return []*binproto.Response{errorResponse(req, binproto.StatusKeyExists)}, false
		}
		if h.Opcode == binproto.OpcodeTouch {
			return []*binproto.Response{okResponse(req, item.cas)}, true
		}
		flags := make([]byte, 4)
		binary.BigEndian.PutUint32(flags, item.flags)
		resp := mustResponse(h.Opcode, binproto.StatusNoError, h.Opaque, item.cas, flags, nil, item.value)
		return []*binproto.Response{resp}, false

	case binproto.OpcodeNoop, binproto.OpcodeQuit, binproto.OpcodeQuitQuietly:
		return []*binproto.Response{okResponse(req, 0)}, true

	case binproto.OpcodeVersion:
		resp := mustResponse(h.Opcode, binproto.StatusNoError, h.Opaque, 0, nil, nil, []byte(s.version))
		return []*binproto.Response{resp}, true

	case binproto.OpcodeFlush, binproto.OpcodeFlushQuietly:
		s.mu.Lock()
		s.items = make(map[string]fakeItem)
		s.mu.Unlock()
		return []*binproto.Response{okResponse(req, 0)}, true

	case binproto.OpcodeVerbosity:
		return []*binproto.Response{okResponse(req, 0)}, true

	case binproto.OpcodeStat:
		var out []*binproto.Response
		for k, v := range s.stats {
			out = append(out, mustResponse(h.Opcode, binproto.StatusNoError, h.Opaque, 0, nil, []byte(k), []byte(v)))
		}
		out = append(out, okResponse(req, 0))
		return out, true

	case binproto.OpcodeSaslListMechs:
		resp := mustResponse(h.Opcode, binproto.StatusNoError, h.Opaque, 0, nil, nil, []byte("PLAIN"))
		return []*binproto.Response{resp}, true

	case binproto.OpcodeSaslAuth:
		switch key {
		case "PLAIN":
			if string(req.Value) == string(PlainAuthPayload(s.username, s.password)) {
				resp := mustResponse(h.Opcode, binproto.StatusNoError, h.Opaque, 0, nil, nil, []byte("Authenticated"))
				return []*binproto.Response{resp}, true
			}
			return []*binproto.Response{errorResponse(req, binproto.StatusAuthenticationRequired)}, false
		case "STEPWISE":
			resp := mustResponse(h.Opcode, binproto.StatusAuthenticationStepNeeded, h.Opaque, 0, nil, nil, []byte("challenge"))
			return []*binproto.Response{resp}, false
		default:
			return []*binproto.Response{errorResponse(req, binproto.StatusAuthenticationRequired)}, false
		}

	case binproto.OpcodeSaslStep:
		resp := mustResponse(h.Opcode, binproto.StatusNoError, h.Opaque, 0, nil, nil, nil)
		return []*binproto.Response{resp}, true

	default:
		return []*binproto.Response{errorResponse(req, binproto.StatusUnknownCommand)}, false
	}
}

// scriptedListener starts a server whose handler reads raw requests
// and can inject arbitrary response packets, for stream-level tests.
func scriptedListener(t testing.TB, script func(conn net.Conn, req *binproto.Request)) string {
	return createListener(t, func(conn net.Conn) {
		for {
			req, err := binproto.ReadRequest(conn)
			if err != nil {
				return
			}
			script(conn, req)
		}
	})
}

package binproto

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	req, err := NewRequest(OpcodeSet, 3, 0xDEADBEEF, 77, []byte{1, 2, 3, 4, 5, 6, 7, 8}, []byte("key"), []byte("value"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, req.WriteTo(&buf))
	assert.Equal(t, HeaderLen+8+3+5, buf.Len())

	decoded, err := ReadRequest(&buf)
	require.NoError(t, err)

	assert.Equal(t, OpcodeSet, decoded.Header.Opcode)
	assert.Equal(t, uint16(3), decoded.Header.VBucket)
	assert.Equal(t, uint32(0xDEADBEEF), decoded.Header.Opaque)
	assert.Equal(t, uint64(77), decoded.Header.CAS)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, decoded.Extras)
	assert.Equal(t, []byte("key"), decoded.Key)
	assert.Equal(t, []byte("value"), decoded.Value)
}

func TestResponseRoundTrip(t *testing.T) {
	resp, err := NewResponse(OpcodeGet, StatusKeyNotFound, 42, 9, nil, nil, []byte("Not found"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, resp.WriteTo(&buf))

	decoded, err := ReadResponse(&buf)
	require.NoError(t, err)

	assert.Equal(t, OpcodeGet, decoded.Header.Opcode)
	assert.Equal(t, StatusKeyNotFound, decoded.Header.Status)
	assert.Equal(t, uint32(42), decoded.Header.Opaque)
	assert.Equal(t, uint64(9), decoded.Header.CAS)
	assert.Empty(t, decoded.Extras)
	assert.Empty(t, decoded.Key)
	assert.Equal(t, []byte("Not found"), decoded.Value)
}

func TestRoundTripEmptySegments(t *testing.T) {
	req, err := NewRequest(OpcodeNoop, 0, 1, 0, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, req.Header.BodyLen())

	var buf bytes.Buffer
	require.NoError(t, req.WriteTo(&buf))
	assert.Equal(t, HeaderLen, buf.Len())

	decoded, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Empty(t, decoded.Extras)
	assert.Empty(t, decoded.Key)
	assert.Empty(t, decoded.Value)
}

func TestHeaderWireLayout(t *testing.T) {
	req, err := NewRequest(OpcodeGet, 0x0102, 0x0A0B0C0D, 0x1122334455667788, nil, []byte("ab"), nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, req.WriteTo(&buf))
	raw := buf.Bytes()

	assert.Equal(t, uint8(0x80), raw[0], "magic")
	assert.Equal(t, uint8(0x00), raw[1], "opcode")
	assert.Equal(t, uint16(2), binary.BigEndian.Uint16(raw[2:4]), "key length")
	assert.Equal(t, uint8(0), raw[4], "extras length")
	assert.Equal(t, uint8(0), raw[5], "data type")
	assert.Equal(t, uint16(0x0102), binary.BigEndian.Uint16(raw[6:8]), "vbucket")
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(raw[8:12]), "total body length")
	assert.Equal(t, uint32(0x0A0B0C0D), binary.BigEndian.Uint32(raw[12:16]), "opaque")
	assert.Equal(t, uint64(0x1122334455667788), binary.BigEndian.Uint64(raw[16:24]), "cas")
	assert.Equal(t, "ab", string(raw[24:]))
}

func TestNewRequestLimits(t *testing.T) {
	_, err := NewRequest(OpcodeSet, 0, 0, 0, make([]byte, 256), []byte("k"), nil)
	assert.ErrorIs(t, err, ErrExtrasTooLarge)

	_, err = NewRequest(OpcodeSet, 0, 0, 0, nil, []byte(strings.Repeat("k", 0x10000)), nil)
	assert.ErrorIs(t, err, ErrKeyTooLarge)

	_, err = NewRequest(OpcodeSet, 0, 0, 0, make([]byte, 255), []byte(strings.Repeat("k", 0xFFFF)), nil)
	assert.NoError(t, err, "limits are inclusive")
}

func TestReadResponseBadMagic(t *testing.T) {
	raw := make([]byte, HeaderLen)
	raw[0] = MagicRequest // request magic on a response stream

	_, err := ReadResponse(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestReadResponseUnknownOpcode(t *testing.T) {
	raw := make([]byte, HeaderLen)
	raw[0] = MagicResponse
	raw[1] = 0xEE

	_, err := ReadResponse(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestReadResponseUnknownStatus(t *testing.T) {
	raw := make([]byte, HeaderLen)
	raw[0] = MagicResponse
	binary.BigEndian.PutUint16(raw[6:8], 0x7777)

	_, err := ReadResponse(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestReadResponseUnknownDataType(t *testing.T) {
	raw := make([]byte, HeaderLen)
	raw[0] = MagicResponse
	raw[5] = 0x05

	_, err := ReadResponse(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrInvalidDataType)
}

func TestReadResponseBodyLenMismatch(t *testing.T) {
	// key_len 10 but total body length only 4.
	raw := make([]byte, HeaderLen+4)
	raw[0] = MagicResponse
	binary.BigEndian.PutUint16(raw[2:4], 10)
	binary.BigEndian.PutUint32(raw[8:12], 4)

	_, err := ReadResponse(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrBodyLenMismatch)
}

func TestReadResponseTruncatedHeader(t *testing.T) {
	raw := make([]byte, HeaderLen-1)
	raw[0] = MagicResponse

	_, err := ReadResponse(bytes.NewReader(raw))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadResponseTruncatedBody(t *testing.T) {
	resp, err := NewResponse(OpcodeGet, StatusNoError, 0, 0, nil, nil, []byte("value"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, resp.WriteTo(&buf))
	truncated := buf.Bytes()[:buf.Len()-2]

	_, err = ReadResponse(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestOpcodeString(t *testing.T) {
	assert.Equal(t, "GET", OpcodeGet.String())
	assert.Equal(t, "SETQ", OpcodeSetQuietly.String())
	assert.Equal(t, "SASL_AUTH", OpcodeSaslAuth.String())
	assert.Equal(t, "Opcode(0xee)", Opcode(0xEE).String())

	assert.True(t, OpcodeTapCheckpointEnd.Valid())
	assert.False(t, Opcode(0xEE).Valid())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "no error", StatusNoError.String())
	assert.Equal(t, "key not found", StatusKeyNotFound.String())
	assert.Equal(t, "Status(0x7777)", Status(0x7777).String())
}

func TestServerError(t *testing.T) {
	err := NewServerError(StatusKeyNotFound, []byte("Not found"))
	assert.Equal(t, "binproto: key not found (Not found)", err.Error())
	assert.True(t, IsStatus(err, StatusKeyNotFound))
	assert.False(t, IsStatus(err, StatusKeyExists))

	// Binary garbage in the value is not used as detail text.
	err = NewServerError(StatusInternalError, []byte{0xFF, 0xFE, 0x80})
	assert.Equal(t, "binproto: internal error", err.Error())

	err = NewServerError(StatusBusy, nil)
	assert.Equal(t, "binproto: busy", err.Error())
}

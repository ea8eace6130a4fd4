package binproto

import (
	"encoding/binary"
	"io"
)

// RequestHeader is the fixed 24-byte header of a request packet.
//
// The three length fields are unexported on purpose: they are always
// derived from the actual payload slices by NewRequest, never trusted
// from caller input.
type RequestHeader struct {
	Opcode   Opcode
	DataType DataType
	VBucket  uint16
	Opaque   uint32
	CAS      uint64

	keyLen    uint16
	extrasLen uint8
	bodyLen   uint32
}

// KeyLen returns the key length recorded in the header.
func (h *RequestHeader) KeyLen() int { return int(h.keyLen) }

// ExtrasLen returns the extras length recorded in the header.
func (h *RequestHeader) ExtrasLen() int { return int(h.extrasLen) }

// BodyLen returns the total body length recorded in the header.
func (h *RequestHeader) BodyLen() int { return int(h.bodyLen) }

// WriteTo serializes the header in wire order.
func (h *RequestHeader) WriteTo(w io.Writer) error {
	var buf [HeaderLen]byte
	buf[0] = MagicRequest
	buf[1] = uint8(h.Opcode)
	binary.BigEndian.PutUint16(buf[2:4], h.keyLen)
	buf[4] = h.extrasLen
	buf[5] = uint8(h.DataType)
	binary.BigEndian.PutUint16(buf[6:8], h.VBucket)
	binary.BigEndian.PutUint32(buf[8:12], h.bodyLen)
	binary.BigEndian.PutUint32(buf[12:16], h.Opaque)
	binary.BigEndian.PutUint64(buf[16:24], h.CAS)

	_, err := w.Write(buf[:])
	return err
}

// ReadRequestHeader reads and validates a request header. A short read
// is an I/O error; a wrong magic byte or an unrecognized opcode or
// data type is a decode error.
func ReadRequestHeader(r io.Reader) (RequestHeader, error) {
	var buf [HeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return RequestHeader{}, err
	}

	if buf[0] != MagicRequest {
		return RequestHeader{}, ErrBadMagic
	}

	h := RequestHeader{
		Opcode:    Opcode(buf[1]),
		keyLen:    binary.BigEndian.Uint16(buf[2:4]),
		extrasLen: buf[4],
		DataType:  DataType(buf[5]),
		VBucket:   binary.BigEndian.Uint16(buf[6:8]),
		bodyLen:   binary.BigEndian.Uint32(buf[8:12]),
		Opaque:    binary.BigEndian.Uint32(buf[12:16]),
		CAS:       binary.BigEndian.Uint64(buf[16:24]),
	}

	if !h.Opcode.Valid() {
		return RequestHeader{}, ErrInvalidCommand
	}
	if !h.DataType.Valid() {
		return RequestHeader{}, ErrInvalidDataType
	}
	return h, nil
}

// ResponseHeader is the fixed 24-byte header of a response packet. It
// shares the request layout except that bytes 6-7 carry the status
// instead of the vbucket id.
type ResponseHeader struct {
	Opcode   Opcode
	DataType DataType
	Status   Status
	Opaque   uint32
	CAS      uint64

	keyLen    uint16
	extrasLen uint8
	bodyLen   uint32
}

// KeyLen returns the key length recorded in the header.
func (h *ResponseHeader) KeyLen() int { return int(h.keyLen) }

// ExtrasLen returns the extras length recorded in the header.
func (h *ResponseHeader) ExtrasLen() int { return int(h.extrasLen) }

// BodyLen returns the total body length recorded in the header.
func (h *ResponseHeader) BodyLen() int { return int(h.bodyLen) }

// WriteTo serializes the header in wire order.
func (h *ResponseHeader) WriteTo(w io.Writer) error {
	var buf [HeaderLen]byte
	buf[0] = MagicResponse
	buf[1] = uint8(h.Opcode)
	binary.BigEndian.PutUint16(buf[2:4], h.keyLen)
	buf[4] = h.extrasLen
	buf[5] = uint8(h.DataType)
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Status))
	binary.BigEndian.PutUint32(buf[8:12], h.bodyLen)
	binary.BigEndian.PutUint32(buf[12:16], h.Opaque)
	binary.BigEndian.PutUint64(buf[16:24], h.CAS)

	_, err := w.Write(buf[:])
	return err
}

// ReadResponseHeader reads and validates a response header.
func ReadResponseHeader(r io.Reader) (ResponseHeader, error) {
	var buf [HeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ResponseHeader{}, err
	}

	if buf[0] != MagicResponse {
		return ResponseHeader{}, ErrBadMagic
	}

	h := ResponseHeader{
		Opcode:    Opcode(buf[1]),
		keyLen:    binary.BigEndian.Uint16(buf[2:4]),
		extrasLen: buf[4],
		DataType:  DataType(buf[5]),
		Status:    Status(binary.BigEndian.Uint16(buf[6:8])),
		bodyLen:   binary.BigEndian.Uint32(buf[8:12]),
		Opaque:    binary.BigEndian.Uint32(buf[12:16]),
		CAS:       binary.BigEndian.Uint64(buf[16:24]),
	}

	if !h.Opcode.Valid() {
		return ResponseHeader{}, ErrInvalidCommand
	}
	if !h.DataType.Valid() {
		return ResponseHeader{}, ErrInvalidDataType
	}
	if !h.Status.Valid() {
		return ResponseHeader{}, ErrInvalidStatus
	}
	return h, nil
}

// Request is a full request packet: header plus the extras, key and
// value segments laid out in that order on the wire.
type Request struct {
	Header RequestHeader
	Extras []byte
	Key    []byte
	Value  []byte
}

// NewRequest builds a request packet whose header length fields are
// derived from the payload slices. It returns an error if the extras
// exceed the protocol's one-byte length field or the key exceeds the
// two-byte length field. Zero-length segments are valid.
func NewRequest(op Opcode, vbucket uint16, opaque uint32, cas uint64, extras, key, value []byte) (*Request, error) {
	if len(extras) > 0xFF {
		return nil, ErrExtrasTooLarge
	}
	if len(key) > 0xFFFF {
		return nil, ErrKeyTooLarge
	}

	return &Request{
		Header: RequestHeader{
			Opcode:    op,
			DataType:  DataTypeRawBytes,
			VBucket:   vbucket,
			Opaque:    opaque,
			CAS:       cas,
			keyLen:    uint16(len(key)),
			extrasLen: uint8(len(extras)),
			bodyLen:   uint32(len(extras) + len(key) + len(value)),
		},
		Extras: extras,
		Key:    key,
		Value:  value,
	}, nil
}

// WriteTo serializes the packet as header, extras, key, value. The
// caller owns buffering and flushing.
func (p *Request) WriteTo(w io.Writer) error {
	if err := p.Header.WriteTo(w); err != nil {
		return err
	}
	return writeSegments(w, p.Extras, p.Key, p.Value)
}

// ReadRequest reads a full request packet. Used by test servers; the
// client itself only reads responses.
func ReadRequest(r io.Reader) (*Request, error) {
	h, err := ReadRequestHeader(r)
	if err != nil {
		return nil, err
	}

	extras, key, value, err := readSegments(r, h.ExtrasLen(), h.KeyLen(), h.BodyLen())
	if err != nil {
		return nil, err
	}
	return &Request{Header: h, Extras: extras, Key: key, Value: value}, nil
}

// Response is a full response packet.
type Response struct {
	Header ResponseHeader
	Extras []byte
	Key    []byte
	Value  []byte
}

// NewResponse builds a response packet with derived length fields.
// Only test servers encode responses; the client decodes them.
func NewResponse(op Opcode, status Status, opaque uint32, cas uint64, extras, key, value []byte) (*Response, error) {
	if len(extras) > 0xFF {
		return nil, ErrExtrasTooLarge
	}
	if len(key) > 0xFFFF {
		return nil, ErrKeyTooLarge
	}

	return &Response{
		Header: ResponseHeader{
			Opcode:    op,
			DataType:  DataTypeRawBytes,
			Status:    status,
			Opaque:    opaque,
			CAS:       cas,
			keyLen:    uint16(len(key)),
			extrasLen: uint8(len(extras)),
			bodyLen:   uint32(len(extras) + len(key) + len(value)),
		},
		Extras: extras,
		Key:    key,
		Value:  value,
	}, nil
}

// WriteTo serializes the packet as header, extras, key, value.
func (p *Response) WriteTo(w io.Writer) error {
	if err := p.Header.WriteTo(w); err != nil {
		return err
	}
	return writeSegments(w, p.Extras, p.Key, p.Value)
}

// ReadResponse reads a full response packet, pulling exactly
// extras_len, key_len and body_len-extras_len-key_len bytes for the
// three segments. Short reads surface as I/O errors.
func ReadResponse(r io.Reader) (*Response, error) {
	h, err := ReadResponseHeader(r)
	if err != nil {
		return nil, err
	}

	extras, key, value, err := readSegments(r, h.ExtrasLen(), h.KeyLen(), h.BodyLen())
	if err != nil {
		return nil, err
	}
	return &Response{Header: h, Extras: extras, Key: key, Value: value}, nil
}

func writeSegments(w io.Writer, extras, key, value []byte) error {
	for _, seg := range [][]byte{extras, key, value} {
		if len(seg) == 0 {
			continue
		}
		if _, err := w.Write(seg); err != nil {
			return err
		}
	}
	return nil
}

func readSegments(r io.Reader, extrasLen, keyLen, bodyLen int) (extras, key, value []byte, err error) {
	if bodyLen < extrasLen+keyLen {
		return nil, nil, nil, ErrBodyLenMismatch
	}

	buf := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, nil, nil, err
	}

	extras = buf[:extrasLen]
	key = buf[extrasLen : extrasLen+keyLen]
	value = buf[extrasLen+keyLen:]
	return extras, key, value, nil
}

package binproto

import (
	"errors"
	"unicode/utf8"
)

// Decode errors. All of them indicate either a corrupted stream or a
// protocol version mismatch between client and server; the connection
// is unusable afterwards.
var (
	ErrBadMagic        = errors.New("binproto: invalid packet magic")
	ErrInvalidCommand  = errors.New("binproto: unrecognized command opcode")
	ErrInvalidDataType = errors.New("binproto: unrecognized data type")
	ErrInvalidStatus   = errors.New("binproto: unrecognized status code")
	ErrBodyLenMismatch = errors.New("binproto: total body length shorter than extras+key")
)

// Encode errors. These are caller mistakes caught before anything is
// written to the stream.
var (
	ErrExtrasTooLarge = errors.New("binproto: extras segment exceeds 255 bytes")
	ErrKeyTooLarge    = errors.New("binproto: key segment exceeds 65535 bytes")
)

// ServerError is a non-NoError status returned by the server,
// optionally carrying the UTF-8 detail text the server put in the
// response value.
type ServerError struct {
	Status Status
	Detail string
}

func (e *ServerError) Error() string {
	if e.Detail != "" {
		return "binproto: " + e.Status.String() + " (" + e.Detail + ")"
	}
	return "binproto: " + e.Status.String()
}

// NewServerError builds a ServerError from a response status and the
// raw response value. The value is used as detail text only when it is
// valid UTF-8; servers send human-readable messages there but the
// protocol does not guarantee it.
func NewServerError(status Status, value []byte) *ServerError {
	detail := ""
	if len(value) > 0 && utf8.Valid(value) {
		detail = string(value)
	}
	return &ServerError{Status: status, Detail: detail}
}

// IsStatus reports whether err is a ServerError with the given status.
func IsStatus(err error, status Status) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Status == status
}

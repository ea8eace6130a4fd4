package binproto

import "fmt"

// Packet magic bytes. The first byte of every packet identifies its
// direction; anything else means the stream is corrupted or the peer
// is not speaking the binary protocol.
const (
	MagicRequest  uint8 = 0x80
	MagicResponse uint8 = 0x81
)

// HeaderLen is the size of the fixed packet header.
const HeaderLen = 24

// Opcode is a binary protocol command code.
type Opcode uint8

// Command opcodes. The numeric values are wire constants and must
// match the server byte-for-byte. Quiet variants suppress the success
// response and are used for pipelining.
const (
	OpcodeGet                Opcode = 0x00
	OpcodeSet                Opcode = 0x01
	OpcodeAdd                Opcode = 0x02
	OpcodeReplace            Opcode = 0x03
	OpcodeDelete             Opcode = 0x04
	OpcodeIncrement          Opcode = 0x05
	OpcodeDecrement          Opcode = 0x06
	OpcodeQuit               Opcode = 0x07
	OpcodeFlush              Opcode = 0x08
	OpcodeGetQuietly         Opcode = 0x09
	OpcodeNoop               Opcode = 0x0A
	OpcodeVersion            Opcode = 0x0B
	OpcodeGetKey             Opcode = 0x0C
	OpcodeGetKeyQuietly      Opcode = 0x0D
	OpcodeAppend             Opcode = 0x0E
	OpcodePrepend            Opcode = 0x0F
	OpcodeStat               Opcode = 0x10
	OpcodeSetQuietly         Opcode = 0x11
	OpcodeAddQuietly         Opcode = 0x12
	OpcodeReplaceQuietly     Opcode = 0x13
	OpcodeDeleteQuietly      Opcode = 0x14
	OpcodeIncrementQuietly   Opcode = 0x15
	OpcodeDecrementQuietly   Opcode = 0x16
	OpcodeQuitQuietly        Opcode = 0x17
	OpcodeFlushQuietly       Opcode = 0x18
	OpcodeAppendQuietly      Opcode = 0x19
	OpcodePrependQuietly     Opcode = 0x1A
	OpcodeVerbosity          Opcode = 0x1B
	OpcodeTouch              Opcode = 0x1C
	OpcodeGetAndTouch        Opcode = 0x1D
	OpcodeGetAndTouchQuietly Opcode = 0x1E
	OpcodeSaslListMechs      Opcode = 0x20
	OpcodeSaslAuth           Opcode = 0x21
	OpcodeSaslStep           Opcode = 0x22

	// Range operations and vbucket/TAP opcodes below are defined by the
	// protocol but unused by this client. They are kept in the table so
	// that decoding a server stream containing them does not fail.
	OpcodeRGet               Opcode = 0x30
	OpcodeRSet               Opcode = 0x31
	OpcodeRSetQuietly        Opcode = 0x32
	OpcodeRAppend            Opcode = 0x33
	OpcodeRAppendQuietly     Opcode = 0x34
	OpcodeRPrepend           Opcode = 0x35
	OpcodeRPrependQuietly    Opcode = 0x36
	OpcodeRDelete            Opcode = 0x37
	OpcodeRDeleteQuietly     Opcode = 0x38
	OpcodeRIncrement         Opcode = 0x39
	OpcodeRIncrementQuietly  Opcode = 0x3A
	OpcodeRDecrement         Opcode = 0x3B
	OpcodeRDecrementQuietly  Opcode = 0x3C
	OpcodeSetVBucket         Opcode = 0x3D
	OpcodeGetVBucket         Opcode = 0x3E
	OpcodeDelVBucket         Opcode = 0x3F
	OpcodeTapConnect         Opcode = 0x40
	OpcodeTapMutation        Opcode = 0x41
	OpcodeTapDelete          Opcode = 0x42
	OpcodeTapFlush           Opcode = 0x43
	OpcodeTapOpaque          Opcode = 0x44
	OpcodeTapVBucketSet      Opcode = 0x45
	OpcodeTapCheckpointStart Opcode = 0x46
	OpcodeTapCheckpointEnd   Opcode = 0x47
)

var opcodeNames = map[Opcode]string{
	OpcodeGet:                "GET",
	OpcodeSet:                "SET",
	OpcodeAdd:                "ADD",
	OpcodeReplace:            "REPLACE",
	OpcodeDelete:             "DELETE",
	OpcodeIncrement:          "INCREMENT",
	OpcodeDecrement:          "DECREMENT",
	OpcodeQuit:               "QUIT",
	OpcodeFlush:              "FLUSH",
	OpcodeGetQuietly:         "GETQ",
	OpcodeNoop:               "NOOP",
	OpcodeVersion:            "VERSION",
	OpcodeGetKey:             "GETK",
	OpcodeGetKeyQuietly:      "GETKQ",
	OpcodeAppend:             "APPEND",
	OpcodePrepend:            "PREPEND",
	OpcodeStat:               "STAT",
	OpcodeSetQuietly:         "SETQ",
	OpcodeAddQuietly:         "ADDQ",
	OpcodeReplaceQuietly:     "REPLACEQ",
	OpcodeDeleteQuietly:      "DELETEQ",
	OpcodeIncrementQuietly:   "INCREMENTQ",
	OpcodeDecrementQuietly:   "DECREMENTQ",
	OpcodeQuitQuietly:        "QUITQ",
	OpcodeFlushQuietly:       "FLUSHQ",
	OpcodeAppendQuietly:      "APPENDQ",
	OpcodePrependQuietly:     "PREPENDQ",
	OpcodeVerbosity:          "VERBOSITY",
	OpcodeTouch:              "TOUCH",
	OpcodeGetAndTouch:        "GAT",
	OpcodeGetAndTouchQuietly: "GATQ",
	OpcodeSaslListMechs:      "SASL_LIST_MECHS",
	OpcodeSaslAuth:           "SASL_AUTH",
	OpcodeSaslStep:           "SASL_STEP",
	OpcodeRGet:               "RGET",
	OpcodeRSet:               "RSET",
	OpcodeRSetQuietly:        "RSETQ",
	OpcodeRAppend:            "RAPPEND",
	OpcodeRAppendQuietly:     "RAPPENDQ",
	OpcodeRPrepend:           "RPREPEND",
	OpcodeRPrependQuietly:    "RPREPENDQ",
	OpcodeRDelete:            "RDELETE",
	OpcodeRDeleteQuietly:     "RDELETEQ",
	OpcodeRIncrement:         "RINCR",
	OpcodeRIncrementQuietly:  "RINCRQ",
	OpcodeRDecrement:         "RDECR",
	OpcodeRDecrementQuietly:  "RDECRQ",
	OpcodeSetVBucket:         "SET_VBUCKET",
	OpcodeGetVBucket:         "GET_VBUCKET",
	OpcodeDelVBucket:         "DEL_VBUCKET",
	OpcodeTapConnect:         "TAP_CONNECT",
	OpcodeTapMutation:        "TAP_MUTATION",
	OpcodeTapDelete:          "TAP_DELETE",
	OpcodeTapFlush:           "TAP_FLUSH",
	OpcodeTapOpaque:          "TAP_OPAQUE",
	OpcodeTapVBucketSet:      "TAP_VBUCKET_SET",
	OpcodeTapCheckpointStart: "TAP_CHECKPOINT_START",
	OpcodeTapCheckpointEnd:   "TAP_CHECKPOINT_END",
}

// Valid reports whether o is a known command code. Unknown codes on a
// decoded packet are a protocol error, never a silent default.
func (o Opcode) Valid() bool {
	_, ok := opcodeNames[o]
	return ok
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(0x%02x)", uint8(o))
}

// Status is a binary protocol response status code.
type Status uint16

// Response status codes. Only StatusNoError represents success.
const (
	StatusNoError                   Status = 0x0000
	StatusKeyNotFound               Status = 0x0001
	StatusKeyExists                 Status = 0x0002
	StatusValueTooLarge             Status = 0x0003
	StatusInvalidArguments          Status = 0x0004
	StatusItemNotStored             Status = 0x0005
	StatusIncrDecrOnNonNumericValue Status = 0x0006
	StatusVBucketBelongsToOther     Status = 0x0007
	StatusAuthenticationError       Status = 0x0008
	StatusAuthenticationContinue    Status = 0x0009
	StatusAuthenticationRequired    Status = 0x0020
	StatusAuthenticationStepNeeded  Status = 0x0021
	StatusUnknownCommand            Status = 0x0081
	StatusOutOfMemory               Status = 0x0082
	StatusNotSupported              Status = 0x0083
	StatusInternalError             Status = 0x0084
	StatusBusy                      Status = 0x0085
	StatusTemporaryFailure          Status = 0x0086
)

var statusDescs = map[Status]string{
	StatusNoError:                   "no error",
	StatusKeyNotFound:               "key not found",
	StatusKeyExists:                 "key exists",
	StatusValueTooLarge:             "value too large",
	StatusInvalidArguments:          "invalid arguments",
	StatusItemNotStored:             "item not stored",
	StatusIncrDecrOnNonNumericValue: "incr or decr on non-numeric value",
	StatusVBucketBelongsToOther:     "vbucket belongs to another server",
	StatusAuthenticationError:       "authentication error",
	StatusAuthenticationContinue:    "authentication continue",
	StatusAuthenticationRequired:    "authentication required/not successful",
	StatusAuthenticationStepNeeded:  "further authentication steps required",
	StatusUnknownCommand:            "unknown command",
	StatusOutOfMemory:               "out of memory",
	StatusNotSupported:              "not supported",
	StatusInternalError:             "internal error",
	StatusBusy:                      "busy",
	StatusTemporaryFailure:          "temporary failure",
}

// Valid reports whether s is a known status code.
func (s Status) Valid() bool {
	_, ok := statusDescs[s]
	return ok
}

func (s Status) String() string {
	if desc, ok := statusDescs[s]; ok {
		return desc
	}
	return fmt.Sprintf("Status(0x%04x)", uint16(s))
}

// DataType describes the encoding of a packet's value segment. The
// protocol reserves the field for future use; raw bytes is the only
// defined variant.
type DataType uint8

// DataTypeRawBytes is the only data type the protocol defines.
const DataTypeRawBytes DataType = 0x00

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool {
	return d == DataTypeRawBytes
}

func (d DataType) String() string {
	if d == DataTypeRawBytes {
		return "raw bytes"
	}
	return fmt.Sprintf("DataType(0x%02x)", uint8(d))
}

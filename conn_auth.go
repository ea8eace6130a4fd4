package binmc

import (
	"context"
	"strings"

	"github.com/binmc/binmc/binproto"
)

// AuthStatus is the outcome of one SASL exchange step.
type AuthStatus int

const (
	// AuthSucceeded means the server accepted the credentials.
	AuthSucceeded AuthStatus = iota
	// AuthContinue means the mechanism needs another step; the
	// challenge payload is in AuthResult.Data.
	AuthContinue
	// AuthFailed means the server rejected the credentials.
	AuthFailed
)

func (s AuthStatus) String() string {
	switch s {
	case AuthSucceeded:
		return "succeeded"
	case AuthContinue:
		return "continue"
	case AuthFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AuthResult is the server's answer to an authentication step.
type AuthResult struct {
	Status AuthStatus
	// Data carries the server's challenge for multi-step mechanisms,
	// or its informational message on success.
	Data []byte
}

// PlainAuthPayload encodes credentials for the SASL PLAIN mechanism:
// an empty authorization identity, then username and password, each
// preceded by a NUL byte.
func PlainAuthPayload(username, password string) []byte {
	payload := make([]byte, 0, len(username)+len(password)+2)
	payload = append(payload, 0)
	payload = append(payload, username...)
	payload = append(payload, 0)
	payload = append(payload, password...)
	return payload
}

// ListAuthMechanisms returns the SASL mechanisms the server supports.
func (c *Conn) ListAuthMechanisms(ctx context.Context) ([]string, error) {
	resp, err := c.roundTrip(ctx, binproto.OpcodeSaslListMechs, 0, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := statusErr(resp); err != nil {
		return nil, err
	}
	return strings.Fields(string(resp.Value)), nil
}

// AuthStart begins a SASL exchange with the given mechanism and
// initial payload.
func (c *Conn) AuthStart(ctx context.Context, mechanism string, payload []byte) (AuthResult, error) {
	return c.authExchange(ctx, binproto.OpcodeSaslAuth, mechanism, payload)
}

// AuthStep continues a multi-step SASL exchange with the response to
// the server's previous challenge.
func (c *Conn) AuthStep(ctx context.Context, mechanism string, payload []byte) (AuthResult, error) {
	return c.authExchange(ctx, binproto.OpcodeSaslStep, mechanism, payload)
}

// AuthPlain authenticates with the PLAIN mechanism. PLAIN is a
// single-step mechanism, so an AuthContinue outcome is unexpected and
// reported as a failure.
func (c *Conn) AuthPlain(ctx context.Context, username, password string) error {
	result, err := c.AuthStart(ctx, "PLAIN", PlainAuthPayload(username, password))
	if err != nil {
		return err
	}
	if result.Status != AuthSucceeded {
		return ErrAuthFailed
	}
	return nil
}

func (c *Conn) authExchange(ctx context.Context, op binproto.Opcode, mechanism string, payload []byte) (AuthResult, error) {
	resp, err := c.roundTrip(ctx, op, 0, nil, []byte(mechanism), payload)
	if err != nil {
		return AuthResult{}, err
	}

	switch resp.Header.Status {
	case binproto.StatusNoError:
		return AuthResult{Status: AuthSucceeded, Data: resp.Value}, nil
	case binproto.StatusAuthenticationStepNeeded, binproto.StatusAuthenticationContinue:
		return AuthResult{Status: AuthContinue, Data: resp.Value}, nil
	case binproto.StatusAuthenticationRequired, binproto.StatusAuthenticationError:
		return AuthResult{Status: AuthFailed, Data: resp.Value}, nil
	default:
		return AuthResult{}, binproto.NewServerError(resp.Header.Status, resp.Value)
	}
}

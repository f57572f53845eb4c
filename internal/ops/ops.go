// Package ops defines the shared response vocabulary for Fundi's operation
// services. Each operation lives in its own subpackage; this package holds
// the envelope builders they all speak.
//
// The API uses two error conventions side by side:
//
//   - The graceful convention: HTTP 200 with the failure described inside
//     the body, either under "result" or at the top level. Clients inspect
//     the embedded status/code.
//   - The hard convention: the HTTP status itself carries the failure and
//     the body is {"error": {"code": ...}, "status": ...}.
//
// Which convention applies is part of each endpoint's contract, so the
// services build their bodies explicitly from these helpers.
package ops

import "github.com/jkaninda/fundi/internal/sandbox"

// Cross-cutting error codes used by more than one operation.
const (
	CodeExecutionError   = "execution_error"
	CodeInternalError    = "internal_error"
	CodeConcurrentAccess = "concurrent_access"
	CodeTimeout          = "timeout"
)

// Result wraps a payload in the {"result": ...} envelope.
func Result(payload any) map[string]any {
	return map[string]any{"result": payload}
}

// Results wraps per-operation payloads in the {"results": [...]} envelope.
func Results(payloads []any) map[string]any {
	return map[string]any{"results": payloads}
}

// ErrorBody builds {"error": {"code": code}, "status": status}. It serves
// both conventions: embedded under "result" for graceful endpoints, or as
// the whole body for hard ones.
func ErrorBody(code string, status int) map[string]any {
	return map[string]any{
		"error":  map[string]any{"code": code},
		"status": status,
	}
}

// CodeError builds the bare {"error": {"code": code}} body used where the
// API reports a missing field without any status.
func CodeError(code string) map[string]any {
	return map[string]any{"error": map[string]any{"code": code}}
}

// Detail builds the {"detail": ...} body used by hard rejections that
// carry a message or nested payload instead of a code.
func Detail(v any) map[string]any {
	return map[string]any{"detail": v}
}

// ExecPayload converts a sandbox result into the wire form shared by the
// execution endpoints. Output is passed through untouched.
func ExecPayload(res *sandbox.ExecutionResult) map[string]any {
	return map[string]any{
		"stdout":    res.Stdout,
		"stderr":    res.Stderr,
		"exit_code": res.ExitCode,
	}
}

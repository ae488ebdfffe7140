// Copyright 2025 DBGate
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package base

import (
	"context"
	"errors"
)

// ErrorKind is the coarse error taxonomy surfaced to callers as error_type.
type ErrorKind string

const (
	KindConnection ErrorKind = "ConnectionError" // registration/lookup/pool failures
	KindSecurity   ErrorKind = "SecurityError"   // validator rejection
	KindQuery      ErrorKind = "QueryError"      // backend failure during execution
	KindTimeout    ErrorKind = "TimeoutError"    // operation exceeded its bound
	KindValidation ErrorKind = "ValidationError" // structurally malformed input
)

// Detail codes carried alongside the kind.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeInvalidParameters  = "INVALID_PARAMETERS"
	CodeBackendUnreachable = "BACKEND_UNREACHABLE"
	CodeEmptyQuery         = "EMPTY_QUERY"
	CodeParamMismatch      = "PARAM_COUNT_MISMATCH"
	CodeTimeout            = "TIMEOUT"
)

// Policy codes produced by the security validator.
const (
	CodeQueryTooLong          = "QUERY_TOO_LONG"
	CodeOperationNotAllowed   = "OPERATION_NOT_ALLOWED"
	CodeReadonlyModeViolation = "READONLY_MODE_VIOLATION"
	CodeBlockedKeyword        = "BLOCKED_KEYWORD"
	CodeDangerousPattern      = "DANGEROUS_PATTERN"
	CodeSecurityRisk          = "SECURITY_RISK"
)

// Error is the gateway error type. It carries the taxonomy kind, a detail
// code, a human message, and the wrapped cause when one exists.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + "[" + e.Code + "]: " + e.Message + " (cause: " + e.Cause.Error() + ")"
	}
	return string(e.Kind) + "[" + e.Code + "]: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a gateway error.
func NewError(kind ErrorKind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// NewConnectionError creates a ConnectionError-kind error.
func NewConnectionError(code, message string, cause error) *Error {
	return NewError(KindConnection, code, message, cause)
}

// NewSecurityError creates a SecurityError-kind error with a policy code.
func NewSecurityError(code, message string) *Error {
	return NewError(KindSecurity, code, message, nil)
}

// NewQueryError creates a QueryError-kind error.
func NewQueryError(message string, cause error) *Error {
	return NewError(KindQuery, "QUERY_FAILED", message, cause)
}

// NewTimeoutError creates a TimeoutError-kind error.
func NewTimeoutError(message string, cause error) *Error {
	return NewError(KindTimeout, CodeTimeout, message, cause)
}

// NewValidationError creates a ValidationError-kind error.
func NewValidationError(code, message string) *Error {
	return NewError(KindValidation, code, message, nil)
}

// KindOf classifies an arbitrary error into the taxonomy. Context deadline
// and cancellation map to TimeoutError so callers can apply backpressure
// instead of treating exhaustion like a broken query.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindQuery
}

// CodeOf extracts the detail code, or empty when the error is not ours.
func CodeOf(err error) string {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeTimeout
	}
	return ""
}

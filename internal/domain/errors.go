package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrLimitReached     = fmt.Errorf("limit reached")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrDisabled         = fmt.Errorf("disabled")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrProviderError    = fmt.Errorf("provider error")
)

// Sentinel errors for the FXServer supervisor and its collaborators.
var (
	ErrAlreadyRunning      = fmt.Errorf("the server is already started")
	ErrNotRunning          = fmt.Errorf("the server is not running")
	ErrMissingConfig       = fmt.Errorf("missing server configuration")
	ErrUnsupportedPlatform = fmt.Errorf("unsupported platform")
	ErrPortDetection       = fmt.Errorf("could not detect server port")
	ErrCommandFailed       = fmt.Errorf("could not write command to server")
	ErrRestartFailed       = fmt.Errorf("could not restart the server")
	ErrCaptureBusy         = fmt.Errorf("another command capture is in progress")
	ErrConfigLoad          = fmt.Errorf("failed to load configuration")
	ErrDecryption          = fmt.Errorf("decryption failed")
	ErrAuditWrite          = fmt.Errorf("audit log write failed")
	ErrAnnounceFailed      = fmt.Errorf("announcement failed")
	ErrRateLimit           = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid         = fmt.Errorf("authentication failed")

	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Runner.Spawn")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "fxrunner", "announce"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrCaptureBusy) || errors.Is(err, ErrTimeout)
}

// ErrorCode is a machine-parseable error category for monitoring and API responses.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeAlreadyRunning      ErrorCode = "ALREADY_RUNNING"
	CodeNotRunning          ErrorCode = "NOT_RUNNING"
	CodeMissingConfig       ErrorCode = "MISSING_CONFIG"
	CodeUnsupportedPlatform ErrorCode = "UNSUPPORTED_PLATFORM"
	CodePortDetection       ErrorCode = "PORT_DETECTION"
	CodeCommandFailed       ErrorCode = "COMMAND_FAILED"
	CodeRestartFailed       ErrorCode = "RESTART_FAILED"
	CodeCaptureBusy         ErrorCode = "CAPTURE_BUSY"
	CodeConfigLoad          ErrorCode = "CONFIG_LOAD"
	CodeDecryption          ErrorCode = "DECRYPTION"
	CodeAuditWrite          ErrorCode = "AUDIT_WRITE"
	CodeAnnounceFailed      ErrorCode = "ANNOUNCE_FAILED"
	CodeRateLimit           ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid         ErrorCode = "AUTH_INVALID"
	CodeGatewayAuth         ErrorCode = "GATEWAY_AUTH"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeAuditNotFound     ErrorCode = "AUDIT_NOT_FOUND"
	CodeScheduleInvalid   ErrorCode = "SCHEDULE_INVALID"
	CodeLocaleNotFound    ErrorCode = "LOCALE_NOT_FOUND"
	CodeAnnounceDisabled  ErrorCode = "ANNOUNCE_DISABLED"
	CodeCommandInvalid    ErrorCode = "COMMAND_INVALID"
	CodeProcessStdinClose ErrorCode = "PROCESS_STDIN_CLOSED"

	// Category error codes: fallback codes when no subsystem-specific code matches.
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeLimitReached     ErrorCode = "LIMIT_REACHED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeDisabled         ErrorCode = "DISABLED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrTimeout:          CodeTimeout,
	ErrLimitReached:     CodeLimitReached,
	ErrPermissionDenied: CodePermissionDenied,
	ErrDisabled:         CodeDisabled,
	ErrInvalidInput:     CodeInvalidInput,
	ErrProviderError:    CodeProviderError,

	ErrAlreadyRunning:      CodeAlreadyRunning,
	ErrNotRunning:          CodeNotRunning,
	ErrMissingConfig:       CodeMissingConfig,
	ErrUnsupportedPlatform: CodeUnsupportedPlatform,
	ErrPortDetection:       CodePortDetection,
	ErrCommandFailed:       CodeCommandFailed,
	ErrRestartFailed:       CodeRestartFailed,
	ErrCaptureBusy:         CodeCaptureBusy,
	ErrConfigLoad:          CodeConfigLoad,
	ErrDecryption:          CodeDecryption,
	ErrAuditWrite:          CodeAuditWrite,
	ErrAnnounceFailed:      CodeAnnounceFailed,
	ErrRateLimit:           CodeRateLimit,
	ErrAuthInvalid:         CodeAuthInvalid,
	ErrGatewayAuthFailed:   CodeGatewayAuth,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"audit": CodeAuditNotFound,
		"i18n":  CodeLocaleNotFound,
	},
	ErrInvalidInput: {
		"scheduling": CodeScheduleInvalid,
		"fxrunner":   CodeCommandInvalid,
	},
	ErrDisabled: {
		"announce": CodeAnnounceDisabled,
	},
	ErrProviderError: {
		"fxrunner": CodeProcessStdinClose,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	// ErrGatewayAuthFailed wraps ErrAuthInvalid, so check the more specific one first.
	if errors.Is(err, ErrGatewayAuthFailed) {
		return CodeGatewayAuth
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}

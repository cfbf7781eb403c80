package toolctl

import (
	"reflect"
	"regexp"
)

// Error taxonomy codes. Stable strings, not iota, so they round-trip through
// state-store persistence and cross language ports unchanged.
const (
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeValidationError   = "VALIDATION_ERROR"
	CodeNetworkError      = "NETWORK_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeSizeLimitExceeded = "SIZE_LIMIT_EXCEEDED"
	CodeMaxCapacity       = "MAX_CAPACITY"
	CodeUnknownError      = "UNKNOWN_ERROR"
)

// fatalCodes are never retried by the Retry Engine's default decision; a
// RetryClassifier's non-nil decision still overrides it (see decideRetry).
var fatalCodes = map[string]bool{
	CodeUnauthorized:      true,
	CodeInvalidRequest:    true,
	CodeValidationError:   true,
	CodeNotFound:          true,
	CodeSizeLimitExceeded: true,
}

// Failure is the single exported error type returned by every gate and by
// the orchestrator's final attempt. Callers use errors.Is against the
// sentinels in errors.go, or inspect Code/StatusCode directly.
type Failure struct {
	Message    string
	Code       string
	StatusCode int // 0 means absent/unknown.
	Cause      error
}

func (f *Failure) Error() string {
	return f.Message
}

// Unwrap exposes Cause so errors.Is(err, ErrBudgetExceeded) and similar
// sentinel checks work through the standard errors package.
func (f *Failure) Unwrap() error {
	return f.Cause
}

func newFailure(code, message string, statusCode int, cause error) *Failure {
	return &Failure{Message: message, Code: code, StatusCode: statusCode, Cause: cause}
}

// statusCoder is implemented by executor errors that expose a numeric
// status, mirroring the common Go convention of a StatusCode() accessor.
type statusCoder interface {
	StatusCode() int
}

type statusAccessor interface {
	Status() int
}

// extractStatusCode probes, in order: a StatusCode() int method, a Status()
// int method, then exported StatusCode/Status struct fields (covering
// executor errors built as plain structs rather than through an interface).
func extractStatusCode(err error) int {
	if err == nil {
		return 0
	}
	if sc, ok := err.(statusCoder); ok {
		return sc.StatusCode()
	}
	if sa, ok := err.(statusAccessor); ok {
		return sa.Status()
	}

	rv := reflect.ValueOf(err)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return 0
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return 0
	}
	for _, name := range []string{"StatusCode", "Status"} {
		f := rv.FieldByName(name)
		if f.IsValid() && f.CanInt() {
			return int(f.Int())
		}
	}
	return 0
}

// transientPattern matches error messages that indicate a transient,
// retry-worthy network condition when no usable status code is present.
var transientPattern = regexp.MustCompile(`(?i)timeout|econnreset|eai_again|enotfound|network|socket|rate limit|temporar`)

// NormalizeFailure classifies an arbitrary executor error into a *Failure.
// A *Failure passed in is returned unchanged (already carries a code).
// cancelledByCaller and didTimeout take precedence over message sniffing,
// matching the timeout guard's three-way split in §4.14.
func NormalizeFailure(err error, cancelledByCaller, didTimeout bool) *Failure {
	if err == nil {
		return nil
	}
	if f, ok := err.(*Failure); ok {
		return f
	}

	statusCode := extractStatusCode(err)

	if cancelledByCaller {
		return newFailure(CodeNetworkError, "cancelled by caller", statusCode, ErrCancelled)
	}
	if didTimeout {
		return newFailure(CodeNetworkError, "timed out", statusCode, ErrTimedOut)
	}

	msg := err.Error()
	if statusCode == 408 || statusCode == 429 || statusCode >= 500 {
		return newFailure(CodeNetworkError, msg, statusCode, nil)
	}
	if transientPattern.MatchString(msg) {
		return newFailure(CodeNetworkError, msg, statusCode, nil)
	}
	return newFailure(CodeUnknownError, msg, statusCode, nil)
}

// isDefaultRetryable implements the Retry Engine's default classification:
// not cancelled, and either a retry-worthy status or a NETWORK_ERROR code.
func isDefaultRetryable(f *Failure, cancelledByCaller bool) bool {
	if cancelledByCaller || f == nil {
		return false
	}
	if fatalCodes[f.Code] {
		return false
	}
	if f.StatusCode == 408 || f.StatusCode == 429 || f.StatusCode >= 500 {
		return true
	}
	return f.Code == CodeNetworkError
}

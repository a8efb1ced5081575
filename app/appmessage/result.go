package appmessage

import "fmt"

// ResultCode classifies the outcome carried by a response.
type ResultCode string

// Result codes attached to responses, whether received or synthesized.
const (
	ResultCodeOK                 ResultCode = "OK"
	ResultCodeFiltered           ResultCode = "Filtered"
	ResultCodeFormationViolation ResultCode = "FormationViolation"
	ResultCodeTimeout            ResultCode = "Timeout"
	ResultCodeNetworkError       ResultCode = "NetworkError"
	ResultCodeSignatureError     ResultCode = "SignatureError"
	ResultCodeRejected           ResultCode = "Rejected"
	ResultCodeNotImplemented     ResultCode = "NotImplemented"
	ResultCodeGenericError       ResultCode = "GenericError"
)

// Result is the outcome attached to a response along with a human-readable
// reason.
type Result struct {
	Code        ResultCode
	Description string
	Details     string
}

// NewResult creates a Result.
func NewResult(code ResultCode, description string) *Result {
	return &Result{Code: code, Description: description}
}

// OKResult is the result of a response received and parsed successfully.
func OKResult() *Result {
	return &Result{Code: ResultCodeOK}
}

// FilteredResult tags responses synthesized for rejected or dropped requests.
func FilteredResult(description string) *Result {
	return &Result{Code: ResultCodeFiltered, Description: description}
}

// WithDetails returns a copy of r carrying the given details.
func (r *Result) WithDetails(details string) *Result {
	copied := *r
	copied.Details = details
	return &copied
}

// IsOK reports whether r is an OK result.
func (r *Result) IsOK() bool {
	return r != nil && r.Code == ResultCodeOK
}

func (r *Result) String() string {
	if r == nil {
		return "<no result>"
	}
	if r.Description == "" {
		return string(r.Code)
	}
	if r.Details == "" {
		return fmt.Sprintf("%s: %s", r.Code, r.Description)
	}
	return fmt.Sprintf("%s: %s (%s)", r.Code, r.Description, r.Details)
}

// ErrorCode is the error code of an error response on the wire.
type ErrorCode string

// Error codes understood by every protocol revision.
const (
	ErrorCodeFormatViolation               ErrorCode = "FormatViolation"
	ErrorCodeFormationViolation            ErrorCode = "FormationViolation"
	ErrorCodeGenericError                  ErrorCode = "GenericError"
	ErrorCodeInternalError                 ErrorCode = "InternalError"
	ErrorCodeMessageTypeNotSupported       ErrorCode = "MessageTypeNotSupported"
	ErrorCodeNotImplemented                ErrorCode = "NotImplemented"
	ErrorCodeNotSupported                  ErrorCode = "NotSupported"
	ErrorCodeOccurrenceConstraintViolation ErrorCode = "OccurrenceConstraintViolation"
	ErrorCodePropertyConstraintViolation   ErrorCode = "PropertyConstraintViolation"
	ErrorCodeProtocolError                 ErrorCode = "ProtocolError"
	ErrorCodeRPCFrameworkError             ErrorCode = "RpcFrameworkError"
	ErrorCodeSecurityError                 ErrorCode = "SecurityError"
	ErrorCodeTypeConstraintViolation       ErrorCode = "TypeConstraintViolation"
	ErrorCodeTimeout                       ErrorCode = "Timeout"
	ErrorCodeNetworkError                  ErrorCode = "NetworkError"
)

// ResultCodeFromErrorCode classifies a received error response.
func ResultCodeFromErrorCode(code ErrorCode) ResultCode {
	switch code {
	case ErrorCodeFormatViolation, ErrorCodeFormationViolation, ErrorCodeTypeConstraintViolation,
		ErrorCodeOccurrenceConstraintViolation, ErrorCodePropertyConstraintViolation, ErrorCodeProtocolError:
		return ResultCodeFormationViolation
	case ErrorCodeSecurityError:
		return ResultCodeSignatureError
	case ErrorCodeNotImplemented, ErrorCodeNotSupported, ErrorCodeMessageTypeNotSupported:
		return ResultCodeNotImplemented
	case ErrorCodeTimeout:
		return ResultCodeTimeout
	case ErrorCodeNetworkError:
		return ResultCodeNetworkError
	default:
		return ResultCodeGenericError
	}
}

// ErrorCodeFromResultCode is the inverse classification used when a
// synthesized response has to be written as an error frame.
func ErrorCodeFromResultCode(code ResultCode) ErrorCode {
	switch code {
	case ResultCodeFormationViolation:
		return ErrorCodeFormatViolation
	case ResultCodeSignatureError:
		return ErrorCodeSecurityError
	case ResultCodeNotImplemented:
		return ErrorCodeNotImplemented
	case ResultCodeTimeout:
		return ErrorCodeTimeout
	case ResultCodeNetworkError:
		return ErrorCodeNetworkError
	case ResultCodeFiltered, ResultCodeRejected:
		return ErrorCodeSecurityError
	default:
		return ErrorCodeGenericError
	}
}

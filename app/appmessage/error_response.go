package appmessage

import (
	"encoding/json"
)

// ErrorResponse is the response to a request no typed response can be built
// for, e.g. because the request could not be parsed or its action is not
// known.
type ErrorResponse struct {
	ResponseHeader
	Action           Action    `json:"-"`
	ErrorCode        ErrorCode `json:"errorCode"`
	ErrorDescription string    `json:"errorDescription"`
	ErrorDetails     string    `json:"errorDetails,omitempty"`
}

// NewErrorResponse creates an ErrorResponse answering request.
func NewErrorResponse(request *RequestEnvelope, result *Result) *ErrorResponse {
	return &ErrorResponse{
		ResponseHeader:   NewResponseHeaderFromEnvelope(NewErrorResponseEnvelope(request, result)),
		Action:           request.Action,
		ErrorCode:        ErrorCodeFromResultCode(result.Code),
		ErrorDescription: result.Description,
		ErrorDetails:     result.Details,
	}
}

// Envelope returns the error frame of the response.
func (r *ErrorResponse) Envelope() *ResponseEnvelope {
	header := r.Header()
	return &ResponseEnvelope{
		RequestID:           header.RequestID,
		Destination:         header.Destination,
		NetworkPath:         header.NetworkPath,
		ErrorCode:           r.ErrorCode,
		ErrorDescription:    r.ErrorDescription,
		ErrorDetails:        detailsJSON(r.ErrorDetails),
		ResponseTimestamp:   header.ResponseTimestamp,
		EventTrackingID:     header.EventTrackingID,
		SerializationFormat: header.SerializationFormat,
		Result:              header.Result,
	}
}

// detailsJSON wraps free-form details into the JSON object error frames
// carry.
func detailsJSON(details string) []byte {
	if details == "" {
		return []byte("{}")
	}
	encoded, err := json.Marshal(map[string]string{"details": details})
	if err != nil {
		return []byte("{}")
	}
	return encoded
}

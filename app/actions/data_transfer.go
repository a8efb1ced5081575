package actions

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/forwarding"
	"github.com/voltgrid/relayd/app/wireformat"
)

// ActionDataTransfer carries vendor specific data.
const ActionDataTransfer appmessage.Action = "DataTransfer"

const maxVendorIDLength = 255

// DataTransferStatus is the outcome of a data transfer.
type DataTransferStatus string

// Data transfer statuses.
const (
	DataTransferAccepted         DataTransferStatus = "Accepted"
	DataTransferRejected         DataTransferStatus = "Rejected"
	DataTransferUnknownMessageID DataTransferStatus = "UnknownMessageId"
	DataTransferUnknownVendorID  DataTransferStatus = "UnknownVendorId"
)

// DataTransferRequest is the request of ActionDataTransfer.
type DataTransferRequest struct {
	appmessage.RequestHeader
	VendorID  string          `json:"vendorId"`
	MessageID string          `json:"messageId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewDataTransferRequest creates a request for destination.
func NewDataTransferRequest(destination appmessage.NodeID, vendorID, messageID string,
	data json.RawMessage) *DataTransferRequest {

	request := &DataTransferRequest{VendorID: vendorID, MessageID: messageID, Data: data}
	request.Destination = destination
	return request
}

// Action returns the protocol action of the message
func (r *DataTransferRequest) Action() appmessage.Action {
	return ActionDataTransfer
}

func (r *DataTransferRequest) validate() error {
	if r.VendorID == "" || len(r.VendorID) > maxVendorIDLength {
		return errors.Errorf("vendorId must have 1 to %d characters", maxVendorIDLength)
	}
	if len(r.Data) > 0 && !json.Valid(r.Data) {
		return errors.New("data is not valid JSON")
	}
	return nil
}

const (
	dataTransferFieldVendorID  uint16 = 1
	dataTransferFieldMessageID uint16 = 2
	dataTransferFieldData      uint16 = 3
)

func (r *DataTransferRequest) tlvFields() []wireformat.TLVField {
	fields := []wireformat.TLVField{wireformat.TLVString(dataTransferFieldVendorID, r.VendorID)}
	if r.MessageID != "" {
		fields = append(fields, wireformat.TLVString(dataTransferFieldMessageID, r.MessageID))
	}
	if len(r.Data) > 0 {
		fields = append(fields, wireformat.TLVBytes(dataTransferFieldData, r.Data))
	}
	return fields
}

func (r *DataTransferRequest) parseTLV(fields wireformat.TLVFields) (err error) {
	if r.VendorID, err = fields.Text(dataTransferFieldVendorID, true); err != nil {
		return err
	}
	if r.MessageID, err = fields.Text(dataTransferFieldMessageID, false); err != nil {
		return err
	}
	r.Data, err = fields.Bytes(dataTransferFieldData, false)
	return err
}

// DataTransferResponse is the response of ActionDataTransfer.
type DataTransferResponse struct {
	appmessage.ResponseHeader
	Status DataTransferStatus `json:"status"`
	Data   json.RawMessage    `json:"data,omitempty"`
}

// NewDataTransferResponse answers request.
func NewDataTransferResponse(request *DataTransferRequest, status DataTransferStatus,
	data json.RawMessage) *DataTransferResponse {

	return &DataTransferResponse{
		ResponseHeader: appmessage.NewResponseHeaderFor(request.Header(), appmessage.OKResult()),
		Status:         status,
		Data:           data,
	}
}

func (r *DataTransferResponse) validate() error {
	switch r.Status {
	case DataTransferAccepted, DataTransferRejected, DataTransferUnknownMessageID, DataTransferUnknownVendorID:
	default:
		return errors.Errorf("unknown data transfer status %q", r.Status)
	}
	if len(r.Data) > 0 && !json.Valid(r.Data) {
		return errors.New("data is not valid JSON")
	}
	return nil
}

const (
	dataTransferResponseFieldStatus uint16 = 1
	dataTransferResponseFieldData   uint16 = 2
)

func (r *DataTransferResponse) tlvFields() []wireformat.TLVField {
	fields := []wireformat.TLVField{wireformat.TLVString(dataTransferResponseFieldStatus, string(r.Status))}
	if len(r.Data) > 0 {
		fields = append(fields, wireformat.TLVBytes(dataTransferResponseFieldData, r.Data))
	}
	return fields
}

func (r *DataTransferResponse) parseTLV(fields wireformat.TLVFields) error {
	status, err := fields.Text(dataTransferResponseFieldStatus, true)
	if err != nil {
		return err
	}
	r.Status = DataTransferStatus(status)
	r.Data, err = fields.Bytes(dataTransferResponseFieldData, false)
	return err
}

// DataTransferCodec parses and serializes DataTransfer messages.
var DataTransferCodec forwarding.ActionCodec[*DataTransferRequest, *DataTransferResponse] = &codec[*DataTransferRequest, *DataTransferResponse]{
	action: ActionDataTransfer,
	newRequest: func(header appmessage.RequestHeader) *DataTransferRequest {
		return &DataTransferRequest{RequestHeader: header}
	},
	newResponse: func(header appmessage.ResponseHeader) *DataTransferResponse {
		return &DataTransferResponse{ResponseHeader: header}
	},
	filtered: func(request *DataTransferRequest, result *appmessage.Result) *DataTransferResponse {
		return &DataTransferResponse{
			ResponseHeader: appmessage.NewResponseHeaderFor(request.Header(), result),
			Status:         DataTransferRejected,
		}
	},
}

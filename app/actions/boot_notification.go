package actions

import (
	"time"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/forwarding"
	"github.com/voltgrid/relayd/app/wireformat"
)

// ActionBootNotification is sent by a charging station after start-up.
const ActionBootNotification appmessage.Action = "BootNotification"

// BootReason is why a charging station booted.
type BootReason string

// Boot reasons.
const (
	BootReasonApplicationReset BootReason = "ApplicationReset"
	BootReasonFirmwareUpdate   BootReason = "FirmwareUpdate"
	BootReasonLocalReset       BootReason = "LocalReset"
	BootReasonPowerUp          BootReason = "PowerUp"
	BootReasonRemoteReset      BootReason = "RemoteReset"
	BootReasonScheduledReset   BootReason = "ScheduledReset"
	BootReasonTriggered        BootReason = "Triggered"
	BootReasonUnknown          BootReason = "Unknown"
	BootReasonWatchdog         BootReason = "Watchdog"
)

var bootReasons = map[BootReason]struct{}{
	BootReasonApplicationReset: {}, BootReasonFirmwareUpdate: {}, BootReasonLocalReset: {},
	BootReasonPowerUp: {}, BootReasonRemoteReset: {}, BootReasonScheduledReset: {},
	BootReasonTriggered: {}, BootReasonUnknown: {}, BootReasonWatchdog: {},
}

// RegistrationStatus is the management system's answer to a boot
// notification.
type RegistrationStatus string

// Registration statuses.
const (
	RegistrationAccepted RegistrationStatus = "Accepted"
	RegistrationPending  RegistrationStatus = "Pending"
	RegistrationRejected RegistrationStatus = "Rejected"
)

// ChargingStation describes the booting station.
type ChargingStation struct {
	Model           string `json:"model"`
	VendorName      string `json:"vendorName"`
	SerialNumber    string `json:"serialNumber,omitempty"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
}

// BootNotificationRequest is the request of ActionBootNotification.
type BootNotificationRequest struct {
	appmessage.RequestHeader
	ChargingStation ChargingStation `json:"chargingStation"`
	Reason          BootReason      `json:"reason"`
}

// NewBootNotificationRequest creates a request for destination.
func NewBootNotificationRequest(destination appmessage.NodeID, station ChargingStation,
	reason BootReason) *BootNotificationRequest {

	request := &BootNotificationRequest{ChargingStation: station, Reason: reason}
	request.Destination = destination
	return request
}

// Action returns the protocol action of the message
func (r *BootNotificationRequest) Action() appmessage.Action {
	return ActionBootNotification
}

func (r *BootNotificationRequest) validate() error {
	if r.ChargingStation.Model == "" || r.ChargingStation.VendorName == "" {
		return errors.New("chargingStation.model and chargingStation.vendorName are required")
	}
	if len(r.ChargingStation.Model) > 20 || len(r.ChargingStation.VendorName) > 50 {
		return errors.New("chargingStation.model or chargingStation.vendorName is too long")
	}
	if _, ok := bootReasons[r.Reason]; !ok {
		return errors.Errorf("unknown boot reason %q", r.Reason)
	}
	return nil
}

const (
	bootFieldModel           uint16 = 1
	bootFieldVendorName      uint16 = 2
	bootFieldSerialNumber    uint16 = 3
	bootFieldFirmwareVersion uint16 = 4
	bootFieldReason          uint16 = 5
)

func (r *BootNotificationRequest) tlvFields() []wireformat.TLVField {
	fields := []wireformat.TLVField{
		wireformat.TLVString(bootFieldModel, r.ChargingStation.Model),
		wireformat.TLVString(bootFieldVendorName, r.ChargingStation.VendorName),
		wireformat.TLVString(bootFieldReason, string(r.Reason)),
	}
	if r.ChargingStation.SerialNumber != "" {
		fields = append(fields, wireformat.TLVString(bootFieldSerialNumber, r.ChargingStation.SerialNumber))
	}
	if r.ChargingStation.FirmwareVersion != "" {
		fields = append(fields, wireformat.TLVString(bootFieldFirmwareVersion, r.ChargingStation.FirmwareVersion))
	}
	return fields
}

func (r *BootNotificationRequest) parseTLV(fields wireformat.TLVFields) (err error) {
	if r.ChargingStation.Model, err = fields.Text(bootFieldModel, true); err != nil {
		return err
	}
	if r.ChargingStation.VendorName, err = fields.Text(bootFieldVendorName, true); err != nil {
		return err
	}
	if r.ChargingStation.SerialNumber, err = fields.Text(bootFieldSerialNumber, false); err != nil {
		return err
	}
	if r.ChargingStation.FirmwareVersion, err = fields.Text(bootFieldFirmwareVersion, false); err != nil {
		return err
	}
	reason, err := fields.Text(bootFieldReason, true)
	r.Reason = BootReason(reason)
	return err
}

// BootNotificationResponse is the response of ActionBootNotification.
type BootNotificationResponse struct {
	appmessage.ResponseHeader
	CurrentTime time.Time          `json:"currentTime"`
	Interval    uint32             `json:"interval"`
	Status      RegistrationStatus `json:"status"`
}

// NewBootNotificationResponse answers request.
func NewBootNotificationResponse(request *BootNotificationRequest, status RegistrationStatus,
	interval time.Duration) *BootNotificationResponse {

	return &BootNotificationResponse{
		ResponseHeader: appmessage.NewResponseHeaderFor(request.Header(), appmessage.OKResult()),
		CurrentTime:    time.Now().UTC(),
		Interval:       uint32(interval / time.Second),
		Status:         status,
	}
}

func (r *BootNotificationResponse) validate() error {
	switch r.Status {
	case RegistrationAccepted, RegistrationPending, RegistrationRejected:
		return nil
	default:
		return errors.Errorf("unknown registration status %q", r.Status)
	}
}

const (
	bootResponseFieldCurrentTime uint16 = 1
	bootResponseFieldInterval    uint16 = 2
	bootResponseFieldStatus      uint16 = 3
)

func (r *BootNotificationResponse) tlvFields() []wireformat.TLVField {
	return []wireformat.TLVField{
		wireformat.TLVUint64(bootResponseFieldCurrentTime, uint64(r.CurrentTime.UnixMilli())),
		wireformat.TLVUint32(bootResponseFieldInterval, r.Interval),
		wireformat.TLVString(bootResponseFieldStatus, string(r.Status)),
	}
}

func (r *BootNotificationResponse) parseTLV(fields wireformat.TLVFields) error {
	currentTime, err := fields.Uint64(bootResponseFieldCurrentTime)
	if err != nil {
		return err
	}
	r.CurrentTime = time.UnixMilli(int64(currentTime)).UTC()
	if r.Interval, err = fields.Uint32(bootResponseFieldInterval); err != nil {
		return err
	}
	status, err := fields.Text(bootResponseFieldStatus, true)
	r.Status = RegistrationStatus(status)
	return err
}

// BootNotificationCodec parses and serializes BootNotification messages.
var BootNotificationCodec forwarding.ActionCodec[*BootNotificationRequest, *BootNotificationResponse] = &codec[*BootNotificationRequest, *BootNotificationResponse]{
	action: ActionBootNotification,
	newRequest: func(header appmessage.RequestHeader) *BootNotificationRequest {
		return &BootNotificationRequest{RequestHeader: header}
	},
	newResponse: func(header appmessage.ResponseHeader) *BootNotificationResponse {
		return &BootNotificationResponse{ResponseHeader: header}
	},
	filtered: func(request *BootNotificationRequest, result *appmessage.Result) *BootNotificationResponse {
		return &BootNotificationResponse{
			ResponseHeader: appmessage.NewResponseHeaderFor(request.Header(), result),
			CurrentTime:    time.Now().UTC(),
			Status:         RegistrationRejected,
		}
	},
}

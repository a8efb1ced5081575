package actions

import (
	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/forwarding"
	"github.com/voltgrid/relayd/app/wireformat"
)

// Compact ids of the actions of this package in BinaryCompact frames.
const (
	BootNotificationCompactID uint16 = 0x0001
	HeartbeatCompactID        uint16 = 0x0002
	DataTransferCompactID     uint16 = 0x0003
)

func init() {
	compactIDs := []struct {
		action appmessage.Action
		id     uint16
	}{
		{ActionBootNotification, BootNotificationCompactID},
		{ActionHeartbeat, HeartbeatCompactID},
		{ActionDataTransfer, DataTransferCompactID},
	}
	for _, compactID := range compactIDs {
		err := wireformat.RegisterActionID(compactID.action, compactID.id)
		if err != nil {
			panic(err)
		}
	}
}

// Pipelines holds the forwarding pipelines of every action of this package.
type Pipelines struct {
	BootNotification *forwarding.Pipeline[*BootNotificationRequest, *BootNotificationResponse]
	Heartbeat        *forwarding.Pipeline[*HeartbeatRequest, *HeartbeatResponse]
	DataTransfer     *forwarding.Pipeline[*DataTransferRequest, *DataTransferResponse]
}

// RegisterAll registers every action of this package on engine.
func RegisterAll(engine *forwarding.Engine) (*Pipelines, error) {
	var err error
	pipelines := &Pipelines{}

	pipelines.BootNotification, err = forwarding.Register(engine, BootNotificationCodec)
	if err != nil {
		return nil, errors.Wrapf(err, "could not register %s", ActionBootNotification)
	}
	pipelines.Heartbeat, err = forwarding.Register(engine, HeartbeatCodec)
	if err != nil {
		return nil, errors.Wrapf(err, "could not register %s", ActionHeartbeat)
	}
	pipelines.DataTransfer, err = forwarding.Register(engine, DataTransferCodec)
	if err != nil {
		return nil, errors.Wrapf(err, "could not register %s", ActionDataTransfer)
	}

	log.Debugf("Registered actions %s", engine.Actions())
	return pipelines, nil
}

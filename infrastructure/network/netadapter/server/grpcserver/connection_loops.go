package grpcserver

import (
	"io"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/wireformat"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/router"
)

func (c *gRPCConnection) connectionLoops() error {
	errChan := make(chan error, 2) // buffered channel because one of the loops might try write after disconnect

	spawn("gRPCConnection.receiveLoop", func() { errChan <- c.receiveLoop() })
	spawn("gRPCConnection.sendLoop", func() { errChan <- c.sendLoop() })

	err := <-errChan

	c.Disconnect()
	return err
}

func (c *gRPCConnection) sendLoop() error {
	for c.IsConnected() {
		frame, err := c.router.OutgoingRoute().Dequeue()
		if err != nil {
			if errors.Is(err, router.ErrRouteClosed) {
				return nil
			}
			return err
		}
		err = c.send(frame.Data)
		if err != nil {
			if !c.IsConnected() {
				return nil
			}
			return errors.Wrapf(err, "sending to %s", c)
		}
	}
	return nil
}

func (c *gRPCConnection) receiveLoop() error {
	for c.IsConnected() {
		data, err := c.receive()
		if err != nil {
			if errors.Is(err, io.EOF) || !c.IsConnected() {
				return nil
			}
			return errors.Wrapf(err, "receiving from %s", c)
		}
		err = c.router.EnqueueIncomingFrame(wireformat.FrameFromBytes(data))
		if err != nil {
			if errors.Is(err, router.ErrRouteClosed) {
				return nil
			}
			if c.onInvalidFrameHandler != nil {
				c.onInvalidFrameHandler(err)
			}
			log.Warnf("Dropped a frame from %s: %s", c, err)
		}
	}
	return nil
}

package wsserver

import (
	"github.com/coder/websocket"
	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/wireformat"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/router"
)

func (c *wsConnection) connectionLoops() error {
	errChan := make(chan error, 2) // buffered channel because one of the loops might try write after disconnect

	spawn("wsConnection.receiveLoop", func() { errChan <- c.receiveLoop() })
	spawn("wsConnection.sendLoop", func() { errChan <- c.sendLoop() })

	err := <-errChan

	c.Disconnect()
	return err
}

func (c *wsConnection) sendLoop() error {
	for c.IsConnected() {
		frame, err := c.router.OutgoingRoute().Dequeue()
		if err != nil {
			if errors.Is(err, router.ErrRouteClosed) {
				return nil
			}
			return err
		}
		messageType := websocket.MessageText
		if frame.Binary {
			messageType = websocket.MessageBinary
		}
		err = c.conn.Write(c.ctx, messageType, frame.Data)
		if err != nil {
			if !c.IsConnected() {
				return nil
			}
			return errors.Wrapf(err, "writing to %s", c)
		}
	}
	return nil
}

func (c *wsConnection) receiveLoop() error {
	for c.IsConnected() {
		messageType, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if !c.IsConnected() {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return errors.Wrapf(err, "reading from %s", c)
		}
		frame := wireformat.Frame{Data: data, Binary: messageType == websocket.MessageBinary}
		err = c.router.EnqueueIncomingFrame(frame)
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

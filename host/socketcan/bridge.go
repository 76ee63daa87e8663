// Package socketcan bridges an MCP2515 to a Linux SocketCAN interface.
// Frames the controller receives are transmitted on the interface and
// frames read from the interface are sent through the controller.
package socketcan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	ecan "go.einride.tech/can"
	esocketcan "go.einride.tech/can/pkg/socketcan"

	"mcpcan/can"
	"mcpcan/host/logging"
	"mcpcan/host/metrics"
	"mcpcan/mcp2515"
)

// ErrUnsupportedFrame is returned for extended or remote frames, which the
// controller driver does not carry.
var ErrUnsupportedFrame = errors.New("socketcan: only standard data frames are bridged")

// Sender is the part of the controller driver the bridge transmits through.
type Sender interface {
	Send(f can.Frame) error
}

type transmitter interface {
	TransmitFrame(ctx context.Context, f ecan.Frame) error
}

type receiver interface {
	Receive() bool
	Frame() ecan.Frame
	HasErrorFrame() bool
	Err() error
}

// Send retry policy while every transmit buffer is pending
const (
	sendAttempts = 10
	sendBackoff  = time.Millisecond
)

var sleepFn = time.Sleep

// Bridge forwards frames in both directions.
type Bridge struct {
	dev  Sender
	tx   transmitter
	rx   receiver
	conn io.Closer
	ctx  context.Context
}

// Dial opens iface (e.g. "can0" or "vcan0") for the bridge.
// ctx bounds every SocketCAN transmit made by Forward.
func Dial(ctx context.Context, iface string, dev Sender) (*Bridge, error) {
	conn, err := esocketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial: %w", err)
	}
	return newBridge(ctx, dev, esocketcan.NewTransmitter(conn), esocketcan.NewReceiver(conn), conn), nil
}

func newBridge(ctx context.Context, dev Sender, tx transmitter, rx receiver, conn io.Closer) *Bridge {
	return &Bridge{dev: dev, tx: tx, rx: rx, conn: conn, ctx: ctx}
}

// ToSocketCAN converts a driver frame to the SocketCAN representation.
func ToSocketCAN(f can.Frame) ecan.Frame {
	return ecan.Frame{
		ID:     uint32(f.ID),
		Length: uint8(len(f.Payload())),
		Data:   ecan.Data(f.Data),
	}
}

// FromSocketCAN converts a SocketCAN frame for the driver.
func FromSocketCAN(f ecan.Frame) (can.Frame, error) {
	if f.IsExtended || f.IsRemote {
		return can.Frame{}, ErrUnsupportedFrame
	}
	if f.ID > can.MaxID {
		return can.Frame{}, can.ErrInvalidID
	}
	out := can.Frame{ID: uint16(f.ID), Len: f.Length, Data: [can.MaxLen]byte(f.Data)}
	if err := out.Validate(); err != nil {
		return can.Frame{}, err
	}
	return out, nil
}

// Forward transmits a controller frame on the interface. Attach it to the
// controller as its Handler.
func (b *Bridge) Forward(f can.Frame) {
	metrics.IncRx()
	if err := b.tx.TransmitFrame(b.ctx, ToSocketCAN(f)); err != nil {
		metrics.IncError(metrics.ErrSocketCANWrite)
		logging.L().Warn("socketcan_write_error", "id", f.ID, "error", err)
		return
	}
	metrics.IncSocketCANTx()
}

// send hands f to the controller, retrying while all buffers are pending.
func (b *Bridge) send(f can.Frame) error {
	var err error
	for i := 0; i < sendAttempts; i++ {
		err = b.dev.Send(f)
		if !errors.Is(err, mcp2515.ErrTxBusy) {
			break
		}
		metrics.IncTxBusy()
		sleepFn(sendBackoff)
	}
	if err == nil {
		metrics.IncTx()
	}
	return err
}

// Run copies SocketCAN frames to the controller until ctx is done or the
// socket fails.
func (b *Bridge) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = b.conn.Close() })
	defer stop()

	for b.rx.Receive() {
		if b.rx.HasErrorFrame() {
			continue
		}
		metrics.IncSocketCANRx()
		f, err := FromSocketCAN(b.rx.Frame())
		if err != nil {
			logging.L().Debug("socketcan_skip", "error", err)
			continue
		}
		if err := b.send(f); err != nil {
			logging.L().Warn("mcp2515_send_error", "id", f.ID, "error", err)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := b.rx.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		metrics.IncError(metrics.ErrSocketCANRead)
		return err
	}
	return nil
}

// Close closes the socket.
func (b *Bridge) Close() error {
	return b.conn.Close()
}

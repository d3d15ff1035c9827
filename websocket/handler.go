package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadtree/models"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize = 8
)

// Sender writes a message on the connection and returns the number of bytes
// written.
type Sender func(Msg) (int, error)

// Receiver reads a request from the connection and returns the number of
// bytes read.
type Receiver func() (Request, int, error)

// Handler represents a debug stream handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Handles a world frame. Messages passed to send are queued and dropped
	// when the client does not keep up.
	HandleFrame(ctx context.Context, send func(Msg) bool) error

	// Handles a request sent by the client. Errors typed
	// ErrTypeInvalidRequest are passed to HandleInvalidRequest and keep the
	// client connected; others disconnect it.
	HandleRequest(ctx context.Context, send func(Msg) bool, req Request) error

	// Handles a request that could not be decoded or applied.
	HandleInvalidRequest(ctx context.Context, send func(Msg) bool, err error)

	// Creates a message receiver used to receive incoming requests.
	Receiver() Receiver

	// Creates a message sender used to write outgoing messages.
	Sender() Sender

	// The time a client can stay without sending anything before being
	// disconnected. 0 means never.
	IdleTimeout() time.Duration

	GetClientID() string

	// Closes the handler and releases its allocated resources.
	Close()
}

// Handle runs h on conn until the client disconnects or ctx is done. A frame
// is handled every time the world dispatches one.
func Handle(ctx context.Context, conn *websocket.Conn, world *models.World, h Handler) {
	handler := handler{
		Conn:    conn,
		World:   world,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	Conn    *websocket.Conn
	World   *models.World
	Handler Handler

	sendChan       chan Msg
	requestChan    chan incomingRequest
	disconnectChan chan error
}

type incomingRequest struct {
	req Request
	err error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.sendChan = make(chan Msg, sendChanSize)
	h.requestChan = make(chan incomingRequest)
	h.disconnectChan = make(chan error, 2)

	frameChan := make(chan struct{}, 1)
	cancelFrame := h.World.HandleFrame(func() {
		select {
		case frameChan <- struct{}{}:
		default:
		}
	})
	defer cancelFrame()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx, h.Handler.Sender())
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx, h.Handler.Receiver())
	}()

	idleTimeout := h.Handler.IdleTimeout()
	var idleChan <-chan time.Time
	resetIdle := func() {}
	if idleTimeout > 0 {
		idleTimer := time.NewTimer(idleTimeout)
		defer idleTimer.Stop()

		idleChan = idleTimer.C
		resetIdle = func() {
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)
		}
	}

	var err error
	for err == nil {
		select {
		case <-ctx.Done():
			err = ctx.Err()

		case <-idleChan:
			err = errors.New("idle connection").WithTag("duration", idleTimeout)

		case <-frameChan:
			if ferr := h.Handler.HandleFrame(ctx, h.send); ferr != nil {
				err = errors.New("handling frame failed").Wrap(ferr)
			}

		case in := <-h.requestChan:
			resetIdle()

			rerr := in.err
			if rerr == nil {
				rerr = h.Handler.HandleRequest(ctx, h.send, in.req)
			}

			switch {
			case rerr == nil:
			case errors.IsType(rerr, ErrTypeInvalidRequest):
				h.Handler.HandleInvalidRequest(ctx, h.send, rerr)
			default:
				err = errors.New("handling request failed").Wrap(rerr)
			}

		case err = <-h.disconnectChan:
		}
	}

	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
	cancel()
	wg.Wait()
}

func (h *handler) send(msg Msg) bool {
	select {
	case h.sendChan <- msg:
		return true
	default:
		return false
	}
}

func (h *handler) startSending(ctx context.Context, sender Sender) {
	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := sender(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context, receiver Receiver) {
	for {
		req, _, err := receiver()
		if err != nil && !errors.IsType(err, ErrTypeInvalidRequest) {
			if ctx.Err() == nil {
				h.disconnect(errors.New("receiving message failed").Wrap(err))
			}
			return
		}

		select {
		case <-ctx.Done():
			return

		case h.requestChan <- incomingRequest{req: req, err: err}:
		}
	}
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

package websocket

import (
	"context"
	goerrors "errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

const (
	clientIDTag  = "client_id"
	worldUUIDTag = "world_uuid"
)

// HandlerWithLogs logs the connection events of h, its errors, and
// periodically a summary of the messages sent.
func HandlerWithLogs(h Handler, worldUUID string, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:            h,
		worldUUID:          worldUUID,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
		counter:            make(map[string]int),
	}

	if summaryInterval > 0 {
		go handler.startSummaryWorker(ctx)
	}
	return handler
}

type handlerWithLogs struct {
	Handler

	worldUUID       string
	originalRequest *http.Request

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	counter            map[string]int
}

func (h *handlerWithLogs) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)

	h.originalRequest = conn.Request()

	entry := logs.WithTag(clientIDTag, h.GetClientID()).
		WithTag(worldUUIDTag, h.worldUUID)
	if h.originalRequest != nil {
		entry = entry.WithTag("http_headers", struct {
			UserAgent     string `json:"user_agent,omitempty"`
			XForwardedFor string `json:"x_forwarded_for,omitempty"`
		}{
			UserAgent:     h.originalRequest.UserAgent(),
			XForwardedFor: h.originalRequest.Header.Get("X-Forwarded-For"),
		}).
			WithTag("query", h.originalRequest.URL.RawQuery)
	}
	entry.Info("debug stream client connected")
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)

	entry := logs.WithTag(clientIDTag, h.GetClientID()).
		WithTag(worldUUIDTag, h.worldUUID)
	if err != nil && !isClosedError(err) {
		entry = entry.WithTag("reason", err.Error())
	}
	entry.Info("debug stream client disconnected")
}

func (h *handlerWithLogs) HandleRequest(ctx context.Context, send func(Msg) bool, req Request) error {
	err := h.Handler.HandleRequest(ctx, send, req)
	if err != nil {
		if !errors.IsType(err, ErrTypeInvalidRequest) {
			logs.WithTag(clientIDTag, h.GetClientID()).
				WithTag(worldUUIDTag, h.worldUUID).
				Error(errors.New("handling debug stream request failed").Wrap(err))
		}
		return err
	}

	logs.WithTag(clientIDTag, h.GetClientID()).
		WithTag(worldUUIDTag, h.worldUUID).
		WithTag("request", req).
		Debug("debug stream options updated")
	return nil
}

func (h *handlerWithLogs) HandleInvalidRequest(ctx context.Context, send func(Msg) bool, err error) {
	h.Handler.HandleInvalidRequest(ctx, send, err)

	logs.WithTag(clientIDTag, h.GetClientID()).
		WithTag(worldUUIDTag, h.worldUUID).
		Warn(errors.New("invalid debug stream request").Wrap(err))
}

func (h *handlerWithLogs) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Request, int, error) {
		req, n, err := receive()
		if err != nil && !isClosedError(err) && !errors.IsType(err, ErrTypeInvalidRequest) {
			logs.WithTag(clientIDTag, h.GetClientID()).
				WithTag(worldUUIDTag, h.worldUUID).
				Error(errors.New("receiving message failed").Wrap(err))
		} else if err == nil {
			logs.WithTag(clientIDTag, h.GetClientID()).
				WithTag(worldUUIDTag, h.worldUUID).
				Debug("request received")
		}
		return req, n, err
	}
}

func (h *handlerWithLogs) Sender() Sender {
	sender := h.Handler.Sender()

	return func(msg Msg) (int, error) {
		n, err := sender(msg)
		if err != nil && !isClosedError(err) {
			logs.WithTag(clientIDTag, h.GetClientID()).
				WithTag(worldUUIDTag, h.worldUUID).
				WithTag("msg_type", msg.Type).
				Error(errors.New("sending message failed").Wrap(err))
		} else if err == nil {
			logs.WithTag(clientIDTag, h.GetClientID()).
				WithTag(worldUUIDTag, h.worldUUID).
				WithTag("msg_type", msg.Type).
				WithTag("bytes", n).
				Debug("message sent")
			h.incCounter(msg.Type)
		}
		return n, err
	}
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeSummaryWorker()
	h.logSummary()
}

func (h *handlerWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(h.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) incCounter(msgType string) {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	h.counter[msgType]++
}

func (h *handlerWithLogs) logSummary() {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	if len(h.counter) == 0 {
		return
	}

	entry := logs.WithTag(clientIDTag, h.GetClientID()).
		WithTag(worldUUIDTag, h.worldUUID).
		WithTag("time_interval", h.summaryInterval)
	for k, v := range h.counter {
		entry = entry.WithTag(k, v)
		delete(h.counter, k)
	}

	entry.Info("outbound message summary")
}

func isClosedError(err error) bool {
	return goerrors.Is(err, io.EOF) ||
		goerrors.Is(err, net.ErrClosed) ||
		goerrors.Is(err, context.Canceled)
}

package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/websocket"
)

const (
	errTypeLabel = "error_type"
	msgTypeLabel = "msg_type"
	formatLabel  = "format"
)

var (
	wsConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_debug_stream_connected_clients",
		Help: "The number of connected debug stream clients.",
	})

	wsReceivedMsgs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_debug_stream_received_msgs",
		Help: "The number of requests received from debug stream clients.",
	})

	wsReceivedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_debug_stream_received_bytes",
		Help: "The number of bytes received from debug stream clients.",
	})

	wsReceiveError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_debug_stream_receive_errors",
		Help: "The errors that occured while receiving a debug stream request.",
	}, []string{
		errTypeLabel,
	})

	wsSentMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_debug_stream_sent_msgs",
		Help: "The number of messages sent to debug stream clients.",
	}, []string{
		msgTypeLabel,
		formatLabel,
	})

	wsSentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_debug_stream_sent_bytes",
		Help: "The number of bytes sent to debug stream clients.",
	}, []string{
		msgTypeLabel,
		formatLabel,
	})

	wsSendError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_debug_stream_send_errors",
		Help: "The errors that occured while sending a debug stream message.",
	}, []string{
		errTypeLabel,
		msgTypeLabel,
	})

	wsDroppedMsgs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_debug_stream_dropped_msgs",
		Help: "The number of snapshots dropped because a client was too slow.",
	})

	wsFrameLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ws_debug_stream_frame_latency",
		Help:    "The time to build and queue a debug stream snapshot.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16),
	})
)

// HandlerWithMetrics records the connections, messages and errors of h.
func HandlerWithMetrics(h Handler) Handler {
	return &handlerWithMetrics{
		Handler: h,
	}
}

type handlerWithMetrics struct {
	Handler
}

func (h *handlerWithMetrics) HandleConnect(conn *websocket.Conn) {
	wsConnectedClients.Inc()
	h.Handler.HandleConnect(conn)
}

func (h *handlerWithMetrics) HandleDisconnect(err error) {
	wsConnectedClients.Dec()
	h.Handler.HandleDisconnect(err)
}

func (h *handlerWithMetrics) HandleFrame(ctx context.Context, send func(Msg) bool) error {
	start := time.Now()

	err := h.Handler.HandleFrame(ctx, func(msg Msg) bool {
		if !send(msg) {
			wsDroppedMsgs.Inc()
			return false
		}
		return true
	})

	wsFrameLatency.Observe(time.Since(start).Seconds())
	return err
}

func (h *handlerWithMetrics) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Request, int, error) {
		req, n, err := receive()
		if err != nil {
			wsReceiveError.
				With(prometheus.Labels{
					errTypeLabel: errors.Type(err),
				}).
				Inc()
		} else {
			wsReceivedMsgs.Inc()
		}

		if n != 0 {
			wsReceivedBytes.Add(float64(n))
		}
		return req, n, err
	}
}

func (h *handlerWithMetrics) Sender() Sender {
	sender := h.Handler.Sender()

	return func(msg Msg) (int, error) {
		n, err := sender(msg)
		if err != nil {
			wsSendError.
				With(prometheus.Labels{
					errTypeLabel: errors.Type(err),
					msgTypeLabel: msg.Type,
				}).
				Inc()
		}

		if n != 0 {
			labels := prometheus.Labels{
				msgTypeLabel: msg.Type,
				formatLabel:  string(msg.Format),
			}
			wsSentMsgs.With(labels).Inc()
			wsSentBytes.With(labels).Add(float64(n))
		}
		return n, err
	}
}

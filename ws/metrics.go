package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lectern_ws_frames_received_total",
		Help: "Inbound frames read from the realtime connection.",
	})
	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lectern_ws_frames_sent_total",
		Help: "Frames written to the realtime connection.",
	})
	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lectern_ws_frames_dropped_total",
		Help: "Frames dropped: malformed, unroutable, or no usable connection.",
	})
	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lectern_ws_reconnects_total",
		Help: "Reconnect attempts scheduled after a failed dial or unexpected close.",
	})
	handlerPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lectern_ws_handler_panics_total",
		Help: "Channel handler invocations that panicked and were isolated.",
	})
)

package bunny

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the driver's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	FramesSent        *prometheus.CounterVec
	FramesReceived    *prometheus.CounterVec
	DecodeErrors      prometheus.Counter
	CommandsCompleted *prometheus.CounterVec
	Reconnects        prometheus.Counter
	ConnectionState   prometheus.Gauge
	PendingCommands   prometheus.Gauge
	PendingWrites     prometheus.Gauge
}

// NewMetrics creates the driver collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bunnymq"
	}
	return &Metrics{
		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "frames_sent_total",
				Help:      "Frames written to the transport",
			},
			[]string{"opcode"},
		),

		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "frames_received_total",
				Help:      "Frames decoded from the transport",
			},
			[]string{"opcode"},
		),

		DecodeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "decode_errors_total",
				Help:      "Inbound frames dropped as unknown or malformed",
			},
		),

		CommandsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "commands_completed_total",
				Help:      "Commands whose callback has run",
			},
			[]string{"kind", "outcome"},
		),

		Reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "reconnects_total",
				Help:      "Reconnect attempts scheduled",
			},
		),

		ConnectionState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "connection_state",
				Help:      "Connection state (0=disconnected, 1=connecting, 2=awaiting_handshake, 3=authenticating, 4=ready, 5=reconnecting, 6=failed)",
			},
		),

		PendingCommands: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "pending_commands",
				Help:      "Commands waiting for dispatch",
			},
		),

		PendingWrites: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "client",
				Name:      "pending_writes",
				Help:      "Frames waiting for the transport to become writable",
			},
		),
	}
}

// Register registers every collector with registerer.
func (metrics *Metrics) Register(registerer prometheus.Registerer) error {
	if metrics == nil {
		return nil
	}
	for _, collector := range []prometheus.Collector{
		metrics.FramesSent,
		metrics.FramesReceived,
		metrics.DecodeErrors,
		metrics.CommandsCompleted,
		metrics.Reconnects,
		metrics.ConnectionState,
		metrics.PendingCommands,
		metrics.PendingWrites,
	} {
		if err := registerer.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func (metrics *Metrics) recordFrameSent(frame []byte) {
	if metrics == nil || len(frame) == 0 {
		return
	}
	metrics.FramesSent.WithLabelValues(Opcode(int8(frame[0])).String()).Inc()
}

func (metrics *Metrics) recordFrameReceived(op Opcode) {
	if metrics == nil {
		return
	}
	metrics.FramesReceived.WithLabelValues(op.String()).Inc()
}

func (metrics *Metrics) recordDecodeError() {
	if metrics == nil {
		return
	}
	metrics.DecodeErrors.Inc()
}

func (metrics *Metrics) recordCommand(kind CommandKind, err error) {
	if metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.CommandsCompleted.WithLabelValues(kind.String(), outcome).Inc()
}

func (metrics *Metrics) recordReconnect() {
	if metrics == nil {
		return
	}
	metrics.Reconnects.Inc()
}

func (metrics *Metrics) recordState(state ConnectionState) {
	if metrics == nil {
		return
	}
	metrics.ConnectionState.Set(float64(state))
}

func (metrics *Metrics) recordPending(commands int, writes int) {
	if metrics == nil {
		return
	}
	metrics.PendingCommands.Set(float64(commands))
	metrics.PendingWrites.Set(float64(writes))
}

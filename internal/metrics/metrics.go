package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/mkowalik/go-can-arbiter/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Link label values (stable, to bound cardinality).
const (
	LinkSerial    = "serial"
	LinkSocketCAN = "socketcan"
	LinkTCP       = "tcp"
)

// Prometheus instruments
var (
	RxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rx_frames_total",
		Help: "Total CAN frames received, by link.",
	}, []string{"link"})
	TxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tx_frames_total",
		Help: "Total CAN frames transmitted, by link.",
	}, []string{"link"})
	ArbiterEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_enqueued_frames_total",
		Help: "Total frames admitted to the arbitration queue.",
	})
	ArbiterDequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_dequeued_frames_total",
		Help: "Total frames released from the arbitration queue in priority order.",
	})
	ArbiterDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_dropped_frames_total",
		Help: "Total frames dropped by the arbitration queue overflow policy.",
	})
	ArbiterDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbiter_queue_depth",
		Help: "Frames currently pending in the arbitration queue.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total CAN frames dropped by hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected by the backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total client connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of connected clients.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Clients targeted in the most recent broadcast.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_max",
		Help: "Max queued frames among clients in the last sample.",
	})
	HubQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_avg",
		Help: "Approximate average queued frames per client in the last sample.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (invalid dlc, bad identifier, truncated).",
	})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
	ErrSerialRead     = "serial_read"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSocketCANRead  = "socketcan_read"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrArbiterPush    = "arbiter_push"
	ErrBackendTx      = "backend_tx"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters so the periodic log snapshot does not have to
// scrape Prometheus in-process.
type localCounters struct {
	serialRx, serialTx       atomic.Uint64
	socketCANRx, socketCANTx atomic.Uint64
	tcpRx, tcpTx             atomic.Uint64
	arbIn, arbOut, arbDrop   atomic.Uint64
	hubDrops, hubKicks       atomic.Uint64
	hubRejects, hubClients   atomic.Uint64
	fanout                   atomic.Uint64
	errs                     atomic.Uint64
	malformed                atomic.Uint64
	qdMax, qdAvg             atomic.Uint64
}

var local localCounters

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	SerialRx, SerialTx       uint64
	SocketCANRx, SocketCANTx uint64
	TCPRx, TCPTx             uint64
	ArbiterIn, ArbiterOut    uint64
	ArbiterDrops             uint64
	HubDrops, HubKicks       uint64
	HubRejects, HubClients   uint64
	Fanout                   uint64
	Errors                   uint64
	Malformed                uint64
	QueueDepthMax            uint64
	QueueDepthAvg            uint64
}

func Snap() Snapshot {
	return Snapshot{
		SerialRx:      local.serialRx.Load(),
		SerialTx:      local.serialTx.Load(),
		SocketCANRx:   local.socketCANRx.Load(),
		SocketCANTx:   local.socketCANTx.Load(),
		TCPRx:         local.tcpRx.Load(),
		TCPTx:         local.tcpTx.Load(),
		ArbiterIn:     local.arbIn.Load(),
		ArbiterOut:    local.arbOut.Load(),
		ArbiterDrops:  local.arbDrop.Load(),
		HubDrops:      local.hubDrops.Load(),
		HubKicks:      local.hubKicks.Load(),
		HubRejects:    local.hubRejects.Load(),
		HubClients:    local.hubClients.Load(),
		Fanout:        local.fanout.Load(),
		Errors:        local.errs.Load(),
		Malformed:     local.malformed.Load(),
		QueueDepthMax: local.qdMax.Load(),
		QueueDepthAvg: local.qdAvg.Load(),
	}
}

// IncRx counts one received frame on the given link.
func IncRx(link string) {
	RxFrames.WithLabelValues(link).Inc()
	switch link {
	case LinkSerial:
		local.serialRx.Add(1)
	case LinkSocketCAN:
		local.socketCANRx.Add(1)
	case LinkTCP:
		local.tcpRx.Add(1)
	}
}

// IncTx counts one transmitted frame on the given link.
func IncTx(link string) { AddTx(link, 1) }

// AddTx counts n transmitted frames on the given link.
func AddTx(link string, n int) {
	TxFrames.WithLabelValues(link).Add(float64(n))
	switch link {
	case LinkSerial:
		local.serialTx.Add(uint64(n))
	case LinkSocketCAN:
		local.socketCANTx.Add(uint64(n))
	case LinkTCP:
		local.tcpTx.Add(uint64(n))
	}
}

func IncArbiterEnqueue() { ArbiterEnqueued.Inc(); local.arbIn.Add(1) }
func IncArbiterDequeue() { ArbiterDequeued.Inc(); local.arbOut.Add(1) }
func IncArbiterDrop()    { ArbiterDropped.Inc(); local.arbDrop.Add(1) }

// SetArbiterDepth records the current arbitration queue depth.
func SetArbiterDepth(n int) { ArbiterDepth.Set(float64(n)) }

func IncHubDrop()   { HubDroppedFrames.Inc(); local.hubDrops.Add(1) }
func IncHubKick()   { HubKickedClients.Inc(); local.hubKicks.Add(1) }
func IncHubReject() { HubRejectedClients.Inc(); local.hubRejects.Add(1) }

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	local.hubClients.Store(uint64(n))
}

func SetBroadcastFanout(n int) {
	HubBroadcastFanout.Set(float64(n))
	local.fanout.Store(uint64(n))
}

// SetQueueDepth records a sample of max and avg hub client queue depth.
func SetQueueDepth(max, avg int) {
	HubQueueDepthMax.Set(float64(max))
	HubQueueDepthAvg.Set(float64(avg))
	local.qdMax.Store(uint64(max))
	local.qdAvg.Store(uint64(avg))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	local.errs.Add(1)
}

func IncMalformed() { MalformedFrames.Inc(); local.malformed.Add(1) }

// InitBuildInfo sets the build info gauge; call once at startup. Common
// error label series are pre-registered so the first error does not pay
// registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite,
		ErrSerialRead, ErrSerialWrite, ErrSerialOverflow,
		ErrSocketCANRead, ErrSocketCANWrite, ErrSocketCANOver,
		ErrArbiterPush, ErrBackendTx,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers the function backing /ready.
func SetReadinessFunc(fn func() bool) {
	readinessMu.Lock()
	readinessFn = fn
	readinessMu.Unlock()
}

// Ready invokes the registered readiness function; before registration the
// endpoint reports ready so it does not flap during startup.
func Ready() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

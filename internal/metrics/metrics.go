// Package metrics exposes gateway counters to Prometheus and mirrors them in
// process for the periodic metrics log line.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kstaniek/go-socketcan/can"
	"github.com/kstaniek/go-socketcan/internal/logging"
)

var (
	CANRxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socketcan_rx_frames_total",
		Help: "CAN frames read from the SocketCAN interface, by frame kind.",
	}, []string{"kind"})
	CANTxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socketcan_tx_frames_total",
		Help: "CAN frames written to the SocketCAN interface, by frame kind.",
	}, []string{"kind"})
	SocketReopens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_reopens_total",
		Help: "Times the CAN socket was closed and bound again after an error.",
	})
	TCPRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rx_frames_total",
		Help: "CAN frames received from TCP clients.",
	})
	TCPTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_frames_total",
		Help: "CAN frames sent to TCP clients.",
	})
	FilteredFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filtered_frames_total",
		Help: "Frames from TCP clients discarded because the bus cannot carry them.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "CAN frames dropped by the hub for slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Clients disconnected by the kick back-pressure policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Connections rejected (max-clients reached).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Connected clients.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Clients targeted by the most recent broadcast.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_max",
		Help: "Largest client queue seen in the last broadcast.",
	})
	HubQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_avg",
		Help: "Average client queue length in the last broadcast.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Errors by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Rejected malformed frames (bad length, truncated, undecodable).",
	})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error labels. The set is fixed to bound cardinality.
const (
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
	ErrHandshake      = "handshake"
	ErrSocketCANRead  = "socketcan_read"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrSocketCANOpen  = "socketcan_open"
)

var errorLabels = []string{
	ErrTCPRead, ErrTCPWrite, ErrHandshake,
	ErrSocketCANRead, ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANOpen,
}

var kinds = []can.Kind{can.KindData, can.KindFdData, can.KindRemote, can.KindError}

// Handler returns the mux serving /metrics and /ready.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	return mux
}

// StartHTTP serves Handler on addr in the background.
func StartHTTP(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: Handler()}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// in-process mirrors, read by Snap
var local struct {
	canRx      [4]atomic.Uint64 // indexed by Kind
	canTx      [4]atomic.Uint64
	reopens    atomic.Uint64
	tcpRx      atomic.Uint64
	tcpTx      atomic.Uint64
	filtered   atomic.Uint64
	hubDrop    atomic.Uint64
	hubKick    atomic.Uint64
	hubReject  atomic.Uint64
	errors     atomic.Uint64
	hubClients atomic.Uint64
	fanout     atomic.Uint64
	malformed  atomic.Uint64
	queueMax   atomic.Uint64
	queueAvg   atomic.Uint64
}

func kindIndex(k can.Kind) int {
	if int(k) < len(kinds) {
		return int(k)
	}
	return 0
}

// Snapshot is a point-in-time copy of the local counters.
type Snapshot struct {
	CANRx         uint64 // all kinds
	CANRxFD       uint64
	CANRxErr      uint64
	CANTx         uint64
	Reopens       uint64
	TCPRx         uint64
	TCPTx         uint64
	Filtered      uint64
	HubDrops      uint64
	HubKicks      uint64
	HubRejects    uint64
	Errors        uint64 // sum across error labels
	HubClients    uint64
	Fanout        uint64
	Malformed     uint64
	QueueDepthMax uint64
	QueueDepthAvg uint64
}

func Snap() Snapshot {
	var s Snapshot
	for i := range kinds {
		s.CANRx += local.canRx[i].Load()
		s.CANTx += local.canTx[i].Load()
	}
	s.CANRxFD = local.canRx[kindIndex(can.KindFdData)].Load()
	s.CANRxErr = local.canRx[kindIndex(can.KindError)].Load()
	s.Reopens = local.reopens.Load()
	s.TCPRx = local.tcpRx.Load()
	s.TCPTx = local.tcpTx.Load()
	s.Filtered = local.filtered.Load()
	s.HubDrops = local.hubDrop.Load()
	s.HubKicks = local.hubKick.Load()
	s.HubRejects = local.hubReject.Load()
	s.Errors = local.errors.Load()
	s.HubClients = local.hubClients.Load()
	s.Fanout = local.fanout.Load()
	s.Malformed = local.malformed.Load()
	s.QueueDepthMax = local.queueMax.Load()
	s.QueueDepthAvg = local.queueAvg.Load()
	return s
}

// IncCANRx counts one frame read from the bus.
func IncCANRx(k can.Kind) {
	CANRxFrames.WithLabelValues(k.String()).Inc()
	local.canRx[kindIndex(k)].Add(1)
}

// IncCANTx counts one frame written to the bus.
func IncCANTx(k can.Kind) {
	CANTxFrames.WithLabelValues(k.String()).Inc()
	local.canTx[kindIndex(k)].Add(1)
}

func IncReopen() {
	SocketReopens.Inc()
	local.reopens.Add(1)
}

func IncTCPRx() {
	TCPRxFrames.Inc()
	local.tcpRx.Add(1)
}

func AddTCPTx(n int) {
	TCPTxFrames.Add(float64(n))
	local.tcpTx.Add(uint64(n))
}

func IncFiltered() {
	FilteredFrames.Inc()
	local.filtered.Add(1)
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	local.hubDrop.Add(1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	local.hubKick.Add(1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	local.hubReject.Add(1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	local.hubClients.Store(uint64(n))
}

func SetBroadcastFanout(n int) {
	HubBroadcastFanout.Set(float64(n))
	local.fanout.Store(uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	local.errors.Add(1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	local.malformed.Add(1)
}

// SetQueueDepth records the max and average client queue length.
func SetQueueDepth(max, avg int) {
	HubQueueDepthMax.Set(float64(max))
	HubQueueDepthAvg.Set(float64(avg))
	local.queueMax.Store(uint64(max))
	local.queueAvg.Store(uint64(avg))
}

// InitBuildInfo sets build_info and creates every labelled series at zero.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range errorLabels {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, k := range kinds {
		CANRxFrames.WithLabelValues(k.String()).Add(0)
		CANTxFrames.WithLabelValues(k.String()).Add(0)
	}
}

// SetReadinessFunc registers the function behind /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady reports the registered readiness; true until one is registered.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Package metrics exposes driver and bridge counters to Prometheus.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mcpcan/host/logging"
)

// Prometheus collectors
var (
	RxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcp2515_rx_frames_total",
		Help: "Total CAN frames read from the controller.",
	})
	TxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcp2515_tx_frames_total",
		Help: "Total CAN frames handed to a controller transmit buffer.",
	})
	TxBusy = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcp2515_tx_busy_total",
		Help: "Send attempts rejected because every transmit buffer was pending.",
	})
	RxDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcp2515_rx_dropped_total",
		Help: "Frames discarded because the receive buffer was full.",
	})
	SocketCANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_rx_frames_total",
		Help: "Total CAN frames read from the SocketCAN interface.",
	})
	SocketCANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_tx_frames_total",
		Help: "Total CAN frames written to the SocketCAN interface.",
	})
	ErrorCounter = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mcp2515_error_counter",
		Help: "Controller error counters (REC, TEC).",
	}, []string{"direction"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label values
const (
	ErrSPI            = "spi"
	ErrDispatch       = "dispatch"
	ErrSocketCANRead  = "socketcan_read"
	ErrSocketCANWrite = "socketcan_write"
)

// StartHTTP serves /metrics and /ready on addr in the background.
func StartHTTP(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: Handler()}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Handler returns the mux behind StartHTTP.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
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

// Local mirrors for periodic log lines
var (
	localRx          atomic.Uint64
	localTx          atomic.Uint64
	localTxBusy      atomic.Uint64
	localDropped     atomic.Uint64
	localSocketCANRx atomic.Uint64
	localSocketCANTx atomic.Uint64
	localErrors      atomic.Uint64
)

// Snapshot is a copy of the local counters.
type Snapshot struct {
	Rx          uint64
	Tx          uint64
	TxBusy      uint64
	Dropped     uint64
	SocketCANRx uint64
	SocketCANTx uint64
	Errors      uint64
}

func Snap() Snapshot {
	return Snapshot{
		Rx:          localRx.Load(),
		Tx:          localTx.Load(),
		TxBusy:      localTxBusy.Load(),
		Dropped:     localDropped.Load(),
		SocketCANRx: localSocketCANRx.Load(),
		SocketCANTx: localSocketCANTx.Load(),
		Errors:      localErrors.Load(),
	}
}

func IncRx() {
	RxFrames.Inc()
	localRx.Add(1)
}

func IncTx() {
	TxFrames.Inc()
	localTx.Add(1)
}

func IncTxBusy() {
	TxBusy.Inc()
	localTxBusy.Add(1)
}

// AddDropped adds n discarded frames.
func AddDropped(n uint64) {
	if n == 0 {
		return
	}
	RxDropped.Add(float64(n))
	localDropped.Add(n)
}

func IncSocketCANRx() {
	SocketCANRxFrames.Inc()
	localSocketCANRx.Add(1)
}

func IncSocketCANTx() {
	SocketCANTxFrames.Inc()
	localSocketCANTx.Add(1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	localErrors.Add(1)
}

// SetErrorCounters publishes the controller's REC and TEC.
func SetErrorCounters(rec, tec uint8) {
	ErrorCounter.WithLabelValues("rx").Set(float64(rec))
	ErrorCounter.WithLabelValues("tx").Set(float64(tec))
}

// InitBuildInfo sets the build info gauge and pre-registers error series.
func InitBuildInfo(version string) {
	BuildInfo.WithLabelValues(version).Set(1)
	for _, lbl := range []string{ErrSPI, ErrDispatch, ErrSocketCANRead, ErrSocketCANWrite} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers the function behind /ready.
func SetReadinessFunc(fn func() bool) {
	readinessMu.Lock()
	readinessFn = fn
	readinessMu.Unlock()
}

// IsReady reports readiness; true until a readiness function is registered.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

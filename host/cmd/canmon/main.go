// Command canmon drives an MCP2515 through a Bus Pirate: it prints received
// frames, sends single frames, bridges to SocketCAN and reports controller
// error counters.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"mcpcan/can"
	"mcpcan/core"
	"mcpcan/host/buspirate"
	"mcpcan/host/config"
	"mcpcan/host/irq"
	"mcpcan/host/logging"
	"mcpcan/host/metrics"
	"mcpcan/host/serial"
	"mcpcan/host/socketcan"
	"mcpcan/mcp2515"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel, stderr)

	prof, err := loadProfile(cfg)
	if err != nil {
		l.Error("profile_error", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version)
		srv := metrics.StartHTTP(cfg.metricsAddr)
		defer srv.Close()
		if port, err := portOf(cfg.metricsAddr); err == nil {
			cleanup, err := startMDNS(ctx, cfg, port, prof.Bitrate)
			if err != nil {
				l.Warn("mdns_error", "error", err)
			} else {
				defer cleanup()
			}
		}
	}
	if cfg.logMetricsEvery > 0 {
		go logMetrics(ctx, cfg.logMetricsEvery)
	}

	b, err := openBoard(prof)
	if err != nil {
		l.Error("bus_open_error", "device", prof.Bridge.Device, "error", err)
		return 1
	}
	defer b.close()
	l.Info("bus_open", "device", prof.Bridge.Device, "bitrate_kbps", prof.Bitrate)

	switch cfg.command {
	case "monitor":
		err = monitor(ctx, b, stdout)
	case "send":
		err = send(b, cfg.args[0])
	case "bridge":
		err = bridge(ctx, b, cfg.canIf)
	case "status":
		err = status(b, stdout)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		l.Error("command_error", "command", cfg.command, "error", err)
		return 1
	}
	return 0
}

func setupLogger(format, level string, w io.Writer) *slog.Logger {
	lvl := logging.ParseLevel(level)
	l := logging.New(format, lvl, w).With("app", "canmon")
	logging.Set(l)
	core.SetDebugWriter(logging.DebugWriter(l))
	core.SetDebugEnabled(lvl <= slog.LevelDebug)
	return l
}

// loadProfile reads the profile, then applies flag overrides.
func loadProfile(cfg *appConfig) (*config.Profile, error) {
	prof := config.DefaultProfile()
	if cfg.profile != "" {
		p, err := config.LoadFile(cfg.profile)
		if err != nil {
			return nil, err
		}
		prof = p
	}
	if cfg.device != "" {
		prof.Bridge.Device = cfg.device
	}
	if cfg.bitrate != 0 {
		prof.Bitrate = cfg.bitrate
	}
	return prof, prof.Validate()
}

func portOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}

// board is an initialized controller behind a Bus Pirate.
type board struct {
	bridge *buspirate.Bridge
	dev    *mcp2515.Device
	guard  *core.MutexGuard
	poller runner
}

// runner is the emulated interrupt context; *irq.Poller in production.
type runner interface {
	Run(ctx context.Context) error
}

// startPoller runs the poller on its own goroutine. The returned func
// cancels it and waits until it has returned, so nothing touches the bus
// or the attached handler afterwards.
func (b *board) startPoller(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.poller.Run(ctx)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func openBoard(prof *config.Profile) (*board, error) {
	port, err := serial.Open(&serial.Config{
		Device:      prof.Bridge.Device,
		Baud:        prof.Bridge.Baud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	bp, err := buspirate.Open(port, prof.Speed())
	if err != nil {
		port.Close()
		return nil, err
	}
	guard := &core.MutexGuard{}
	dev, err := mcp2515.New(mcp2515.Config{
		Bus:        bp,
		GPIO:       bp,
		CSPin:      buspirate.PinCS,
		IntPin:     buspirate.PinINT,
		Guard:      guard,
		BufferSize: prof.BufferSize,
	})
	if err != nil {
		bp.Close()
		return nil, err
	}
	if err := prof.Apply(dev); err != nil {
		bp.Close()
		metrics.IncError(metrics.ErrSPI)
		return nil, err
	}
	poller, err := irq.New(dev, guard, prof.PollInterval())
	if err != nil {
		bp.Close()
		return nil, err
	}
	metrics.SetReadinessFunc(func() bool { return true })
	return &board{bridge: bp, dev: dev, guard: guard, poller: poller}, nil
}

func (b *board) close() {
	metrics.SetReadinessFunc(func() bool { return false })
	if core.IsDebugEnabled() {
		s := b.guard.Enter()
		b.dev.Trace().Dump()
		b.guard.Exit(s)
	}
	if err := b.bridge.Close(); err != nil {
		logging.L().Warn("bus_close_error", "error", err)
	}
}

// monitor prints every received frame until ctx is done.
func monitor(ctx context.Context, b *board, w io.Writer) error {
	stop := b.startPoller(ctx)
	defer stop()

	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		for {
			f, ok := b.dev.Read()
			if !ok {
				break
			}
			metrics.IncRx()
			logging.L().Debug("frame_rx", "id", f.ID, "len", f.Len)
			fmt.Fprintln(w, f.String())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func send(b *board, text string) error {
	f, err := can.Parse(text)
	if err != nil {
		return err
	}
	if err := b.dev.Send(f); err != nil {
		if errors.Is(err, mcp2515.ErrTxBusy) {
			metrics.IncTxBusy()
		}
		return err
	}
	metrics.IncTx()
	logging.L().Info("frame_tx", "frame", f.String())
	return nil
}

func bridge(ctx context.Context, b *board, iface string) error {
	br, err := socketcan.Dial(ctx, iface, b.dev)
	if err != nil {
		return err
	}
	defer br.Close()
	logging.L().Info("bridge_start", "if", iface)

	// Attach before the poller starts; from then on only the poller
	// goroutine services callbacks.
	b.dev.Attach(br.Forward)
	defer b.dev.Detach()

	stop := b.startPoller(ctx)
	defer stop()
	return br.Run(ctx)
}

func status(b *board, w io.Writer) error {
	rec, err := b.dev.RxErrorCount()
	if err != nil {
		return err
	}
	tec, err := b.dev.TxErrorCount()
	if err != nil {
		return err
	}
	metrics.SetErrorCounters(rec, tec)
	fmt.Fprintf(w, "rx_errors=%d tx_errors=%d\n", rec, tec)
	return nil
}

func logMetrics(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s := metrics.Snap()
			logging.L().Info("metrics",
				"rx", s.Rx, "tx", s.Tx, "tx_busy", s.TxBusy, "dropped", s.Dropped,
				"socketcan_rx", s.SocketCANRx, "socketcan_tx", s.SocketCANTx, "errors", s.Errors)
		}
	}
}

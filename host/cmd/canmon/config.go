package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"mcpcan/mcp2515"
)

type appConfig struct {
	profile         string
	device          string
	bitrate         int
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	canIf           string
	mdnsEnable      bool
	mdnsName        string

	command string
	args    []string
}

func parseFlags(args []string, stderr io.Writer) (*appConfig, error) {
	fs := flag.NewFlagSet("canmon", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: canmon [flags] monitor|send ID#DATA|bridge|status")
		fs.PrintDefaults()
	}

	cfg := &appConfig{}
	fs.StringVar(&cfg.profile, "profile", "", "JSON board profile (defaults apply when empty)")
	fs.StringVar(&cfg.device, "device", "", "Bus Pirate serial device (overrides the profile)")
	fs.IntVar(&cfg.bitrate, "bitrate", 0, "CAN bit rate in kbit/s (overrides the profile)")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log frame counters")
	fs.StringVar(&cfg.canIf, "can-if", "can0", "SocketCAN interface for the bridge command")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Advertise the metrics endpoint over mDNS")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default canmon-<hostname>)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })
	if err := applyEnvOverrides(cfg, set); err != nil {
		return nil, fmt.Errorf("environment override error: %w", err)
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return nil, errors.New("missing command")
	}
	cfg.command = fs.Arg(0)
	cfg.args = fs.Args()[1:]

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// validate checks values only; no device is opened.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.bitrate != 0 {
		if _, ok := mcp2515.LookupTiming(c.bitrate); !ok {
			return fmt.Errorf("invalid bitrate: %d", c.bitrate)
		}
	}
	if c.logMetricsEvery < 0 {
		return errors.New("log-metrics-interval must be >= 0")
	}
	switch c.command {
	case "monitor", "bridge", "status":
		if len(c.args) != 0 {
			return fmt.Errorf("%s takes no arguments", c.command)
		}
	case "send":
		if len(c.args) != 1 {
			return errors.New("send takes exactly one ID#DATA argument")
		}
	default:
		return fmt.Errorf("unknown command: %s", c.command)
	}
	return nil
}

// applyEnvOverrides maps CANMON_* environment variables onto fields whose
// flag was not set explicitly.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}

	str("profile", "CANMON_PROFILE", &c.profile)
	str("device", "CANMON_DEVICE", &c.device)
	str("log-format", "CANMON_LOG_FORMAT", &c.logFormat)
	str("log-level", "CANMON_LOG_LEVEL", &c.logLevel)
	str("can-if", "CANMON_CAN_IF", &c.canIf)
	str("mdns-name", "CANMON_MDNS_NAME", &c.mdnsName)
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("CANMON_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["bitrate"]; !ok {
		if v, ok := get("CANMON_BITRATE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.bitrate = n
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid CANMON_BITRATE: %q", v)
			}
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("CANMON_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid CANMON_LOG_METRICS_INTERVAL: %q", v)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("CANMON_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	return firstErr
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_mcpcan._tcp"

var registerMDNS = func(instance, service, domain string, port int, text []string) (shutdowner, error) {
	return zeroconf.Register(instance, service, domain, port, text, nil)
}

type shutdowner interface{ Shutdown() }

// startMDNS advertises the metrics endpoint and returns a cleanup function.
// It is a no-op when disabled.
func startMDNS(ctx context.Context, cfg *appConfig, port int, bitrate int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("canmon-%s", host)
	}
	meta := []string{
		"command=" + cfg.command,
		fmt.Sprintf("bitrate=%d", bitrate),
		"version=" + version,
	}
	svc, err := registerMDNS(instance, mdnsServiceType, "local.", port, meta)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); time.Sleep(50 * time.Millisecond) }, nil
}

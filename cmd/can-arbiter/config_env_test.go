package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := &appConfig{
		serialDev:       "/dev/null",
		baud:            115200,
		listenAddr:      ":20000",
		serialReadTO:    50 * time.Millisecond,
		logFormat:       "text",
		logLevel:        "info",
		metricsAddr:     "",
		hubBuffer:       512,
		hubPolicy:       "drop",
		backend:         "socketcan",
		canIf:           "can0",
		queueSize:       1024,
		queuePolicy:     "drop-lowest",
		maxClients:      0,
		clientReadTO:    60 * time.Second,
		logMetricsEvery: 0,
		mdnsEnable:      false,
		mdnsName:        "",
	}

	// Set env overrides
	os.Setenv("CAN_ARBITER_BAUD", "230400")
	os.Setenv("CAN_ARBITER_MDNS_ENABLE", "true")
	os.Setenv("CAN_ARBITER_SERIAL_READ_TIMEOUT", "100ms")
	os.Setenv("CAN_ARBITER_QUEUE_SIZE", "2048")
	os.Setenv("CAN_ARBITER_QUEUE_POLICY", "reject")
	os.Setenv("CAN_ARBITER_LOG_METRICS_INTERVAL", "5s")
	t.Cleanup(func() {
		os.Unsetenv("CAN_ARBITER_BAUD")
		os.Unsetenv("CAN_ARBITER_MDNS_ENABLE")
		os.Unsetenv("CAN_ARBITER_SERIAL_READ_TIMEOUT")
		os.Unsetenv("CAN_ARBITER_QUEUE_SIZE")
		os.Unsetenv("CAN_ARBITER_QUEUE_POLICY")
		os.Unsetenv("CAN_ARBITER_LOG_METRICS_INTERVAL")
	})
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 230400 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.serialReadTO != 100*time.Millisecond {
		t.Fatalf("expected serialReadTO 100ms got %v", base.serialReadTO)
	}
	if base.queueSize != 2048 || base.queuePolicy != "reject" {
		t.Fatalf("expected queue overrides got %d %s", base.queueSize, base.queuePolicy)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{baud: 115200}
	os.Setenv("CAN_ARBITER_BAUD", "230400")
	t.Cleanup(func() { os.Unsetenv("CAN_ARBITER_BAUD") })
	// Simulate user passed -baud flag (so env should be ignored)
	if err := applyEnvOverrides(base, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.baud != 115200 {
		t.Fatalf("expected baud unchanged 115200 got %d", base.baud)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	base := &appConfig{hubBuffer: 512}
	os.Setenv("CAN_ARBITER_HUB_BUFFER", "notint")
	t.Cleanup(func() { os.Unsetenv("CAN_ARBITER_HUB_BUFFER") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}

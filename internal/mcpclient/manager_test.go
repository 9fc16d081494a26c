package mcpclient

import (
	"context"
	"testing"
)

func TestConnectUnknownServerErrors(t *testing.T) {
	m := NewManager(Config{Enabled: true}, nil)
	if err := m.Connect(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error connecting to unconfigured server")
	}
}

func TestCallToolOnUnconnectedServerErrors(t *testing.T) {
	m := NewManager(Config{Enabled: true, Servers: []ServerConfig{{ID: "fs", Command: "true"}}}, nil)
	if _, err := m.CallTool(context.Background(), "fs", "read_file", nil); err == nil {
		t.Fatalf("expected error calling tool before Connect")
	}
}

func TestStartSkipsNonAutoStartServers(t *testing.T) {
	m := NewManager(Config{
		Enabled: true,
		Servers: []ServerConfig{{ID: "manual", Command: "true", AutoStart: false}},
	}, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, ok := m.Client("manual"); ok {
		t.Fatalf("expected non-auto-start server to remain unconnected")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	m := NewManager(Config{Enabled: false, Servers: []ServerConfig{{ID: "fs", Command: "true", AutoStart: true}}}, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, ok := m.Client("fs"); ok {
		t.Fatalf("expected disabled manager to connect nothing")
	}
}

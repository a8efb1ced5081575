package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "relayd.conf")
	err := os.WriteFile(path, []byte(content), 0600)
	if err != nil {
		t.Fatalf("Failed writing config file: %v", err)
	}
	return path
}

func TestLoadConfigFileAndOverrides(t *testing.T) {
	configFile := writeConfigFile(t, `
[Application Options]
nodeid=relay-1
defaultpolicy=reject
requesttimeout=45s
uplink=wss://csms.example.com/ocpp
uplinknodeid=CSMS-EU
listen=:9000
`)

	cfg, _, err := LoadConfig([]string{"--configfile", configFile, "--defaultpolicy", "DROP"})
	if err != nil {
		t.Fatalf("TestLoadConfigFileAndOverrides: LoadConfig: %+v", err)
	}
	if cfg.NodeID != "relay-1" {
		t.Fatalf("TestLoadConfigFileAndOverrides: expected node id relay-1 but got %s", cfg.NodeID)
	}
	if cfg.DefaultPolicy != "drop" {
		t.Fatalf("TestLoadConfigFileAndOverrides: the command line did not override the default policy: %s",
			cfg.DefaultPolicy)
	}
	if cfg.RequestTimeout != 45*time.Second {
		t.Fatalf("TestLoadConfigFileAndOverrides: unexpected request timeout %s", cfg.RequestTimeout)
	}
	if cfg.UplinkTransport() != TransportWebsocket || cfg.UplinkURL().Host != "csms.example.com" {
		t.Fatalf("TestLoadConfigFileAndOverrides: unexpected uplink %s", cfg.Uplink)
	}
	if cfg.UplinkNodeID != "CSMS-EU" {
		t.Fatalf("TestLoadConfigFileAndOverrides: unexpected uplink node id %s", cfg.UplinkNodeID)
	}
	if len(cfg.Listeners) != 1 || cfg.Listeners[0] != ":9000" {
		t.Fatalf("TestLoadConfigFileAndOverrides: unexpected listeners %v", cfg.Listeners)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "missing.conf")
	cfg, _, err := LoadConfig([]string{"--configfile", configFile, "--nodeid", "relay-2"})
	if err != nil {
		t.Fatalf("TestLoadConfigDefaults: LoadConfig: %+v", err)
	}
	if cfg.DefaultPolicy != defaultDefaultPolicy {
		t.Fatalf("TestLoadConfigDefaults: unexpected default policy %s", cfg.DefaultPolicy)
	}
	if cfg.RequestTimeout != DefaultRequestTimeout {
		t.Fatalf("TestLoadConfigDefaults: unexpected request timeout %s", cfg.RequestTimeout)
	}
	if len(cfg.Listeners) != 1 || cfg.Listeners[0] != defaultListener {
		t.Fatalf("TestLoadConfigDefaults: unexpected listeners %v", cfg.Listeners)
	}
	if cfg.UplinkTransport() != TransportNone || cfg.UplinkURL() != nil {
		t.Fatalf("TestLoadConfigDefaults: unexpected uplink %s", cfg.Uplink)
	}
	if cfg.Dial == nil {
		t.Fatalf("TestLoadConfigDefaults: no dial function")
	}
}

func TestLoadConfigErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.conf")
	tests := []struct {
		name string
		args []string
	}{
		{"no node id", []string{}},
		{"zero node id", []string{"--nodeid", "-"}},
		{"unknown policy", []string{"--nodeid", "relay-1", "--defaultpolicy", "maybe"}},
		{"negative timeout", []string{"--nodeid", "relay-1", "--requesttimeout", "-1s"}},
		{"uplink scheme", []string{"--nodeid", "relay-1", "--uplink", "http://csms:80"}},
		{"uplink is self", []string{"--nodeid", "relay-1", "--uplink", "ws://csms:80", "--uplinknodeid", "RELAY-1"}},
		{"grpc proxy", []string{"--nodeid", "relay-1", "--uplink", "grpc://csms:50051", "--proxy", "127.0.0.1:9050"}},
		{"bad listener", []string{"--nodeid", "relay-1", "--listen", "nope"}},
		{"profile port", []string{"--nodeid", "relay-1", "--profile", "80"}},
		{"unknown flag", []string{"--nodeid", "relay-1", "--frobnicate"}},
	}
	for _, test := range tests {
		args := append([]string{"--configfile", missing}, test.args...)
		_, _, err := LoadConfig(args)
		if err == nil {
			t.Fatalf("TestLoadConfigErrors: %s: expected an error", test.name)
		}
	}
}

func TestGRPCUplink(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.conf")
	cfg, _, err := LoadConfig([]string{"--configfile", missing, "--nodeid", "relay-1",
		"--uplink", "grpc://csms:50051", "--nolisten"})
	if err != nil {
		t.Fatalf("TestGRPCUplink: LoadConfig: %+v", err)
	}
	if cfg.UplinkTransport() != TransportGRPC || cfg.UplinkNodeID != "CSMS" {
		t.Fatalf("TestGRPCUplink: unexpected uplink %s (%s)", cfg.Uplink, cfg.UplinkNodeID)
	}
	if len(cfg.Listeners) != 0 || len(cfg.GRPCListeners) != 0 {
		t.Fatalf("TestGRPCUplink: --nolisten left listeners %v %v", cfg.Listeners, cfg.GRPCListeners)
	}
}

func TestWebsocketUplinkThroughProxy(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.conf")
	cfg, _, err := LoadConfig([]string{"--configfile", missing, "--nodeid", "relay-1",
		"--uplink", "ws://csms:8180", "--proxy", "127.0.0.1:9050", "--proxyuser", "relay"})
	if err != nil {
		t.Fatalf("TestWebsocketUplinkThroughProxy: LoadConfig: %+v", err)
	}
	if cfg.UplinkTransport() != TransportWebsocket {
		t.Fatalf("TestWebsocketUplinkThroughProxy: unexpected uplink transport %s", cfg.UplinkTransport())
	}
	if cfg.Dial == nil || cfg.ProxyUser != "relay" {
		t.Fatalf("TestWebsocketUplinkThroughProxy: the proxy was not configured")
	}
}

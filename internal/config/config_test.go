package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provchain.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
ledger:
  owner: "registry-owner"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("address default = %q", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "memory" || cfg.Events.Driver != "memory" || cfg.Chain.Driver != "logical" {
		t.Fatalf("driver defaults = %q/%q/%q", cfg.Storage.Driver, cfg.Events.Driver, cfg.Chain.Driver)
	}
	if cfg.Events.Buffer != 1024 || cfg.Chain.StartHeight != 1 {
		t.Fatalf("numeric defaults = %d/%d", cfg.Events.Buffer, cfg.Chain.StartHeight)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("logging defaults = %q/%q", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
ledger:
  owner: "owner"
auth:
  enabled: true
  keys:
    - key: "k1"
      principal: "alice"
storage:
  driver: mysql
  mysql:
    dsn: "user:pass@tcp(db:3306)/provchain?parseTime=true"
    max_open_conns: 5
events:
  driver: rabbitmq
  rabbitmq:
    url: "amqp://guest:guest@mq:5672/"
    queue: "events"
    durable: true
chain:
  driver: ethereum
  ethereum:
    name: "sepolia"
    rpc_url: "https://rpc.example.org"
logging:
  level: debug
  format: text
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("address = %q", cfg.Server.Address)
	}
	if !cfg.Auth.Enabled || len(cfg.Auth.Keys) != 1 || cfg.Auth.Keys[0].Principal != "alice" {
		t.Fatalf("auth = %+v", cfg.Auth)
	}
	if cfg.Storage.MySQL.MaxOpenConns != 5 {
		t.Fatalf("mysql pool = %+v", cfg.Storage.MySQL)
	}
	if cfg.Events.RabbitMQ.Queue != "events" || !cfg.Events.RabbitMQ.Durable {
		t.Fatalf("rabbitmq = %+v", cfg.Events.RabbitMQ)
	}
	if cfg.Chain.Ethereum.RPCURL != "https://rpc.example.org" {
		t.Fatalf("ethereum = %+v", cfg.Chain.Ethereum)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"missing owner": `
server:
  address: ":8080"
`,
		"mysql without dsn": `
ledger:
  owner: "owner"
storage:
  driver: mysql
`,
		"ethereum without rpc": `
ledger:
  owner: "owner"
chain:
  driver: ethereum
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected empty path error")
	}
}

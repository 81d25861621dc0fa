package exchange

import (
	"testing"

	"github.com/OscarNeto021/ROBO/internal/infra"
)

func TestFactoryPaperMode(t *testing.T) {
	cfg := &infra.Config{}
	cfg.Trading.Mode = "PAPER"

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := client.(*MockClient); !ok {
		t.Errorf("PAPER mode should return the in-memory client, got %T", client)
	}
}

func TestFactoryRealModeRequiresLatch(t *testing.T) {
	cfg := &infra.Config{}
	cfg.Trading.Mode = "REAL"
	cfg.Exchange.APIKey = "k"
	cfg.Exchange.APISecret = "s"
	t.Setenv("CONFIRM_REAL_MONEY", "")

	if _, err := NewClient(cfg); err == nil {
		t.Fatal("REAL mode without CONFIRM_REAL_MONEY=true must refuse to start")
	}

	t.Setenv("CONFIRM_REAL_MONEY", "true")
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient with latch: %v", err)
	}
	if _, ok := client.(*RESTClient); !ok {
		t.Errorf("REAL mode should return the REST client, got %T", client)
	}
}

func TestFactoryUnknownMode(t *testing.T) {
	cfg := &infra.Config{}
	cfg.Trading.Mode = "YOLO"

	if _, err := NewClient(cfg); err == nil {
		t.Fatal("unknown mode must error")
	}
}

package bootstrap

import (
	"context"
	"testing"

	"ringcmh/internal/config"
	"ringcmh/internal/domain"
)

func TestStaticDiscoverReturnsConfiguredPeers(t *testing.T) {
	s := Static{Peers: []string{"a:9000", "b:9000"}}
	got, err := s.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(got) != 2 || got[0] != "a:9000" || got[1] != "b:9000" {
		t.Errorf("Discover() = %v, want [a:9000 b:9000]", got)
	}
}

func TestStaticRegisterIsNoOp(t *testing.T) {
	s := Static{}
	if err := s.Register(context.Background(), domain.Node{Addr: "a:9000"}); err != nil {
		t.Errorf("Register failed: %v", err)
	}
}

func TestNoneDiscoverReturnsNothing(t *testing.T) {
	n := None{}
	got, err := n.Discover(context.Background())
	if err != nil || got != nil {
		t.Errorf("Discover() = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestNewDefaultsToNoneForEmptyMode(t *testing.T) {
	d, err := New(config.BootstrapConfig{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := d.(None); !ok {
		t.Errorf("New() = %T, want None", d)
	}
}

func TestNewBuildsStaticForStaticMode(t *testing.T) {
	d, err := New(config.BootstrapConfig{Mode: "static", Peers: []string{"a:9000"}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	s, ok := d.(Static)
	if !ok {
		t.Fatalf("New() = %T, want Static", d)
	}
	if len(s.Peers) != 1 || s.Peers[0] != "a:9000" {
		t.Errorf("Static.Peers = %v, want [a:9000]", s.Peers)
	}
}

func TestNewRejectsDNSModeWithoutRegisterEnabled(t *testing.T) {
	_, err := New(config.BootstrapConfig{Mode: "dns", DNSName: "ring.internal"})
	if err == nil {
		t.Error("New succeeded for dns mode with register disabled, want error")
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	_, err := New(config.BootstrapConfig{Mode: "carrier-pigeon"})
	if err == nil {
		t.Error("New succeeded for an unknown bootstrap mode, want error")
	}
}

// Package testutil holds helpers shared by package tests.
package testutil

import (
	"net/url"
	"testing"
	"time"

	"go.etcd.io/etcd/server/v3/embed"
)

// Etcd is a single-member etcd server running inside the test process
type Etcd struct {
	Server    *embed.Etcd
	Endpoints []string
}

// StartEtcd launches an embedded etcd on loopback ports and stops it when
// the test finishes
func StartEtcd(t testing.TB) *Etcd {
	t.Helper()

	peer := loopbackURL(t)
	client := loopbackURL(t)

	cfg := embed.NewConfig()
	cfg.Dir = t.TempDir()
	cfg.Logger = "zap"
	cfg.LogLevel = "error"
	cfg.EnableGRPCGateway = false
	cfg.InitialCluster = cfg.Name + "=" + peer.String()
	cfg.ListenPeerUrls = []url.URL{peer}
	cfg.AdvertisePeerUrls = []url.URL{peer}
	cfg.ListenClientUrls = []url.URL{client}
	cfg.AdvertiseClientUrls = []url.URL{client}

	e, err := embed.StartEtcd(cfg)
	if err != nil {
		t.Fatalf("start embedded etcd: %v", err)
	}

	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(15 * time.Second):
		e.Server.Stop()
		<-e.Server.StopNotify()
		t.Fatal("embedded etcd not ready after 15s")
	}

	endpoints := make([]string, 0, len(e.Clients))
	for _, l := range e.Clients {
		endpoints = append(endpoints, l.Addr().String())
	}

	t.Cleanup(func() {
		e.Close()
		select {
		case <-e.Server.StopNotify():
		case <-time.After(5 * time.Second):
		}
	})

	return &Etcd{Server: e, Endpoints: endpoints}
}

func loopbackURL(t testing.TB) url.URL {
	t.Helper()

	u, err := url.Parse("http://127.0.0.1:0")
	if err != nil {
		t.Fatalf("parse loopback url: %v", err)
	}
	return *u
}

package pinger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/vrlclient/ingest/internal/config"
	"github.com/vrlclient/ingest/internal/status"
	"github.com/vrlclient/ingest/internal/store"
	"github.com/vrlclient/ingest/pkg/logger"
)

func TestSendHeartbeatPostsSignedBody(t *testing.T) {
	var received heartbeatBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing/incorrect bearer token: %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Signature") == "" {
			t.Error("missing X-Signature header")
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	pub := status.NewPublisher(status.Snapshot{
		RunID:        "run-1",
		StartedAt:    time.Now().Add(-10 * time.Second),
		TCPConnected: true,
		SystemInfo:   "linux/amd64",
		Stages: status.Stages{
			Dependencies:  true,
			Config:        true,
			Database:      true,
			TimeSync:      true,
			Decoder:       true,
			TCPConnection: true,
		},
	})

	api := config.APIConfig{StatusURL: srv.URL, ClientID: 42, SecretKey: "k", BearerToken: "tok", TimeoutSeconds: 5, PingInterval: 1}
	p := New(api, "0.1.0", pub, s, log)

	if err := p.sendHeartbeat(context.Background()); err != nil {
		t.Fatalf("sendHeartbeat: %v", err)
	}

	if received.ClientID != 42 {
		t.Errorf("client_id = %d, want 42", received.ClientID)
	}
	if received.Version != "0.1.0" {
		t.Errorf("version = %q, want 0.1.0", received.Version)
	}
	if !received.TCPConnected {
		t.Error("expected tcp_connected = true")
	}
	if received.SystemInfo != "linux/amd64" {
		t.Errorf("system_info = %q, want linux/amd64", received.SystemInfo)
	}
	if !received.Stages.Dependencies || !received.Stages.Config || !received.Stages.Database ||
		!received.Stages.TimeSync || !received.Stages.Decoder || !received.Stages.TCPConnection {
		t.Errorf("expected all stages true, got %+v", received.Stages)
	}
}

func TestSendHeartbeatErrorsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	pub := status.NewPublisher(status.Snapshot{RunID: "run-1", StartedAt: time.Now()})
	api := config.APIConfig{StatusURL: srv.URL, SecretKey: "k", BearerToken: "tok", TimeoutSeconds: 5}
	p := New(api, "0.1.0", pub, s, log)

	if err := p.sendHeartbeat(context.Background()); err == nil {
		t.Error("expected an error for a 5xx heartbeat response")
	}
}

// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*EventBusService)(nil)
)

type fakeHTTPServer struct {
	listenErr   error
	shutdownErr error
	listens     atomic.Int32
	shutdowns   atomic.Int32
	started     chan struct{}
	stop        chan struct{}
	once        sync.Once
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{
		started: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	f.listens.Add(1)
	select {
	case f.started <- struct{}{}:
	default:
	}
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	f.once.Do(func() { close(f.stop) })
	return f.shutdownErr
}

func waitStarted(t *testing.T, f *fakeHTTPServer) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(time.Second):
		t.Fatal("server did not start")
	}
}

func TestNewHTTPServerService_Timeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"explicit", 3 * time.Second, 3 * time.Second},
		{"zero", 0, defaultShutdownTimeout},
		{"negative", -time.Second, defaultShutdownTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := NewHTTPServerService(newFakeHTTPServer(), tt.in)
			if svc.shutdownTimeout != tt.want {
				t.Errorf("shutdownTimeout = %v, want %v", svc.shutdownTimeout, tt.want)
			}
			if svc.String() != "http-server" {
				t.Errorf("String() = %q", svc.String())
			}
		})
	}
}

func TestHTTPServerService_GracefulShutdown(t *testing.T) {
	t.Parallel()

	server := newFakeHTTPServer()
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	waitStarted(t, server)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if server.shutdowns.Load() != 1 {
		t.Errorf("Shutdown calls = %d, want 1", server.shutdowns.Load())
	}
}

func TestHTTPServerService_ListenFailure(t *testing.T) {
	t.Parallel()

	bindErr := errors.New("bind: address already in use")
	server := newFakeHTTPServer()
	server.listenErr = bindErr

	err := NewHTTPServerService(server, time.Second).Serve(context.Background())
	if !errors.Is(err, bindErr) {
		t.Errorf("Serve() error = %v, want wrapping %v", err, bindErr)
	}
}

func TestHTTPServerService_ShutdownFailure(t *testing.T) {
	t.Parallel()

	drainErr := errors.New("drain deadline exceeded")
	server := newFakeHTTPServer()
	server.shutdownErr = drainErr
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	waitStarted(t, server)
	cancel()

	if err := <-errCh; !errors.Is(err, drainErr) {
		t.Errorf("Serve() error = %v, want wrapping %v", err, drainErr)
	}
}

func TestHTTPServerService_RealServer(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	srv := &http.Server{
		Addr: addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
		ReadHeaderTimeout: time.Second,
	}

	sup := suture.New("test", suture.Spec{Timeout: 2 * time.Second})
	sup.Add(NewHTTPServerService(srv, time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://" + addr + "/")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}

	cancel()
	<-errCh
}

type fakeCloser struct {
	closes atomic.Int32
	err    error
}

func (f *fakeCloser) Close() error {
	f.closes.Add(1)
	return f.err
}

func TestEventBusService_ClosesOnShutdown(t *testing.T) {
	t.Parallel()

	for _, closeErr := range []error{nil, errors.New("nats: connection closed")} {
		bus := &fakeCloser{err: closeErr}
		svc := NewEventBusService(bus)
		if svc.String() != "event-bus" {
			t.Errorf("String() = %q", svc.String())
		}

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- svc.Serve(ctx) }()

		time.Sleep(10 * time.Millisecond)
		if bus.closes.Load() != 0 {
			t.Fatal("bus closed before shutdown")
		}
		cancel()

		if err := <-errCh; !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
		if bus.closes.Load() != 1 {
			t.Errorf("Close calls = %d, want 1", bus.closes.Load())
		}
	}
}

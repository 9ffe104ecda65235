// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package eventbus

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/logging"
)

// StreamName is the JetStream stream holding every security.* subject.
const StreamName = "AEGIS_SECURITY"

const (
	streamSubjects  = "security.>"
	streamMaxAge    = 24 * time.Hour
	duplicateWindow = 2 * time.Minute

	// defaultDurablePrefix names consumers when none is configured. The
	// subscriber binds to StreamName, which requires a durable consumer.
	defaultDurablePrefix = "aegis"
)

func newNATSBus(ctx context.Context, cfg config.EventBusConfig, logger watermill.LoggerAdapter) (*Bus, error) {
	bus := &Bus{driver: DriverNATS, breaker: newPublishBreaker(), logger: logger}

	natsURL := cfg.URL
	if cfg.EmbeddedServer {
		srv, err := NewEmbeddedServer(cfg)
		if err != nil {
			return nil, err
		}
		bus.server = srv
		natsURL = srv.ClientURL()
	}
	if natsURL == "" {
		natsURL = natsgo.DefaultURL
	}

	if err := ensureStream(ctx, natsURL); err != nil {
		bus.shutdownServer()
		return nil, err
	}

	natsOpts := connectOptions(logger)
	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         natsURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		bus.shutdownServer()
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	ackWait := cfg.AckWaitTimeout
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}
	subscribers := cfg.SubscribersCount
	if subscribers <= 0 {
		subscribers = 1
	}
	durable := cfg.DurablePrefix
	if durable == "" {
		durable = defaultDurablePrefix
	}
	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              natsURL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: subscribers,
		AckWaitTimeout:   ackWait,
		CloseTimeout:     10 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.BindStream(StreamName),
				natsgo.AckWait(ackWait),
				natsgo.DeliverNew(),
			},
			DurablePrefix: durable,
		},
	}, logger)
	if err != nil {
		_ = pub.Close()
		bus.shutdownServer()
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}

	bus.publisher = pub
	bus.subscriber = sub
	logging.Info().Str("url", natsURL).Bool("embedded", cfg.EmbeddedServer).Msg("event bus connected to NATS JetStream")
	return bus, nil
}

func connectOptions(logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name("aegis"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
}

// ensureStream creates or updates the security stream.
func ensureStream(ctx context.Context, natsURL string) error {
	nc, err := natsgo.Connect(natsURL, natsgo.Name("aegis-stream-init"))
	if err != nil {
		return fmt.Errorf("connect to NATS %s: %w", natsURL, err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("jetstream context: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{streamSubjects},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     streamMaxAge,
		Duplicates: duplicateWindow,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}
	return nil
}

func (b *Bus) shutdownServer() {
	if b.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = b.server.Shutdown(ctx)
}

// EmbeddedServer is an in-process NATS JetStream server for deployments
// without an external broker.
type EmbeddedServer struct {
	server    *server.Server
	clientURL string
}

// NewEmbeddedServer starts a JetStream server. The listen port comes from
// cfg.URL; without one a random local port is used.
func NewEmbeddedServer(cfg config.EventBusConfig) (*EmbeddedServer, error) {
	host, port := "127.0.0.1", server.RANDOM_PORT
	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse eventbus url: %w", err)
		}
		if h := u.Hostname(); h != "" {
			host = h
		}
		if p := u.Port(); p != "" {
			if port, err = strconv.Atoi(p); err != nil {
				return nil, fmt.Errorf("parse eventbus port: %w", err)
			}
		}
	}

	opts := &server.Options{
		ServerName: "aegis-events",
		Host:       host,
		Port:       port,
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 8 * 1024 * 1024,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within timeout")
	}
	return &EmbeddedServer{server: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the connection URL for clients.
func (s *EmbeddedServer) ClientURL() string {
	return s.clientURL
}

// Running reports whether the server accepts connections.
func (s *EmbeddedServer) Running() bool {
	return s.server.Running()
}

// Shutdown stops the server and waits for it unless ctx ends first.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	s.server.Shutdown()
	done := make(chan struct{})
	go func() {
		s.server.WaitForShutdown()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

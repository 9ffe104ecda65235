// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

/*
Package supervisor runs the long-lived Aegis services under suture v4.

The tree:

	aegis
	├── data-layer
	│   ├── async-runner       (pipeline side effects)
	│   └── scheduler          (cron and interval maintenance jobs)
	├── messaging-layer
	│   ├── event-bus          (closes watermill pub/sub and embedded NATS)
	│   ├── websocket-hub
	│   └── websocket-bridge   (bus topics to hub channels)
	└── api-layer
	    └── http-server

Each layer is its own supervisor, so failures are counted per layer and a
restarting service only restarts its siblings' supervisor, never root.
Supervisor events are logged through sutureslog.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
	    ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddDataService(runner)
	tree.AddMessagingService(hub)
	tree.AddAPIService(services.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))
	err = tree.Serve(ctx)
*/
package supervisor

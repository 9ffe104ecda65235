// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

/*
Package websocket pushes security events to live dashboards.

A Hub owns the connected clients; each Client runs a read pump and a write
pump over a gorilla/websocket connection. The Bridge consumes every
event bus topic and hands events to the hub, which forwards them to the
clients subscribed to the topic's channel.

Frames sent to clients:

	{"type": "SECURITY_INCIDENT", "data": {...}, "timestamp": "..."}

On connect the client receives CONNECTION_ESTABLISHED carrying its
clientId. Clients may send:

	{"type": "SUBSCRIBE", "channels": ["incidents", "alerts"]}
	{"type": "UNSUBSCRIBE", "channels": ["alerts"]}
	{"type": "GET_METRICS"}

Channels are threats, incidents, alerts and metrics. A client with no
subscriptions receives everything. GET_METRICS is answered with a
METRICS_UPDATE frame to that client only.

A client whose 256-message buffer fills is disconnected rather than
allowed to stall the hub.
*/
package websocket

// Package controller implements the client-facing routing layer of vidcdn. It
// decides, per request, whether an object is served from a replica or from
// the origin, and relays the chosen upstream's bytes to the client.
//
// # Overview
//
// The controller holds no objects. It knows the origin and a fixed, ordered
// replica set, and keeps one round-robin cursor per object name. Every
// decision is made fresh per request; nothing about object placement is
// cached.
//
// # Architecture
//
//	┌──────────────────────────────────────┐
//	│             CONTROLLER               │
//	├──────────────────────────────────────┤
//	│                                      │
//	│  ┌────────────────────────────────┐  │
//	│  │  Server                        │  │
//	│  │  - GET /{name} relay           │  │
//	│  │  - /videos, /replicas, /health │  │
//	│  └───────────────┬────────────────┘  │
//	│                  │                   │
//	│  ┌───────────────▼────────────────┐  │
//	│  │  Router                        │  │
//	│  │  - probe replicas (HEAD)       │  │
//	│  │  - dispatch by Cursor (GET)    │  │
//	│  │  - fall back to origin         │  │
//	│  └────────────────────────────────┘  │
//	│                                      │
//	│  ┌────────────────────────────────┐  │
//	│  │  HealthMonitor                 │  │
//	│  │  - periodic /health checks     │  │
//	│  │  - replica_up gauge            │  │
//	│  └────────────────────────────────┘  │
//	│                                      │
//	└──────────────────────────────────────┘
//
// # Request Routing Protocol
//
// A GET for an object moves through these states:
//
//	PROBE ──found──▶ DISPATCH ──200──▶ SUCCESS
//	  │                 │
//	  │ none        exhausted
//	  ▼                 ▼
//	FALLBACK ◀──────────┘
//	  │
//	  ├──200──▶ SUCCESS
//	  └──else─▶ FAILURE (500 {"error": "<name> not available on any server"})
//
// 1. Probe:
//   - HEAD each replica in order, stopping at the first 200
//   - Connection errors and timeouts count as absence
//
// 2. Dispatch:
//   - At most one GET per replica
//   - Each attempt takes the object's cursor position and advances it
//   - The first 200 is relayed; anything else moves to the next replica
//
// 3. Fallback:
//   - GET the origin; 200 is relayed, anything else is a failure
//
// Probe and dispatch are evaluated independently. The replica the cursor
// selects need not be the one that answered the probe; it is simply tried
// and skipped if it cannot deliver.
//
// # Relaying
//
// The upstream body is copied to the client in fixed-size chunks and flushed
// as it arrives. If the client goes away, the copy stops, the upstream body is
// closed, and the event is logged at debug level. Nothing is retried.
//
// # Health Monitoring
//
// HealthMonitor checks each replica's /health endpoint on an interval and
// marks a replica unhealthy after three consecutive failures. Its state is
// reported through /replicas and the vidcdn_controller_replica_up gauge. It
// does not influence dispatch.
//
// # Usage Example
//
//	client := cluster.NewClient(cluster.ClientOptions{Timeout: 30 * time.Second}, logger)
//	router := controller.NewRouter(client, origin, replicas, m, logger)
//
//	mux := http.NewServeMux()
//	controller.NewServer(router, client, nil, m, logger).Register(mux)
//	http.ListenAndServe(":8084", mux)
package controller

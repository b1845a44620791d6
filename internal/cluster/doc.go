// Package cluster holds the protocol shared by the controller, the origin
// and the replicas: node identity, the fixed replica set, wire constants and
// the HTTP client every node uses to talk to its peers.
//
// # Topology
//
//	          ┌──────────────┐   fallback   ┌──────────┐
//	client ─▶ │  Controller  │ ───────────▶ │  Origin  │
//	          └──────┬───────┘              └────┬─────┘
//	                 │ HEAD / GET                │ POST /replicate
//	                 ▼                           ▼ (fan-out)
//	          ┌─────────────────────────────────────────┐
//	          │  Replica 1  │  Replica 2  │  Replica 3  │
//	          └─────────────────────────────────────────┘
//
// # Protocol
//
// Object probe (HEAD /{name}): 200 if held, 404 otherwise, empty body.
//
// Object fetch (GET /{name}): 200 with the object streamed as video/mp4,
// 404 if absent.
//
// Replicate push (POST /replicate): multipart form with a video_name text
// field followed by a video file part. 200 once stored, 500 on any failure.
// Pushes carry no idempotency token; a repeated push overwrites.
//
// Listing (GET /videos, origin only): JSON array of object names.
//
// # Failure Handling
//
// Client methods separate two outcomes:
//   - the peer answered with an unexpected status: *StatusError
//   - the peer could not be reached, reset the connection, or did not
//     answer in time: an error wrapping ErrPeerUnavailable
//
// Callers treat both as "try the next option". Nothing in this package
// retries.
//
// # Timeouts
//
// HEAD probes, replicate pushes and listings are bounded end to end by
// ClientOptions.Timeout. Streamed fetches are bounded only until response
// headers arrive, since a relayed video may legitimately take longer than
// any fixed deadline; the body is bounded by the requesting client's context.
package cluster

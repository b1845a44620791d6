package controller

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/dreamware/vidcdn/internal/cluster"
	"github.com/dreamware/vidcdn/internal/metrics"
)

// ErrExhausted is returned when neither a replica nor the origin could
// provide an object.
var ErrExhausted = errors.New("not available on any server")

// SourceKind names the tier that is serving a request.
type SourceKind string

const (
	SourceReplica SourceKind = "replica"
	SourceOrigin  SourceKind = "origin"
)

// Source is an open upstream response chosen by the router. The caller
// relays Body and must close it.
type Source struct {
	Kind SourceKind
	Node cluster.NodeInfo
	Body io.ReadCloser
}

// Router decides where a request for an object is served from.
//
// It first probes the replicas in order. If any replica reports the object,
// up to one fetch per replica is made in round-robin order, starting from
// the object's cursor position. If no replica has the object, or every
// dispatched fetch fails, the object is fetched from the origin.
//
// The probe and the dispatch are independent: the replica picked by the
// cursor need not be the one that answered the probe.
type Router struct {
	client   *cluster.Client
	origin   cluster.NodeInfo
	replicas cluster.ReplicaSet
	cursor   *Cursor
	metrics  *metrics.ControllerMetrics
	logger   zerolog.Logger
}

// NewRouter creates a router over a fixed replica set.
func NewRouter(client *cluster.Client, origin cluster.NodeInfo, replicas cluster.ReplicaSet,
	m *metrics.ControllerMetrics, logger zerolog.Logger) *Router {
	return &Router{
		client:   client,
		origin:   origin,
		replicas: replicas.Clone(),
		cursor:   NewCursor(),
		metrics:  m,
		logger:   logger.With().Str("component", "router").Logger(),
	}
}

// Replicas returns the router's replica set.
func (r *Router) Replicas() cluster.ReplicaSet {
	return r.replicas.Clone()
}

// Locate opens an upstream response for name. It returns ErrExhausted when
// no server could provide it.
func (r *Router) Locate(ctx context.Context, name string) (*Source, error) {
	if r.replicas.Len() > 0 {
		if holder, ok := r.client.Probe(ctx, r.replicas, name); ok {
			r.logger.Debug().Str("object", name).Str("replica", holder.ID).Msg("object cached on replicas")
			if src := r.dispatch(ctx, name); src != nil {
				return src, nil
			}
			r.logger.Warn().Str("object", name).Msg("every replica failed, falling back to origin")
		}
	}

	body, err := r.client.Fetch(ctx, r.origin, name)
	if err != nil {
		if cluster.IsNotFound(err) {
			r.logger.Info().Str("object", name).Msg("object not found on origin")
		} else {
			r.logger.Warn().Err(err).Str("object", name).Msg("origin fetch failed")
		}
		return nil, fmt.Errorf("%s %w", name, ErrExhausted)
	}
	return &Source{Kind: SourceOrigin, Node: r.origin, Body: body}, nil
}

// dispatch tries each replica at most once, in cursor order. Every attempt
// advances the cursor, whether it succeeds or not.
func (r *Router) dispatch(ctx context.Context, name string) *Source {
	n := r.replicas.Len()
	for range n {
		node := r.replicas[r.cursor.Next(name, n)]

		body, err := r.client.Fetch(ctx, node, name)
		r.metrics.DispatchAttempts.WithLabelValues(node.ID, attemptResult(err)).Inc()
		if err == nil {
			return &Source{Kind: SourceReplica, Node: node, Body: body}
		}
		r.logger.Warn().Err(err).Str("object", name).Str("replica", node.ID).Msg("replica fetch failed")
	}
	return nil
}

func attemptResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case cluster.IsNotFound(err):
		return metrics.ResultNotFound
	case errors.Is(err, cluster.ErrPeerUnavailable):
		return metrics.ResultUnavailable
	default:
		return metrics.ResultError
	}
}

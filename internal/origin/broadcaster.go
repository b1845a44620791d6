package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"

	"github.com/dreamware/vidcdn/internal/cluster"
	"github.com/dreamware/vidcdn/internal/metrics"
	"github.com/dreamware/vidcdn/internal/storage"
)

// DefaultBroadcastTimeout bounds one broadcast when none is configured.
const DefaultBroadcastTimeout = 2 * time.Minute

// ReplicationResult is the outcome of one replicate push.
type ReplicationResult struct {
	Peer     cluster.NodeInfo
	Err      error
	Duration time.Duration
}

// BroadcastReport summarizes one broadcast.
type BroadcastReport struct {
	ID     string
	Object string
	// CachedOn is set when a replica already held the object and no push
	// was made.
	CachedOn *cluster.NodeInfo
	Results  []ReplicationResult
	Err      error
}

// Broadcaster pushes objects served by the origin to every replica that
// lacks them. Broadcasts run in the background; at most one per object is
// in flight at a time.
type Broadcaster struct {
	client   *cluster.Client
	replicas cluster.ReplicaSet
	store    storage.BlobStore
	timeout  time.Duration
	metrics  *metrics.OriginMetrics
	logger   zerolog.Logger

	// inflight maps object name to broadcast ID. Entries expire after the
	// broadcast timeout so a wedged broadcast cannot block an object forever.
	inflight *ttlcache.Cache[string, string]
	mu       sync.Mutex // Orders claim and release of inflight entries
	wg       sync.WaitGroup

	// onDone is called with each finished broadcast's report.
	onDone func(BroadcastReport)
}

// NewBroadcaster creates a broadcaster and starts its expiry loop.
// Call Close to release it.
func NewBroadcaster(client *cluster.Client, replicas cluster.ReplicaSet, store storage.BlobStore,
	timeout time.Duration, m *metrics.OriginMetrics, logger zerolog.Logger) *Broadcaster {
	if timeout <= 0 {
		timeout = DefaultBroadcastTimeout
	}
	inflight := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](timeout),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go inflight.Start()

	return &Broadcaster{
		client:   client,
		replicas: replicas.Clone(),
		store:    store,
		timeout:  timeout,
		metrics:  m,
		logger:   logger.With().Str("component", "broadcaster").Logger(),
		inflight: inflight,
	}
}

// OnDone registers fn to receive every finished broadcast's report. It must
// be set before the first Trigger.
func (b *Broadcaster) OnDone(fn func(BroadcastReport)) {
	b.onDone = fn
}

// Trigger starts a background broadcast of name unless one is already in
// flight. It never blocks on the network. The broadcast keeps ctx's values
// but not its cancellation, so it outlives the request that caused it.
//
// Returns true if a broadcast was started.
func (b *Broadcaster) Trigger(ctx context.Context, name string) bool {
	if b.replicas.Len() == 0 {
		return false
	}

	id := uuid.NewString()
	b.mu.Lock()
	_, running := b.inflight.GetOrSet(name, id)
	b.mu.Unlock()
	if running {
		b.metrics.BroadcastsTotal.WithLabelValues(metrics.BroadcastSkipped).Inc()
		b.logger.Debug().Str("object", name).Msg("broadcast already in flight")
		return false
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.release(name, id)

		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()

		report := b.Broadcast(bctx, id, name)
		if b.onDone != nil {
			b.onDone(report)
		}
	}()
	return true
}

// release drops name's in-flight entry if it still belongs to broadcast id.
// An entry that expired and was claimed by a newer broadcast is left alone.
func (b *Broadcaster) release(name, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if item := b.inflight.Get(name); item != nil && item.Value() == id {
		b.inflight.Delete(name)
	}
}

// Broadcast runs one broadcast synchronously: it probes the replicas in
// order and, if none holds name, pushes the local copy to all of them
// concurrently. Every push settles before Broadcast returns.
func (b *Broadcaster) Broadcast(ctx context.Context, id, name string) BroadcastReport {
	report := BroadcastReport{ID: id, Object: name}
	logger := b.logger.With().Str("broadcast", id).Str("object", name).Logger()

	if node, ok := b.client.Probe(ctx, b.replicas, name); ok {
		report.CachedOn = &node
		b.metrics.BroadcastsTotal.WithLabelValues(metrics.BroadcastCached).Inc()
		logger.Debug().Str("replica", node.ID).Msg("object already cached")
		return report
	}

	payload, err := b.readLocal(name)
	if err != nil {
		report.Err = err
		b.metrics.BroadcastsTotal.WithLabelValues(metrics.BroadcastFailed).Inc()
		logger.Error().Err(err).Msg("read object for broadcast")
		return report
	}

	report.Results = b.push(ctx, name, payload)
	b.metrics.BroadcastsTotal.WithLabelValues(metrics.BroadcastPushed).Inc()

	failed := 0
	for _, res := range report.Results {
		if res.Err != nil {
			failed++
		}
	}
	logger.Info().
		Int("replicas", len(report.Results)).
		Int("failed", failed).
		Int("bytes", len(payload)).
		Msg("broadcast complete")
	return report
}

func (b *Broadcaster) readLocal(name string) ([]byte, error) {
	rc, err := b.store.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	payload, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return payload, nil
}

// push sends payload to every replica concurrently. Results are indexed
// like b.replicas.
func (b *Broadcaster) push(ctx context.Context, name string, payload []byte) []ReplicationResult {
	results := make([]ReplicationResult, len(b.replicas))

	var wg sync.WaitGroup
	for i, node := range b.replicas {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := b.client.Replicate(ctx, node, name, payload)
			results[i] = ReplicationResult{Peer: node, Err: err, Duration: time.Since(start)}

			result := metrics.ResultOK
			switch {
			case errors.Is(err, cluster.ErrPeerUnavailable):
				result = metrics.ResultUnavailable
			case err != nil:
				result = metrics.ResultError
			}
			b.metrics.ReplicationsTotal.WithLabelValues(node.ID, result).Inc()

			if err != nil {
				b.logger.Warn().Err(err).Str("replica", node.ID).Str("object", name).Msg("replicate failed")
				return
			}
			b.logger.Info().Str("replica", node.ID).Str("object", name).
				Dur("took", results[i].Duration).Msg("object replicated")
		}()
	}
	wg.Wait()
	return results
}

// Wait blocks until every triggered broadcast has finished.
func (b *Broadcaster) Wait() {
	b.wg.Wait()
}

// Close waits for running broadcasts and stops the expiry loop.
func (b *Broadcaster) Close() {
	b.Wait()
	b.inflight.Stop()
}

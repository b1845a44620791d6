package controller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/vidcdn/internal/cluster"
	"github.com/dreamware/vidcdn/internal/metrics"
)

// Replica health states.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusUnknown   = "unknown"
)

// ReplicaHealth tracks the health status of a single replica.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type ReplicaHealth struct {
	LastCheck        time.Time `json:"last_check"`        // Timestamp of the last health check attempt
	LastHealthy      time.Time `json:"last_healthy"`      // Timestamp of the last successful health check
	NodeID           string    `json:"node_id"`           // Replica identifier
	Addr             string    `json:"addr"`              // Replica base URL
	Status           string    `json:"status"`            // "healthy", "unhealthy" or "unknown"
	ConsecutiveFails int       `json:"consecutive_fails"` // Number of consecutive failed health checks
}

// HealthMonitor performs periodic health checks on the replicas.
//
// The monitor is observational: it feeds the replica_up gauge and the
// /replicas endpoint, and never changes which replicas the router
// dispatches to.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	nodes       map[string]*ReplicaHealth                              // Current health status per replica
	client      *cluster.Client                                        // Peer client for health checks
	checkFunc   func(ctx context.Context, node cluster.NodeInfo) error // Function to perform health check
	metrics     *metrics.ControllerMetrics                             // Receives replica_up updates
	logger      zerolog.Logger                                         // Component logger
	ctx         context.Context                                        // Context for cancellation
	cancel      context.CancelFunc                                     // Cancel function for shutdown
	interval    time.Duration                                          // How often to check replica health
	timeout     time.Duration                                          // Deadline for a single check
	mu          sync.RWMutex                                           // Protects nodes map
	wg          sync.WaitGroup                                         // Wait group for graceful shutdown
	maxFailures int                                                    // Failures before marking unhealthy
}

// NewHealthMonitor creates a new health monitor with the specified check interval.
// The monitor will check each replica's /health endpoint every interval.
// Replicas are marked unhealthy after 3 consecutive failures.
//
// Parameters:
//   - interval: How often to perform health checks (recommended: 5s)
//   - client: Peer client, so checks follow the process trust policy
//   - m: Controller metrics receiving replica_up updates (may be nil)
//   - logger: Parent logger
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, client, m, logger)
//	go monitor.Start(ctx, router.Replicas)
func NewHealthMonitor(interval time.Duration, client *cluster.Client, m *metrics.ControllerMetrics, logger zerolog.Logger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second, // 2 second timeout for health checks
		maxFailures: 3,               // Mark unhealthy after 3 failures
		nodes:       make(map[string]*ReplicaHealth),
		client:      client,
		metrics:     m,
		logger:      logger.With().Str("component", "health-monitor").Logger(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins the health monitoring process in the current goroutine.
// It periodically checks all replicas returned by nodeProvider.
// This method blocks until ctx is canceled or Stop is called.
//
// Parameters:
//   - ctx: Context for cancellation (nil means the monitor's internal context)
//   - nodeProvider: Function that returns the replicas to check
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() cluster.ReplicaSet) {
	h.wg.Add(1)
	defer h.wg.Done()

	// Use the provided context or fall back to internal
	if ctx == nil {
		ctx = h.ctx
	}
	// Stop also cancels checks in flight.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopOnClose := context.AfterFunc(h.ctx, cancel)
	defer stopOnClose()

	// Set default health check function if not configured
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info().Dur("interval", h.interval).Msg("health monitor started")

	// Perform initial health check immediately
	h.checkAllNodes(ctx, nodeProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(ctx, nodeProvider())
		case <-ctx.Done():
			h.logger.Debug().Msg("health monitor stopping due to context cancellation")
			return
		case <-h.ctx.Done():
			h.logger.Debug().Msg("health monitor stopping due to internal cancellation")
			return
		}
	}
}

// Stop gracefully shuts down the health monitor.
// It cancels the monitoring goroutine and waits for it to complete.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	h.logger.Info().Msg("health monitor stopped")
}

// checkAllNodes performs health checks on all provided replicas and stops
// tracking replicas that are no longer listed. Checks are bounded by ctx.
func (h *HealthMonitor) checkAllNodes(ctx context.Context, nodes cluster.ReplicaSet) {
	currentNodes := make(map[string]bool)

	for _, node := range nodes {
		currentNodes[node.ID] = true
		if ctx.Err() != nil {
			return
		}
		h.checkNode(ctx, node)
	}

	h.mu.Lock()
	for nodeID := range h.nodes {
		if !currentNodes[nodeID] {
			delete(h.nodes, nodeID)
			if h.metrics != nil {
				h.metrics.ReplicaUp.DeleteLabelValues(nodeID)
			}
			h.logger.Info().Str("replica", nodeID).Msg("removed replica from health monitoring")
		}
	}
	h.mu.Unlock()
}

// checkNode performs a health check on a single replica.
//
// Implementation:
//  1. Get or create health record for the replica
//  2. Perform HTTP health check
//  3. Track consecutive failures
//  4. Mark unhealthy once the threshold is reached
//  5. Publish the status to the replica_up gauge
func (h *HealthMonitor) checkNode(parent context.Context, node cluster.NodeInfo) {
	h.mu.Lock()
	health, exists := h.nodes[node.ID]
	if !exists {
		health = &ReplicaHealth{
			NodeID:      node.ID,
			Addr:        node.Addr,
			Status:      StatusUnknown,
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.nodes[node.ID] = health
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, h.timeout)
	err := h.checkFunc(ctx, node)
	cancel()
	if parent.Err() != nil {
		// Interrupted by shutdown, not a verdict on the replica.
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		h.logger.Warn().Err(err).
			Str("replica", node.ID).
			Int("attempt", health.ConsecutiveFails).
			Int("max", h.maxFailures).
			Msg("health check failed")

		if health.ConsecutiveFails >= h.maxFailures && health.Status != StatusUnhealthy {
			health.Status = StatusUnhealthy
			h.logger.Warn().Str("replica", node.ID).
				Int("failures", health.ConsecutiveFails).
				Msg("replica marked as unhealthy")
		}
	} else {
		if health.Status == StatusUnhealthy {
			h.logger.Info().Str("replica", node.ID).Msg("replica recovered and is now healthy")
		}
		health.Status = StatusHealthy
		health.ConsecutiveFails = 0
		health.LastHealthy = time.Now()
	}

	if h.metrics != nil {
		up := 0.0
		if health.Status == StatusHealthy {
			up = 1
		}
		h.metrics.ReplicaUp.WithLabelValues(node.ID).Set(up)
	}
}

// defaultHealthCheck asks the replica's /health endpoint through the peer client.
func (h *HealthMonitor) defaultHealthCheck(ctx context.Context, node cluster.NodeInfo) error {
	return h.client.Health(ctx, node)
}

// GetNodeHealth returns a copy of a replica's current health status,
// or nil if the replica is not being monitored.
func (h *HealthMonitor) GetNodeHealth(nodeID string) *ReplicaHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeID]
	if !exists {
		return nil
	}

	// Return a copy to prevent external modification
	cp := *health
	return &cp
}

// GetAllNodeHealth returns a copy of every monitored replica's health,
// keyed by replica ID.
func (h *HealthMonitor) GetAllNodeHealth() map[string]*ReplicaHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*ReplicaHealth, len(h.nodes))
	for id, health := range h.nodes {
		cp := *health
		result[id] = &cp
	}

	return result
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/mattjoyce/switchboard/internal/metrics"
	"github.com/mattjoyce/switchboard/internal/protocol"
	"github.com/mattjoyce/switchboard/internal/state"
)

// Metric names reported by CollectMetrics.
const (
	MetricMessagesSent     = "messages_sent"
	MetricMessagesReceived = "messages_received"
)

func (cp *ControlPlane) collectMetricsCommand(ctx context.Context, account, conversation string, _ protocol.Command) error {
	return cp.CollectMetrics(ctx, account, conversation)
}

// CollectMetrics counts the conversation's messages across its batches and
// records them in the metric aggregator. A conversation that no longer exists
// is skipped.
func (cp *ControlPlane) CollectMetrics(ctx context.Context, accountKey, conversationKey string) error {
	conv, err := cp.store.GetConversation(ctx, accountKey, conversationKey)
	if errors.Is(err, state.ErrNotFound) {
		cp.logger.Debug("conversation gone, skipping metrics", "account_key", accountKey, "conversation_key", conversationKey)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	var sent, received int64
	for _, batchID := range conv.BatchIDs {
		out, err := cp.store.CountByDirection(ctx, batchID, string(protocol.Outbound))
		if err != nil {
			return fmt.Errorf("batch %s: %w", batchID, err)
		}
		in, err := cp.store.CountByDirection(ctx, batchID, string(protocol.Inbound))
		if err != nil {
			return fmt.Errorf("batch %s: %w", batchID, err)
		}
		sent += out
		received += in
	}

	for metric, value := range map[string]int64{
		MetricMessagesSent:     sent,
		MetricMessagesReceived: received,
	} {
		name := metrics.Name(accountKey, conversationKey, metric)
		if cp.metrics.Register(name) {
			cp.logger.Debug("registered metric", "metric", name)
		}
		cp.metrics.Set(name, float64(value))
	}
	return nil
}

func (cp *ControlPlane) reconcileCacheCommand(ctx context.Context, account, conversation string, cmd protocol.Command) error {
	delta := cp.delta
	if raw, ok := cmd.Kwargs["delta"]; ok {
		d, err := parseDelta(raw)
		if err != nil {
			return fmt.Errorf("reconcile_cache: %w", err)
		}
		delta = d
	}
	_, err := cp.ReconcileCache(ctx, account, conversation, delta)
	return err
}

func parseDelta(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("delta has unsupported type %T", raw)
	}
}

// Drift is the relative difference between a cached and an authoritative
// count.
func Drift(cached, actual int64) float64 {
	return math.Abs(float64(cached-actual)) / math.Max(float64(actual), 1)
}

// ReconcileCache compares each batch's cached count with its authoritative
// count and recomputes only the batches drifting by more than delta. It
// returns the number of batches recomputed.
func (cp *ControlPlane) ReconcileCache(ctx context.Context, accountKey, conversationKey string, delta float64) (int, error) {
	conv, err := cp.store.GetConversation(ctx, accountKey, conversationKey)
	if errors.Is(err, state.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load conversation: %w", err)
	}

	recomputed := 0
	for _, batchID := range conv.BatchIDs {
		cached, err := cp.store.CachedCount(ctx, batchID)
		if err != nil {
			return recomputed, fmt.Errorf("batch %s: %w", batchID, err)
		}
		actual, err := cp.store.Count(ctx, batchID)
		if err != nil {
			return recomputed, fmt.Errorf("batch %s: %w", batchID, err)
		}
		drift := Drift(cached, actual)
		if drift <= delta {
			continue
		}
		if _, err := cp.store.Recompute(ctx, batchID); err != nil {
			return recomputed, fmt.Errorf("batch %s: %w", batchID, err)
		}
		recomputed++
		cp.logger.Info("recomputed batch count",
			"account_key", accountKey,
			"conversation_key", conversationKey,
			"batch_id", batchID,
			"cached", cached,
			"actual", actual,
			"drift", drift,
		)
	}
	return recomputed, nil
}

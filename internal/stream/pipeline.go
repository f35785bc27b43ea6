package stream

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/example/bgp-orchestrator/internal/feature"
	"github.com/example/bgp-orchestrator/internal/incident"
	"github.com/example/bgp-orchestrator/internal/metrics"
	"github.com/example/bgp-orchestrator/internal/rules"
)

// SnapshotSource is the narrow read-only view the pipeline needs of the
// peering catalog. peering.Store satisfies it via its Snapshot method.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (rules.Snapshot, error)
}

// PipelineConfig tunes the batch-or-ticker durable-write shape: updates
// are stored in batches, but the real-time conflict check and feature
// projection run per-message, off the batching path.
type PipelineConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{BatchSize: 200, FlushInterval: 2 * time.Second}
}

// Pipeline wires the stream consumer to the real-time conflict check, the
// durable store, and the feature sink, keeping per-message processing
// under the 100ms detection latency target.
type Pipeline struct {
	cfg       PipelineConfig
	consumer  kafkaConsumer
	evaluator *rules.Evaluator
	catalog   SnapshotSource
	store     *Store
	sink      *feature.Sink
	dispatch  *incident.Dispatcher
	logger    *zap.Logger
}

// kafkaConsumer is the subset of internal/kafka.Consumer the pipeline
// drives; named locally so this package does not import internal/kafka
// just to name the type in Pipeline's constructor signature.
type kafkaConsumer interface {
	Run(ctx context.Context, records chan<- []*kgo.Record, flushed <-chan []*kgo.Record, commitWg *sync.WaitGroup)
	IsJoined() bool
	Close()
}

func NewPipeline(cfg PipelineConfig, consumer kafkaConsumer, evaluator *rules.Evaluator, catalog SnapshotSource,
	store *Store, sink *feature.Sink, dispatch *incident.Dispatcher, logger *zap.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	return &Pipeline{
		cfg: cfg, consumer: consumer, evaluator: evaluator, catalog: catalog,
		store: store, sink: sink, dispatch: dispatch, logger: logger,
	}
}

// Run consumes fetched record batches, processes each message, and flushes
// durable writes in batches bounded by size or time, whichever comes
// first.
func (p *Pipeline) Run(ctx context.Context, topic string) error {
	records := make(chan []*kgo.Record, 16)
	flushed := make(chan []*kgo.Record, 16)
	var commitWg sync.WaitGroup

	consumeDone := make(chan struct{})
	go func() {
		defer close(consumeDone)
		p.consumer.Run(ctx, records, flushed, &commitWg)
	}()

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	var pending []Row
	var pendingRecs []*kgo.Record

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if _, err := p.store.AppendBatch(ctx, pending); err != nil {
			// Keep the batch and its records: they are retried on the next
			// flush and not marked for commit, so a later commit cannot
			// move the partition offset past them.
			p.logger.Error("stream pipeline: durable write failed, batch kept for the next flush", zap.Error(err))
			return
		}
		select {
		case flushed <- pendingRecs:
		case <-ctx.Done():
		}
		pending = nil
		pendingRecs = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			close(flushed)
			<-consumeDone
			commitWg.Wait()
			return ctx.Err()

		case <-ticker.C:
			flush()

		case batch, ok := <-records:
			if !ok {
				flush()
				close(flushed)
				<-consumeDone
				commitWg.Wait()
				return nil
			}
			for _, rec := range batch {
				row, ok := p.processMessage(ctx, topic, rec)
				if !ok {
					continue
				}
				pending = append(pending, row)
				pendingRecs = append(pendingRecs, rec)
			}
			if len(pending) >= p.cfg.BatchSize {
				flush()
			}
		}
	}
}

// processMessage parses a single record, runs the real-time conflict check,
// projects a feature vector, and returns the row for durable storage.
// Malformed messages are logged and dropped. Their record is not marked for
// commit itself; its offset is committed once a later record from the same
// partition is.
func (p *Pipeline) processMessage(ctx context.Context, topic string, rec *kgo.Record) (Row, bool) {
	evt, err := ParseMessage(rec.Value)
	if err != nil {
		metrics.StreamMessagesTotal.WithLabelValues(topic, "malformed").Inc()
		p.logger.Warn("stream pipeline: dropping malformed message", zap.Error(err))
		return Row{}, false
	}

	p.checkConflicts(ctx, evt)

	if p.sink != nil {
		p.sink.Write(feature.Vector{
			EntityID:  evt.FeatureKey(),
			Features:  projectFeatures(evt),
			Timestamp: evt.Timestamp,
		})
	}

	metrics.StreamMessagesTotal.WithLabelValues(topic, "processed").Inc()
	return Row{Event: evt, Raw: rec.Value}, true
}

// checkConflicts runs the shared rule set against every registered peering
// for the update's peer_ip, each in turn against the same snapshot. An
// update from a peer_ip with no catalog entry gets no real-time check: the
// rules compare catalog state, and there is no catalog state to compare.
func (p *Pipeline) checkConflicts(ctx context.Context, evt *UpdateEvent) {
	if p.evaluator == nil || p.catalog == nil {
		return
	}

	snapshot, err := p.catalog.Snapshot(ctx)
	if err != nil {
		p.logger.Warn("stream pipeline: snapshot unavailable, skipping real-time check", zap.Error(err))
		return
	}

	matched := matchPeerings(evt, snapshot)
	if len(matched) == 0 {
		return
	}

	start := time.Now()
	var conflicts []rules.Conflict
	for _, candidate := range matched {
		conflicts = append(conflicts, p.evaluator.Detect(ctx, candidate, snapshot)...)
	}
	metrics.RuleEvaluationDuration.WithLabelValues("stream").Observe(time.Since(start).Seconds())

	for _, c := range conflicts {
		metrics.ConflictsTotal.WithLabelValues(string(c.Type), string(c.Severity)).Inc()
		if p.dispatch == nil {
			continue
		}
		prefix, _ := evt.ResolvedPrefix()
		_, err := p.dispatch.Dispatch(incident.Alert{
			Title:       string(c.Type) + ": " + c.Description,
			Description: c.Description,
			Severity:    incident.Severity(c.Severity),
			Source:      "stream",
			Labels: map[string]string{
				"peer_ip":  evt.Peer.IP,
				"peer_asn": strconv.FormatInt(evt.Peer.ASN, 10),
				"prefix":   prefix,
			},
			CreatedAt: evt.Timestamp,
		})
		if err != nil {
			p.logger.Warn("stream pipeline: incident dispatch failed", zap.Error(err))
		}
	}
}

// matchPeerings returns every registered peering whose peer_ip matches the
// update. peer_ip alone is the match key: several catalog entries can share
// an address (different devices, a stale ASN after renumbering), and each
// one deserves its own evaluation.
func matchPeerings(evt *UpdateEvent, snapshot rules.Snapshot) []rules.Candidate {
	var out []rules.Candidate
	for _, c := range snapshot.Peerings {
		if c.PeerIP == evt.Peer.IP {
			out = append(out, c)
		}
	}
	return out
}

func projectFeatures(evt *UpdateEvent) map[string]any {
	prefix, _ := evt.ResolvedPrefix()
	return map[string]any{
		"peer_ip":        evt.Peer.IP,
		"peer_asn":       evt.Peer.ASN,
		"prefix":         prefix,
		"as_path_length": len(evt.ASPath),
		"message_type":   string(evt.Type),
		"has_announce":   evt.Type == TypeAnnounce,
		"has_withdraw":   evt.Type == TypeWithdraw,
	}
}

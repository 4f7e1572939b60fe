// internal/decision/tracker.go
package decision

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semanticd/internal/events"
	"github.com/fyrsmithlabs/semanticd/internal/graph"
	"github.com/fyrsmithlabs/semanticd/internal/vectorstore"
)

var decisionTracer = otel.Tracer("semanticd.decision")

// Graph node metadata keys for decisions.
const (
	metaAction     = "action"
	metaReasoning  = "reasoning"
	metaOutcome    = "outcome"
	metaConfidence = "confidence"
	metaTags       = "tags"
	metaCreatedAt  = "created_at"
	metaResolvedAt = "resolved_at"
)

// calibrationBuckets is the number of equal-width confidence buckets.
const calibrationBuckets = 5

// Config configures the tracker.
type Config struct {
	// Collection is the vector collection for decision documents.
	Collection string
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "semanticd_decisions"
	}
}

// Tracker records decisions and answers precedent queries.
type Tracker struct {
	cfg       Config
	store     vectorstore.Store
	graph     graph.GraphStore
	publisher events.Publisher
	logger    *zap.Logger

	// chainMu guards the per-scope FOLLOWS chain heads.
	chainMu sync.Mutex
	heads   map[string]string

	collectionOnce sync.Once
	collectionErr  error

	now func() time.Time
}

// NewTracker wires the tracker. Publisher may be nil.
func NewTracker(cfg Config, store vectorstore.Store, g graph.GraphStore, publisher events.Publisher, logger *zap.Logger) *Tracker {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Tracker{
		cfg:       cfg,
		store:     store,
		graph:     g,
		publisher: publisher,
		logger:    logger,
		heads:     make(map[string]string),
		now:       time.Now,
	}
}

// DecisionNodeID is the graph node ID for a decision.
func DecisionNodeID(id string) string { return "decision:" + id }

// Record persists a decision and appends it to the scope's FOLLOWS
// chain. Outcome starts pending.
func (t *Tracker) Record(ctx context.Context, action, reasoning string, confidence float64, tags []string) (*Decision, error) {
	ctx, span := decisionTracer.Start(ctx, "decision.record")
	defer span.End()

	scope, err := vectorstore.ScopeFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	d := &Decision{
		ID:         uuid.NewString(),
		Scope:      scope.Scope,
		Action:     action,
		Reasoning:  reasoning,
		Outcome:    OutcomePending,
		Confidence: confidence,
		Tags:       tags,
		CreatedAt:  t.now(),
	}
	if err := d.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := t.ensureCollection(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if _, err := t.store.AddDocuments(ctx, []vectorstore.Document{decisionDocument(d, t.cfg.Collection)}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("persist decision: %w", err)
	}

	if err := t.graph.UpsertNode(ctx, decisionNode(d)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("graph decision node: %w", err)
	}
	if prev := t.swapHead(ctx, scope.Scope, d.ID); prev != "" {
		if err := t.graph.UpsertEdge(ctx, &graph.Edge{
			From:   DecisionNodeID(d.ID),
			To:     DecisionNodeID(prev),
			Type:   graph.EdgeFollows,
			Weight: 1.0,
		}); err != nil {
			t.logger.Warn("decision chain edge failed",
				zap.String("id", d.ID), zap.Error(err))
		}
	}

	t.publisher.Publish(ctx, events.SubjectDecisionRecorded, events.DecisionRecorded{
		ID:         d.ID,
		Scope:      d.Scope,
		Action:     d.Action,
		Confidence: d.Confidence,
		RecordedAt: d.CreatedAt,
	})

	span.SetAttributes(
		attribute.String("decision.id", d.ID),
		attribute.String("decision.action", d.Action),
		attribute.Float64("decision.confidence", d.Confidence),
	)
	span.SetStatus(codes.Ok, "")
	return d, nil
}

// Resolve marks a pending decision's outcome. Only decisions in the
// caller's scope are visible.
func (t *Tracker) Resolve(ctx context.Context, id string, outcome Outcome) (*Decision, error) {
	ctx, span := decisionTracer.Start(ctx, "decision.resolve")
	defer span.End()

	if !outcome.Valid() {
		err := fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	scope, err := vectorstore.ScopeFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	node, err := t.graph.GetNode(ctx, DecisionNodeID(id))
	if err != nil || node.Scope != scope.Scope {
		span.SetStatus(codes.Error, ErrDecisionNotFound.Error())
		return nil, fmt.Errorf("%w: %s", ErrDecisionNotFound, id)
	}
	d := decisionFromNode(node)
	if d.Outcome != OutcomePending {
		span.SetStatus(codes.Error, ErrAlreadyResolved.Error())
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, id, d.Outcome)
	}

	d.Outcome = outcome
	d.ResolvedAt = t.now()
	if err := t.graph.UpsertNode(ctx, decisionNode(d)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("update decision node: %w", err)
	}
	// Keep the vector document's metadata in step for precedent search.
	if _, err := t.store.AddDocuments(ctx, []vectorstore.Document{decisionDocument(d, t.cfg.Collection)}); err != nil {
		t.logger.Warn("decision document update failed",
			zap.String("id", d.ID), zap.Error(err))
	}

	span.SetAttributes(
		attribute.String("decision.id", d.ID),
		attribute.String("decision.outcome", string(outcome)),
	)
	span.SetStatus(codes.Ok, "")
	return d, nil
}

// Precedents returns prior decisions semantically similar to a
// proposed action, most similar first.
func (t *Tracker) Precedents(ctx context.Context, action string, k int) ([]Precedent, error) {
	ctx, span := decisionTracer.Start(ctx, "decision.precedents")
	defer span.End()

	if strings.TrimSpace(action) == "" {
		span.SetStatus(codes.Error, ErrEmptyAction.Error())
		return nil, ErrEmptyAction
	}
	if k <= 0 {
		k = 5
	}
	if err := t.ensureCollection(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	hits, err := t.store.SearchInCollection(ctx, t.cfg.Collection, action, k, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	precedents := make([]Precedent, 0, len(hits))
	for _, hit := range hits {
		precedents = append(precedents, Precedent{
			Decision:   decisionFromHit(hit),
			Similarity: float64(hit.Score),
		})
	}
	span.SetAttributes(attribute.Int("decision.precedents", len(precedents)))
	span.SetStatus(codes.Ok, "")
	return precedents, nil
}

// Calibration aggregates resolved outcomes per confidence bucket for
// the caller's scope.
func (t *Tracker) Calibration(ctx context.Context) (*Calibration, error) {
	scope, err := vectorstore.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	nodes, err := t.graph.NodesByType(ctx, graph.NodeDecision)
	if err != nil {
		return nil, err
	}

	cal := &Calibration{Buckets: make([]CalibrationBucket, calibrationBuckets)}
	width := 1.0 / calibrationBuckets
	for i := range cal.Buckets {
		cal.Buckets[i].Low = float64(i) * width
		cal.Buckets[i].High = float64(i+1) * width
	}

	sums := make([]float64, calibrationBuckets)
	for _, node := range nodes {
		if node.Scope != scope.Scope {
			continue
		}
		d := decisionFromNode(node)
		if d.Outcome == OutcomePending {
			cal.Pending++
			continue
		}
		cal.Resolved++
		i := int(d.Confidence * calibrationBuckets)
		if i >= calibrationBuckets {
			i = calibrationBuckets - 1
		}
		cal.Buckets[i].Count++
		sums[i] += d.Confidence
		if d.Outcome == OutcomeSuccess {
			cal.Buckets[i].Successes++
		}
	}
	for i := range cal.Buckets {
		if cal.Buckets[i].Count > 0 {
			cal.Buckets[i].MeanConfidence = sums[i] / float64(cal.Buckets[i].Count)
			cal.Buckets[i].SuccessRate = float64(cal.Buckets[i].Successes) / float64(cal.Buckets[i].Count)
		}
	}
	return cal, nil
}

// swapHead returns the previous chain head for the scope and installs
// the new one. After a restart the head is recovered from the graph.
func (t *Tracker) swapHead(ctx context.Context, scope, id string) string {
	t.chainMu.Lock()
	defer t.chainMu.Unlock()

	prev, ok := t.heads[scope]
	if !ok {
		prev = t.latestDecisionID(ctx, scope, id)
	}
	t.heads[scope] = id
	return prev
}

// latestDecisionID finds the newest decision node in a scope other
// than the one being recorded.
func (t *Tracker) latestDecisionID(ctx context.Context, scope, excludeID string) string {
	nodes, err := t.graph.NodesByType(ctx, graph.NodeDecision)
	if err != nil {
		return ""
	}
	var latest string
	var latestAt time.Time
	for _, node := range nodes {
		if node.Scope != scope {
			continue
		}
		d := decisionFromNode(node)
		if d.ID == excludeID {
			continue
		}
		if latest == "" || d.CreatedAt.After(latestAt) {
			latest = d.ID
			latestAt = d.CreatedAt
		}
	}
	return latest
}

func (t *Tracker) ensureCollection(ctx context.Context) error {
	t.collectionOnce.Do(func() {
		err := t.store.CreateCollection(ctx, t.cfg.Collection)
		if err != nil && !errors.Is(err, vectorstore.ErrCollectionExists) {
			t.collectionErr = fmt.Errorf("create decision collection: %w", err)
		}
	})
	return t.collectionErr
}

func decisionDocument(d *Decision, collection string) vectorstore.Document {
	content := d.Action
	if d.Reasoning != "" {
		content += "\n" + d.Reasoning
	}
	md := map[string]interface{}{
		metaAction:     d.Action,
		metaOutcome:    string(d.Outcome),
		metaConfidence: strconv.FormatFloat(d.Confidence, 'f', -1, 64),
		metaCreatedAt:  d.CreatedAt.UTC().Format(time.RFC3339),
	}
	if d.Reasoning != "" {
		md[metaReasoning] = d.Reasoning
	}
	if len(d.Tags) > 0 {
		md[metaTags] = strings.Join(d.Tags, ",")
	}
	if !d.ResolvedAt.IsZero() {
		md[metaResolvedAt] = d.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return vectorstore.Document{
		ID:         d.ID,
		Content:    content,
		Metadata:   md,
		Collection: collection,
	}
}

func decisionNode(d *Decision) *graph.Node {
	md := map[string]string{
		metaAction:     d.Action,
		metaOutcome:    string(d.Outcome),
		metaConfidence: strconv.FormatFloat(d.Confidence, 'f', -1, 64),
		metaCreatedAt:  d.CreatedAt.UTC().Format(time.RFC3339),
	}
	if d.Reasoning != "" {
		md[metaReasoning] = d.Reasoning
	}
	if len(d.Tags) > 0 {
		md[metaTags] = strings.Join(d.Tags, ",")
	}
	if !d.ResolvedAt.IsZero() {
		md[metaResolvedAt] = d.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return &graph.Node{
		ID:       DecisionNodeID(d.ID),
		Type:     graph.NodeDecision,
		Label:    d.Action,
		Scope:    d.Scope,
		Metadata: md,
	}
}

func decisionFromNode(node *graph.Node) *Decision {
	d := &Decision{
		ID:        strings.TrimPrefix(node.ID, "decision:"),
		Scope:     node.Scope,
		Action:    node.Metadata[metaAction],
		Reasoning: node.Metadata[metaReasoning],
		Outcome:   Outcome(node.Metadata[metaOutcome]),
	}
	if v, err := strconv.ParseFloat(node.Metadata[metaConfidence], 64); err == nil {
		d.Confidence = v
	}
	if tags := node.Metadata[metaTags]; tags != "" {
		d.Tags = strings.Split(tags, ",")
	}
	if at, err := time.Parse(time.RFC3339, node.Metadata[metaCreatedAt]); err == nil {
		d.CreatedAt = at
	}
	if at, err := time.Parse(time.RFC3339, node.Metadata[metaResolvedAt]); err == nil {
		d.ResolvedAt = at
	}
	return d
}

func decisionFromHit(hit vectorstore.SearchResult) Decision {
	d := Decision{
		ID:      hit.ID,
		Outcome: OutcomePending,
	}
	if v, ok := hit.Metadata[metaAction].(string); ok {
		d.Action = v
	}
	if v, ok := hit.Metadata[metaReasoning].(string); ok {
		d.Reasoning = v
	}
	if v, ok := hit.Metadata[metaOutcome].(string); ok {
		d.Outcome = Outcome(v)
	}
	if v, ok := hit.Metadata[metaConfidence].(string); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			d.Confidence = f
		}
	}
	if v, ok := hit.Metadata[metaTags].(string); ok && v != "" {
		d.Tags = strings.Split(v, ",")
	}
	if v, ok := hit.Metadata[vectorstore.ScopeMetadataKey].(string); ok {
		d.Scope = v
	}
	if v, ok := hit.Metadata[metaCreatedAt].(string); ok {
		if at, err := time.Parse(time.RFC3339, v); err == nil {
			d.CreatedAt = at
		}
	}
	if v, ok := hit.Metadata[metaResolvedAt].(string); ok {
		if at, err := time.Parse(time.RFC3339, v); err == nil {
			d.ResolvedAt = at
		}
	}
	return d
}

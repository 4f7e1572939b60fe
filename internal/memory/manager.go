// internal/memory/manager.go
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semanticd/internal/events"
	"github.com/fyrsmithlabs/semanticd/internal/extraction"
	"github.com/fyrsmithlabs/semanticd/internal/graph"
	"github.com/fyrsmithlabs/semanticd/internal/secrets"
	"github.com/fyrsmithlabs/semanticd/internal/vectorstore"
)

var memoryTracer = otel.Tracer("semanticd.memory")

// Errors returned by the memory manager.
var (
	ErrEmptyContent         = errors.New("content is empty")
	ErrMissingConversation  = errors.New("conversation id is required")
	ErrNothingToConsolidate = errors.New("no buffered turns to consolidate")
)

// Kinds of long-term memory.
const (
	KindFact    = "fact"
	KindEpisode = "episode"
	KindInsight = "insight"
)

// maxLabelLength bounds graph node labels derived from content;
// maxTurnSummaryLength bounds each turn's contribution to an episode.
const (
	maxLabelLength       = 120
	maxTurnSummaryLength = 400
)

// StoreOptions controls how a memory is stored.
type StoreOptions struct {
	// ConversationID also appends the content to that conversation's
	// short-term buffer.
	ConversationID string

	// Role labels the buffered turn ("user", "assistant", "tool").
	// Defaults to "note".
	Role string

	// Kind classifies the memory. Defaults to KindFact.
	Kind string

	// Tags are free-form labels stored in metadata.
	Tags []string

	// Metadata is extra user metadata. Reserved scope keys are
	// rejected by the vector store.
	Metadata map[string]string
}

// StoredMemory describes the outcome of a store operation.
type StoredMemory struct {
	ID             string    `json:"id"`
	Scope          string    `json:"scope"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Kind           string    `json:"kind"`
	StoredAt       time.Time `json:"stored_at"`
	SecretFindings int       `json:"secret_findings,omitempty"`
	Entities       int       `json:"entities"`
	Relations      int       `json:"relations"`
}

// Config configures the manager.
type Config struct {
	ShortTermMaxTurns int
	Decay             DecayParams
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.ShortTermMaxTurns == 0 {
		c.ShortTermMaxTurns = 200
	}
	if c.Decay.HalfLife == 0 {
		c.Decay.HalfLife = 90 * 24 * time.Hour
	}
	if c.Decay.Floor == 0 {
		c.Decay.Floor = 0.1
	}
}

// Manager is the agent memory pipeline.
type Manager struct {
	cfg       Config
	store     vectorstore.Store
	graph     graph.GraphStore
	extractor extraction.Extractor
	scrubber  secrets.Scrubber
	publisher events.Publisher
	buffers   *BufferManager
	logger    *zap.Logger

	now func() time.Time
}

// NewManager wires the pipeline. Graph, extractor, scrubber, and
// publisher may be nil; the corresponding stage is skipped.
func NewManager(cfg Config, store vectorstore.Store, g graph.GraphStore, extractor extraction.Extractor, scrubber secrets.Scrubber, publisher events.Publisher, logger *zap.Logger) *Manager {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Manager{
		cfg:       cfg,
		store:     store,
		graph:     g,
		extractor: extractor,
		scrubber:  scrubber,
		publisher: publisher,
		buffers:   NewBufferManager(cfg.ShortTermMaxTurns),
		logger:    logger,
		now:       time.Now,
	}
}

// DecayParams returns the configured decay parameters.
func (m *Manager) DecayParams() DecayParams { return m.cfg.Decay }

// Buffered returns the number of buffered turns for a conversation in
// the context's scope.
func (m *Manager) Buffered(ctx context.Context, conversationID string) (int, error) {
	scope, err := vectorstore.ScopeFromContext(ctx)
	if err != nil {
		return 0, err
	}
	return m.buffers.Len(scope.Scope, conversationID), nil
}

// Store runs the full pipeline: scrub, persist, extract, enrich the
// graph, and publish an event. Extraction and graph failures degrade
// to a stored-but-unenriched memory; persistence failures fail the
// call.
func (m *Manager) Store(ctx context.Context, content string, opts StoreOptions) (*StoredMemory, error) {
	ctx, span := memoryTracer.Start(ctx, "memory.store")
	defer span.End()

	if strings.TrimSpace(content) == "" {
		span.SetStatus(codes.Error, ErrEmptyContent.Error())
		return nil, ErrEmptyContent
	}
	scope, err := vectorstore.ScopeFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if opts.Kind == "" {
		opts.Kind = KindFact
	}
	if opts.Role == "" {
		opts.Role = "note"
	}

	findings := 0
	if m.scrubber != nil && m.scrubber.IsEnabled() {
		result := m.scrubber.Scrub(content)
		content = result.Scrubbed
		findings = len(result.Findings)
		if findings > 0 {
			m.logger.Info("scrubbed secrets from memory",
				zap.String("scope", scope.Scope),
				zap.Int("findings", findings))
		}
	}

	now := m.now()
	id := uuid.NewString()
	metadata := map[string]interface{}{
		MetaKind:      opts.Kind,
		MetaStoredAt:  formatTime(now),
		MetaTouchedAt: formatTime(now),
		MetaRelevance: formatRelevance(1.0),
	}
	if len(opts.Tags) > 0 {
		metadata[MetaTags] = strings.Join(opts.Tags, ",")
	}
	for k, v := range opts.Metadata {
		metadata[k] = v
	}

	if _, err := m.store.AddDocuments(ctx, []vectorstore.Document{{
		ID:       id,
		Content:  content,
		Metadata: metadata,
	}}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("persist memory: %w", err)
	}

	if opts.ConversationID != "" {
		m.buffers.Append(scope.Scope, opts.ConversationID, Turn{
			MemoryID: id,
			Role:     opts.Role,
			Content:  content,
			At:       now,
		})
	}

	stored := &StoredMemory{
		ID:             id,
		Scope:          scope.Scope,
		ConversationID: opts.ConversationID,
		Kind:           opts.Kind,
		StoredAt:       now,
		SecretFindings: findings,
	}

	if m.extractor != nil && m.graph != nil {
		extracted, err := m.extractor.Extract(ctx, content, now)
		if err != nil {
			m.logger.Warn("extraction failed, memory stored without graph enrichment",
				zap.String("id", id), zap.Error(err))
		} else {
			stored.Entities = len(extracted.Entities)
			stored.Relations = len(extracted.Relations)
			if err := m.enrichGraph(ctx, scope.Scope, id, content, extracted); err != nil {
				m.logger.Warn("graph enrichment failed",
					zap.String("id", id), zap.Error(err))
			}
		}
	}

	m.publisher.Publish(ctx, events.SubjectMemoryStored, events.MemoryStored{
		ID:             id,
		Scope:          scope.Scope,
		ConversationID: opts.ConversationID,
		Kind:           opts.Kind,
		StoredAt:       now,
	})

	span.SetAttributes(
		attribute.String("memory.id", id),
		attribute.String("memory.kind", opts.Kind),
		attribute.Int("memory.entities", stored.Entities),
		attribute.Int("memory.relations", stored.Relations),
	)
	span.SetStatus(codes.Ok, "")
	return stored, nil
}

// Consolidate flushes a conversation's short-term buffer into one
// long-term episode and links it to the turns it summarizes.
func (m *Manager) Consolidate(ctx context.Context, conversationID string) (*StoredMemory, error) {
	ctx, span := memoryTracer.Start(ctx, "memory.consolidate")
	defer span.End()

	if conversationID == "" {
		span.SetStatus(codes.Error, ErrMissingConversation.Error())
		return nil, ErrMissingConversation
	}
	scope, err := vectorstore.ScopeFromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	turns := m.buffers.Flush(scope.Scope, conversationID)
	if len(turns) == 0 {
		span.SetStatus(codes.Error, ErrNothingToConsolidate.Error())
		return nil, fmt.Errorf("%w: conversation %s", ErrNothingToConsolidate, conversationID)
	}

	now := m.now()
	id := uuid.NewString()
	summary := summarizeTurns(conversationID, turns)
	metadata := map[string]interface{}{
		MetaKind:               KindEpisode,
		MetaStoredAt:           formatTime(now),
		MetaTouchedAt:          formatTime(now),
		MetaRelevance:          formatRelevance(1.0),
		MetaSourceConversation: conversationID,
		MetaTurns:              fmt.Sprintf("%d", len(turns)),
	}

	if _, err := m.store.AddDocuments(ctx, []vectorstore.Document{{
		ID:       id,
		Content:  summary,
		Metadata: metadata,
	}}); err != nil {
		// Persistence failed; put the turns back so they are not lost.
		for _, turn := range turns {
			m.buffers.Append(scope.Scope, conversationID, turn)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("persist episode: %w", err)
	}

	if m.graph != nil {
		if err := m.linkEpisode(ctx, scope.Scope, id, summary, turns); err != nil {
			m.logger.Warn("episode graph linking failed",
				zap.String("id", id), zap.Error(err))
		}
	}

	m.publisher.Publish(ctx, events.SubjectMemoryConsolidated, events.MemoryConsolidated{
		ID:             id,
		Scope:          scope.Scope,
		ConversationID: conversationID,
		Turns:          len(turns),
		ConsolidatedAt: now,
	})

	span.SetAttributes(
		attribute.String("memory.id", id),
		attribute.Int("memory.turns", len(turns)),
	)
	span.SetStatus(codes.Ok, "")
	return &StoredMemory{
		ID:             id,
		Scope:          scope.Scope,
		ConversationID: conversationID,
		Kind:           KindEpisode,
		StoredAt:       now,
	}, nil
}

// Touch resets a retrieved document's relevance to full and stamps the
// access time. The document is re-upserted under the same ID. When the
// caller's context carries no conversation (retrieval touches from a
// scope-only context), the document's own conversation association is
// preserved rather than stripped.
func (m *Manager) Touch(ctx context.Context, result vectorstore.SearchResult) error {
	scope, err := vectorstore.ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	if scope.ConversationID == "" {
		if conv, ok := result.Metadata[vectorstore.ConversationMetadataKey].(string); ok && conv != "" {
			scope.ConversationID = conv
			ctx = vectorstore.ContextWithScope(ctx, scope)
		}
	}

	metadata := make(map[string]interface{}, len(result.Metadata))
	for k, v := range result.Metadata {
		// Scope keys are re-injected by the store on write.
		if k == vectorstore.ScopeMetadataKey || k == vectorstore.ConversationMetadataKey {
			continue
		}
		metadata[k] = v
	}
	now := m.now()
	metadata[MetaTouchedAt] = formatTime(now)
	metadata[MetaRelevance] = formatRelevance(1.0)

	_, err = m.store.AddDocuments(ctx, []vectorstore.Document{{
		ID:       result.ID,
		Content:  result.Content,
		Metadata: metadata,
	}})
	if err != nil {
		return fmt.Errorf("touch memory %s: %w", result.ID, err)
	}
	return nil
}

// enrichGraph upserts the memory node, entity nodes, and the edges
// extraction found.
func (m *Manager) enrichGraph(ctx context.Context, scope, memoryID, content string, extracted extraction.Result) error {
	memoryNodeID := MemoryNodeID(memoryID)
	if err := m.graph.UpsertNode(ctx, &graph.Node{
		ID:    memoryNodeID,
		Type:  graph.NodeMemory,
		Label: truncateLabel(content),
		Scope: scope,
	}); err != nil {
		return err
	}

	for _, entity := range extracted.Entities {
		entityID := EntityNodeID(scope, entity.Text)
		if err := m.graph.UpsertNode(ctx, &graph.Node{
			ID:    entityID,
			Type:  graph.NodeEntity,
			Label: entity.Text,
			Scope: scope,
			Metadata: map[string]string{
				"kind": entity.Kind,
			},
		}); err != nil {
			return err
		}
		if err := m.graph.UpsertEdge(ctx, &graph.Edge{
			From:   memoryNodeID,
			To:     entityID,
			Type:   graph.EdgeMentions,
			Weight: entity.Confidence,
		}); err != nil {
			return err
		}
	}

	for _, rel := range extracted.Relations {
		from := EntityNodeID(scope, rel.Subject)
		to := EntityNodeID(scope, rel.Object)
		for _, pair := range []struct {
			id    string
			label string
		}{{from, rel.Subject}, {to, rel.Object}} {
			if err := m.graph.UpsertNode(ctx, &graph.Node{
				ID:    pair.id,
				Type:  graph.NodeEntity,
				Label: pair.label,
				Scope: scope,
			}); err != nil {
				return err
			}
			// The memory mentions both endpoints; without this edge a
			// relation-only extraction leaves the memory node
			// unreachable by activation spread.
			if err := m.graph.UpsertEdge(ctx, &graph.Edge{
				From:   memoryNodeID,
				To:     pair.id,
				Type:   graph.EdgeMentions,
				Weight: rel.Confidence,
			}); err != nil {
				return err
			}
		}
		if err := m.graph.UpsertEdge(ctx, &graph.Edge{
			From:   from,
			To:     to,
			Type:   graph.EdgeRelatesTo,
			Weight: rel.Confidence,
			Metadata: map[string]string{
				"predicate": rel.Predicate,
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

// linkEpisode upserts the episode node and DERIVED_FROM edges to the
// persisted turns it summarizes.
func (m *Manager) linkEpisode(ctx context.Context, scope, episodeID, summary string, turns []Turn) error {
	episodeNodeID := MemoryNodeID(episodeID)
	if err := m.graph.UpsertNode(ctx, &graph.Node{
		ID:    episodeNodeID,
		Type:  graph.NodeMemory,
		Label: truncateLabel(summary),
		Scope: scope,
	}); err != nil {
		return err
	}
	for _, turn := range turns {
		if turn.MemoryID == "" {
			continue
		}
		if err := m.graph.UpsertEdge(ctx, &graph.Edge{
			From:   episodeNodeID,
			To:     MemoryNodeID(turn.MemoryID),
			Type:   graph.EdgeDerivedFrom,
			Weight: 1.0,
		}); err != nil {
			return err
		}
	}
	return nil
}

// MemoryNodeID is the graph node ID for a stored document.
func MemoryNodeID(docID string) string { return "memory:" + docID }

// EntityNodeID is the graph node ID for an entity within a scope.
// Entities are case-folded so "Qdrant" and "qdrant" share a node.
func EntityNodeID(scope, text string) string {
	return "entity:" + scope + ":" + strings.ToLower(strings.TrimSpace(text))
}

// summarizeTurns renders the buffered turns as one episode document.
func summarizeTurns(conversationID string, turns []Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conversation %s (%d turns)\n", conversationID, len(turns))
	for _, turn := range turns {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, truncateRunes(turn.Content, maxTurnSummaryLength))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncateLabel(content string) string {
	return truncateRunes(strings.TrimSpace(content), maxLabelLength)
}

// truncateRunes cuts s to at most max bytes on a rune boundary.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

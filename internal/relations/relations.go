package relations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jmorgan/keep/internal/logger"
	"github.com/jmorgan/keep/internal/storage"
	"github.com/jmorgan/keep/pkg/types"
)

// Defaults for suggestion queries.
const (
	DefaultThreshold = 0.7
	DefaultLimit     = 5
	MaxLimit         = 50
)

// Engine manages explicit links between entries and computes
// similarity-based relation suggestions.
type Engine struct {
	storage storage.Storage
	log     *logger.Logger
}

// NewEngine creates an Engine over the given store.
func NewEngine(store storage.Storage, baseLog *logger.Logger) *Engine {
	return &Engine{
		storage: store,
		log:     baseLog.With("component", "relations"),
	}
}

// Link records an explicit relation between two entries. Linking an
// entry to itself is rejected; linking the same pair twice returns the
// existing relation unchanged.
func (e *Engine) Link(ctx context.Context, fromID, toID string, relType types.RelationType) (*types.Relation, error) {
	if fromID == toID {
		return nil, types.ErrSelfRelation
	}
	if !relType.Valid() {
		return nil, fmt.Errorf("invalid relation type %q", relType)
	}

	rel := &types.Relation{
		ID:        uuid.New().String(),
		FromID:    fromID,
		ToID:      toID,
		Type:      relType,
		CreatedAt: time.Now().UTC(),
	}
	err := e.storage.CreateRelation(ctx, rel)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return e.findRelation(ctx, fromID, toID, relType)
	}
	if err != nil {
		return nil, err
	}

	e.log.Debug("relation created", "from", fromID, "to", toID, "type", string(relType))
	return rel, nil
}

func (e *Engine) findRelation(ctx context.Context, fromID, toID string, relType types.RelationType) (*types.Relation, error) {
	rels, err := e.storage.ListRelations(ctx, fromID)
	if err != nil {
		return nil, err
	}
	for _, rel := range rels {
		if rel.FromID == fromID && rel.ToID == toID && rel.Type == relType {
			return rel, nil
		}
	}
	return nil, types.ErrNotFound
}

// GetLinked returns the entries explicitly related to the given entry,
// in either direction, in relation creation order. Archived neighbors
// are included: an explicit link is a deliberate record.
func (e *Engine) GetLinked(ctx context.Context, entryID string) ([]*types.Entry, error) {
	if _, err := e.storage.GetEntry(ctx, entryID); err != nil {
		return nil, err
	}

	rels, err := e.storage.ListRelations(ctx, entryID)
	if err != nil {
		return nil, err
	}

	entries := make([]*types.Entry, 0, len(rels))
	seen := make(map[string]bool, len(rels))
	for _, rel := range rels {
		otherID := rel.ToID
		if otherID == entryID {
			otherID = rel.FromID
		}
		if seen[otherID] {
			continue
		}
		seen[otherID] = true

		entry, err := e.storage.GetEntry(ctx, otherID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				continue
			}
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SuggestRelated proposes entries similar to the source by embedding
// similarity. Entries already linked to the source and the source itself
// are excluded; only similarities at or above threshold qualify. A
// negative threshold selects the default; zero is a valid cutoff and
// admits orthogonal vectors. A source without an embedding yields an
// empty list, not an error.
func (e *Engine) SuggestRelated(ctx context.Context, entryID string, threshold float64, limit int) ([]types.Suggestion, error) {
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	source, err := e.storage.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if source.Embedding == nil {
		return []types.Suggestion{}, nil
	}

	excluded := map[string]bool{entryID: true}
	rels, err := e.storage.ListRelations(ctx, entryID)
	if err != nil {
		return nil, err
	}
	for _, rel := range rels {
		excluded[rel.FromID] = true
		excluded[rel.ToID] = true
	}

	vectors, err := e.storage.ScanEmbeddings(ctx, "")
	if err != nil {
		return nil, err
	}

	var candidates []types.Suggestion
	for _, ev := range vectors {
		if excluded[ev.EntryID] || ev.Vector == nil {
			continue
		}
		similarity := storage.CosineSimilarity(source.Embedding, ev.Vector)
		if similarity < threshold {
			continue
		}
		entry, err := e.storage.GetEntry(ctx, ev.EntryID)
		if err != nil {
			continue
		}
		candidates = append(candidates, types.Suggestion{Entry: entry, Similarity: similarity})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].Entry.ID < candidates[j].Entry.ID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

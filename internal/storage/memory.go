package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// memChunk is an immutable stored chunk with precomputed norm.
type memChunk struct {
	chunk     Chunk
	norm      float64
	insertSeq uint64
}

// memState is an immutable snapshot of the index. Writers build a new
// snapshot and swap it in; readers never see one being modified.
type memState struct {
	dimension int
	chunks    map[string]*memChunk
	byDoc     map[string]map[string]struct{}
	docs      map[string]Document
	nextSeq   uint64

	// owned marks byDoc sets this snapshot copied and may modify. Sets
	// without a mark are shared with the snapshot it was cloned from.
	owned map[string]bool
}

func newMemState(dimension int) *memState {
	return &memState{
		dimension: dimension,
		chunks:    make(map[string]*memChunk),
		byDoc:     make(map[string]map[string]struct{}),
		docs:      make(map[string]Document),
		nextSeq:   1,
		owned:     make(map[string]bool),
	}
}

// clone copies the top-level maps. Chunk sets are copied lazily by docSet.
func (s *memState) clone() *memState {
	next := &memState{
		dimension: s.dimension,
		chunks:    make(map[string]*memChunk, len(s.chunks)),
		byDoc:     make(map[string]map[string]struct{}, len(s.byDoc)),
		docs:      make(map[string]Document, len(s.docs)),
		nextSeq:   s.nextSeq,
		owned:     make(map[string]bool),
	}
	for id, c := range s.chunks {
		next.chunks[id] = c
	}
	for docID, ids := range s.byDoc {
		next.byDoc[docID] = ids
	}
	for id, d := range s.docs {
		next.docs[id] = d
	}
	return next
}

// docSet returns a chunk set of docID that is safe to modify, creating it
// when create is set. It returns nil for an unknown document otherwise.
func (s *memState) docSet(docID string, create bool) map[string]struct{} {
	set, ok := s.byDoc[docID]
	if !ok {
		if !create {
			return nil
		}
		set = make(map[string]struct{})
	} else if !s.owned[docID] {
		copied := make(map[string]struct{}, len(set)+1)
		for id := range set {
			copied[id] = struct{}{}
		}
		set = copied
	}
	s.byDoc[docID] = set
	s.owned[docID] = true
	return set
}

// documentCount counts documents with a record or stored chunks.
func (s *memState) documentCount() int {
	n := len(s.docs)
	for docID := range s.byDoc {
		if _, ok := s.docs[docID]; !ok {
			n++
		}
	}
	return n
}

// put stores c, keeping the insertion position of an existing chunk with the same ID.
func (s *memState) put(c Chunk) {
	seq := s.nextSeq
	if old, ok := s.chunks[c.ID]; ok {
		seq = old.insertSeq
		if old.chunk.DocumentID != c.DocumentID {
			s.unlink(old.chunk.DocumentID, c.ID)
		}
	} else {
		s.nextSeq++
	}

	c.Embedding = append([]float32(nil), c.Embedding...)
	c.Metadata = cloneMetadata(c.Metadata)
	s.chunks[c.ID] = &memChunk{chunk: c, norm: vectorNorm(c.Embedding), insertSeq: seq}

	s.docSet(c.DocumentID, true)[c.ID] = struct{}{}
}

func (s *memState) unlink(docID, chunkID string) {
	if set := s.docSet(docID, false); set != nil {
		delete(set, chunkID)
		if len(set) == 0 {
			delete(s.byDoc, docID)
			delete(s.owned, docID)
		}
	}
}

// removeDocument drops a document and its chunks, except those in keep.
func (s *memState) removeDocument(docID string, keep map[string]struct{}) {
	for id := range s.docSet(docID, false) {
		if _, ok := keep[id]; ok {
			continue
		}
		delete(s.chunks, id)
		s.unlink(docID, id)
	}
	delete(s.docs, docID)
}

// Memory is an in-process vector index using brute-force cosine similarity.
type Memory struct {
	mu      sync.RWMutex // guards state
	writeMu sync.Mutex   // serializes writers
	state   *memState
	backend string
}

// NewMemory creates an empty in-memory index. A dimension of 0 adopts the
// dimension of the first stored embedding.
func NewMemory(dimension int) *Memory {
	return &Memory{state: newMemState(dimension), backend: "memory"}
}

func (m *Memory) snapshot() *memState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Memory) swap(next *memState) {
	m.mu.Lock()
	m.state = next
	m.mu.Unlock()
}

// checkDimension validates embedding length against the current snapshot.
func (m *Memory) checkDimension(n int) error {
	if dim := m.snapshot().dimension; dim != 0 && dim != n {
		return fmt.Errorf("%w: got %d dimensions, index has %d", ErrDimensionMismatch, n, dim)
	}
	return nil
}

// Upsert inserts or overwrites a chunk. Each call copies the chunk map of
// the current snapshot, so it costs O(n) in the index size; loading many
// chunks should go through ReplaceDocument, which swaps once per document.
// A chunk of an unregistered document still counts towards Stats.Documents.
func (m *Memory) Upsert(ctx context.Context, chunk Chunk) error {
	if err := validateChunk(chunk); err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur := m.snapshot()
	if cur.dimension != 0 && len(chunk.Embedding) != cur.dimension {
		return fmt.Errorf("%w: chunk %s has %d dimensions, expected %d",
			ErrDimensionMismatch, chunk.ID, len(chunk.Embedding), cur.dimension)
	}

	next := cur.clone()
	if next.dimension == 0 {
		next.dimension = len(chunk.Embedding)
	}
	next.put(chunk)
	m.swap(next)
	return nil
}

// ReplaceDocument swaps doc and its chunks in a single snapshot update.
func (m *Memory) ReplaceDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur := m.snapshot()
	if err := validateReplace(doc, chunks, cur.dimension); err != nil {
		return err
	}

	next := cur.clone()
	keep := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		keep[c.ID] = struct{}{}
	}
	next.removeDocument(doc.ID, keep)
	for _, c := range chunks {
		if next.dimension == 0 {
			next.dimension = len(c.Embedding)
		}
		next.put(c)
	}
	doc.ChunkCount = len(chunks)
	doc.Topics = append([]string(nil), doc.Topics...)
	next.docs[doc.ID] = doc
	m.swap(next)
	return nil
}

// Query scans every chunk and returns the k most similar.
func (m *Memory) Query(ctx context.Context, embedding []float32, k int) ([]Result, error) {
	state := m.snapshot()
	if k <= 0 || len(state.chunks) == 0 {
		return []Result{}, nil
	}
	if len(embedding) != state.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			ErrDimensionMismatch, len(embedding), state.dimension)
	}

	queryNorm := vectorNorm(embedding)
	candidates := make([]scored, 0, len(state.chunks))
	for _, mc := range state.chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candidates = append(candidates, scored{
			result: Result{
				ChunkID:       mc.chunk.ID,
				DocumentID:    mc.chunk.DocumentID,
				SequenceIndex: mc.chunk.SequenceIndex,
				Score:         cosine(embedding, queryNorm, mc.chunk.Embedding, mc.norm),
				Text:          mc.chunk.Text,
				Metadata:      cloneMetadata(mc.chunk.Metadata),
			},
			insertSeq: mc.insertSeq,
		})
	}
	return rankResults(candidates, k), nil
}

// Delete removes a document and its chunks. Deleting an unknown document is a no-op.
func (m *Memory) Delete(ctx context.Context, documentID string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur := m.snapshot()
	if _, hasDoc := cur.docs[documentID]; !hasDoc && len(cur.byDoc[documentID]) == 0 {
		return nil
	}
	next := cur.clone()
	next.removeDocument(documentID, nil)
	m.swap(next)
	return nil
}

// Stats reports chunk counts and the distinct documents that have a record
// or chunks.
func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	state := m.snapshot()
	return Stats{
		Backend:   m.backend,
		Documents: state.documentCount(),
		Chunks:    len(state.chunks),
		Dimension: state.dimension,
	}, nil
}

// Documents lists stored documents ordered by source path.
func (m *Memory) Documents(ctx context.Context) ([]Document, error) {
	state := m.snapshot()
	docs := make([]Document, 0, len(state.docs))
	for _, d := range state.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].SourcePath < docs[j].SourcePath
	})
	return docs, nil
}

// Document returns a stored document or ErrDocumentNotFound.
func (m *Memory) Document(ctx context.Context, id string) (Document, error) {
	doc, ok := m.snapshot().docs[id]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return doc, nil
}

// Health always succeeds for the in-memory index.
func (m *Memory) Health(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }

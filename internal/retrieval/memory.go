package retrieval

import (
	"context"
	"sort"
	"sync"
)

var _ VectorStore = (*MemoryStore)(nil)

// MemoryStore is a process-local VectorStore used in tests and for
// throwaway runs.
type MemoryStore struct {
	mu    sync.RWMutex
	pages map[string]map[int]EmbeddedCitation
	topK  int
	dims  int

	// Unreachable makes IsReachable report false.
	Unreachable bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pages: make(map[string]map[int]EmbeddedCitation), topK: DefaultTopK}
}

func (m *MemoryStore) IsReachable(context.Context) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.Unreachable
}

func (m *MemoryStore) PostCurriculum(_ context.Context, text string, pageNum int, documentName string, embedding []float32, documentID string) (bool, error) {
	if err := checkPage(text, pageNum, embedding, documentID, m.dims); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.pages[documentID]
	if !ok {
		doc = make(map[int]EmbeddedCitation)
		m.pages[documentID] = doc
	}
	doc[pageNum] = EmbeddedCitation{
		Citation:  Citation{Text: text, PageNum: pageNum, DocumentName: documentName, DocumentID: documentID},
		Embedding: append([]float32(nil), embedding...),
	}
	return true, nil
}

func (m *MemoryStore) GetCurriculum(_ context.Context, documentID string, queryEmbedding []float32) ([]Citation, error) {
	queryNorm := norm(queryEmbedding)
	if queryNorm == 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	best := newRanking(m.topK)
	doc := m.pages[documentID]
	for page, ec := range doc {
		best.offer(pageScore{Page: page, Score: cosine(queryEmbedding, ec.Embedding, queryNorm)})
	}
	var out []Citation
	for _, ps := range best.ranked() {
		out = append(out, doc[ps.Page].Citation)
	}
	return out, nil
}

func (m *MemoryStore) GetPageRange(_ context.Context, documentID string, start, end int) ([]Citation, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	var out []Citation
	for _, ec := range m.sorted(documentID) {
		if ec.PageNum >= start && ec.PageNum <= end {
			out = append(out, ec.Citation)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetAllPages(_ context.Context, documentID string) ([]EmbeddedCitation, error) {
	return m.sorted(documentID), nil
}

func (m *MemoryStore) sorted(documentID string) []EmbeddedCitation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc := m.pages[documentID]
	out := make([]EmbeddedCitation, 0, len(doc))
	for _, ec := range doc {
		ec.Embedding = append([]float32(nil), ec.Embedding...)
		out = append(out, ec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNum < out[j].PageNum })
	return out
}

package indexer

import (
	"context"
	"errors"
	"sync"

	"github.com/bull/pdfchat/internal/metadata"
	"github.com/bull/pdfchat/internal/storage"
)

var errUnavailable = errors.New("service unavailable")

// memStore is an in-memory VectorStore keyed by collection and point ID.
type memStore struct {
	mu          sync.Mutex
	collections map[string]map[string]*storage.ChunkPoint
	creates     int
	upserts     int
	ensureErr   error
	failUpsert  map[int]error // 1-based upsert call number -> error
}

func newMemStore() *memStore {
	return &memStore{
		collections: map[string]map[string]*storage.ChunkPoint{},
		failUpsert:  map[int]error{},
	}
}

func (s *memStore) EnsureCollection(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensureErr != nil {
		return false, s.ensureErr
	}
	if _, ok := s.collections[name]; ok {
		return false, nil
	}
	s.collections[name] = map[string]*storage.ChunkPoint{}
	s.creates++
	return true, nil
}

func (s *memStore) UpsertPoints(_ context.Context, name string, points []*storage.ChunkPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if err, ok := s.failUpsert[s.upserts]; ok {
		return err
	}
	c, ok := s.collections[name]
	if !ok {
		return storage.ErrCollectionNotFound
	}
	for _, p := range points {
		c[p.ID] = p
	}
	return nil
}

func (s *memStore) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections[name])
}

// fakeEmbedder returns a 3-dim vector per text and records batch sizes.
type fakeEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (e *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.batches = append(e.batches, append([]string(nil), texts...))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 0, 1}
	}
	return out, nil
}

// memMetadata mimics the unique collection_name index.
type memMetadata struct {
	mu   sync.Mutex
	docs map[string]*metadata.Document
	err  error
}

func newMemMetadata() *memMetadata {
	return &memMetadata{docs: map[string]*metadata.Document{}}
}

func (m *memMetadata) Insert(_ context.Context, doc *metadata.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	if _, ok := m.docs[doc.CollectionName]; !ok {
		m.docs[doc.CollectionName] = doc
	}
	return nil
}

type okVerifier struct{ calls int }

func (v *okVerifier) Wait(context.Context, string) (int64, error) {
	v.calls++
	return 1, nil
}

// progressLog collects every reported transition.
type progressLog struct {
	mu      sync.Mutex
	stages  []Stage
	percent []int
}

func (l *progressLog) record(stage Stage, percent int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stages = append(l.stages, stage)
	l.percent = append(l.percent, percent)
}

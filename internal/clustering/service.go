// Package clustering groups a document's pages into topics, projects them to
// 2D or 3D for visualization, and names each topic with a text generator.
package clustering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/docintel/internal/broker"
	"github.com/kalambet/docintel/internal/engine"
	"github.com/kalambet/docintel/internal/retrieval"
	"github.com/kalambet/docintel/internal/storage"
)

var (
	// ErrDocumentEmpty is returned for a document with no stored pages.
	ErrDocumentEmpty = errors.New("document has no pages")
	// ErrInvalidDimensions is returned when the projection is not 2D or 3D.
	ErrInvalidDimensions = errors.New("dimensions must be 2 or 3")
)

// Defaults used when Options leaves a field zero.
const (
	DefaultK          = 5
	DefaultDimensions = 2
	DefaultSeed       = 42
)

// PageSource supplies a document's embedded pages in page order.
type PageSource interface {
	GetAllPages(ctx context.Context, documentID string) ([]retrieval.EmbeddedCitation, error)
}

// ElementSink persists a clustering, replacing any earlier one of the document.
type ElementSink interface {
	ReplaceClusterElements(ctx context.Context, documentID string, elements []storage.ClusterElement) error
}

// Options tunes Service.
type Options struct {
	K              int
	Seed           uint64
	MaxIterations  int // k-means
	TSNEIterations int
	Perplexity     float64
}

// Service runs the clustering pipeline for one document at a time per id.
type Service struct {
	pages   PageSource
	sink    ElementSink
	labeler *Labeler
	opts    Options
	logger  *slog.Logger

	locks keyedMutex
}

// NewService wires a Service. gen may be nil, in which case clusters are
// named "Topic N".
func NewService(pages PageSource, sink ElementSink, gen engine.Generator, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.K <= 0 {
		opts.K = DefaultK
	}
	if opts.Seed == 0 {
		opts.Seed = DefaultSeed
	}
	return &Service{
		pages:   pages,
		sink:    sink,
		labeler: NewLabeler(gen, logger),
		opts:    opts,
		logger:  logger,
		locks:   keyedMutex{m: make(map[string]*refLock)},
	}
}

// Cluster clusters every page of documentID, projects them to dims
// dimensions, and persists one element per page in page order.
func (s *Service) Cluster(ctx context.Context, documentID string, dims int) ([]storage.ClusterElement, error) {
	if dims != 2 && dims != 3 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDimensions, dims)
	}

	unlock := s.locks.lock(documentID)
	defer unlock()

	start := time.Now()
	pages, err := s.pages.GetAllPages(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("loading pages of %s: %w", documentID, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDocumentEmpty, documentID)
	}

	points := make([][]float64, len(pages))
	for i, p := range pages {
		points[i] = make([]float64, len(p.Embedding))
		for j, v := range p.Embedding {
			points[i][j] = float64(v)
		}
	}

	labels, err := KMeans(points, s.opts.K, s.opts.MaxIterations, s.opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("clustering %s: %w", documentID, err)
	}
	coords, err := TSNE(points, dims, TSNEOptions{
		Perplexity: s.opts.Perplexity,
		Iterations: s.opts.TSNEIterations,
		Seed:       s.opts.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("projecting %s: %w", documentID, err)
	}

	names := s.nameClusters(ctx, pages, labels)

	elements := make([]storage.ClusterElement, len(pages))
	for i, p := range pages {
		e := storage.ClusterElement{
			DocumentID:  documentID,
			PageNumber:  p.PageNum,
			ClusterName: names[labels[i]],
			X:           coords[i][0],
			Y:           coords[i][1],
			Dimensions:  dims,
		}
		if dims == 3 {
			e.Z = coords[i][2]
		}
		elements[i] = e
	}

	if err := s.sink.ReplaceClusterElements(ctx, documentID, elements); err != nil {
		return nil, fmt.Errorf("saving clusters of %s: %w", documentID, err)
	}

	s.logger.Info("document clustered",
		"document_id", documentID,
		"pages", len(pages),
		"clusters", len(names),
		"dimensions", dims,
		"duration", time.Since(start),
	)
	return elements, nil
}

// nameClusters labels every distinct cluster concurrently. The result is
// indexed by label.
func (s *Service) nameClusters(ctx context.Context, pages []retrieval.EmbeddedCitation, labels []int) []string {
	var k int
	for _, l := range labels {
		k = max(k, l+1)
	}
	texts := make([][]string, k)
	for i, l := range labels {
		if len(texts[l]) < samplesPerLabel {
			texts[l] = append(texts[l], pages[i].Text)
		}
	}

	names := make([]string, k)
	var g errgroup.Group
	g.SetLimit(4)
	for l := range texts {
		g.Go(func() error {
			names[l] = s.labeler.Label(ctx, l, texts[l])
			return nil
		})
	}
	g.Wait()
	return names
}

// HandleDocumentUpload is the consumer-side entry point for
// document.upload.rag. A zero Dimensions means 2D.
func (s *Service) HandleDocumentUpload(ctx context.Context, msg broker.DocumentUploadRAG) error {
	dims := msg.Dimensions
	if dims == 0 {
		dims = DefaultDimensions
	}
	_, err := s.Cluster(ctx, msg.DocumentID, dims)
	return err
}

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu sync.Mutex
	m  map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.m[key]
	if !ok {
		l = &refLock{}
		k.m[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}

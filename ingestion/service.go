// Package ingestion turns hearing documents into overlapping, citation
// annotated chunks and persists them to the chunk index, the metadata store and
// the knowledge graph.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fabfab/hearings-ai/document"
	"github.com/fabfab/hearings-ai/embeddings"
	"github.com/fabfab/hearings-ai/index"
	"github.com/fabfab/hearings-ai/logger"
)

const (
	defaultEmbedBatchSize  = 16
	defaultUploadBatchSize = 100
	defaultConcurrency     = 4
	defaultDocConcurrency  = 2
)

// ChunkIndex stores embedded chunks.
type ChunkIndex interface {
	DeleteDocumentChunks(ctx context.Context, documentID string) error
	UpsertChunks(ctx context.Context, doc document.Metadata, records []index.Record) error
}

// MetadataStore persists document metadata and processing status.
type MetadataStore interface {
	Put(ctx context.Context, meta document.Metadata) error
	SetStatus(ctx context.Context, id string, status document.ProcessingStatus, reason string) error
}

// GraphSyncer mirrors document relationships into the knowledge graph.
type GraphSyncer interface {
	SyncDocument(ctx context.Context, meta document.Metadata) error
}

type Deps struct {
	// Sources resolves a page source for a file name. Defaults to PageSourceFor.
	Sources  func(filename string) (PageSource, error)
	Chunker  *Chunker
	Embedder embeddings.Embedder
	Index    ChunkIndex
	Metadata MetadataStore
	Graph    GraphSyncer
	Logger   *logger.Logger
}

type Options struct {
	EmbedBatchSize      int
	UploadBatchSize     int
	Concurrency         int
	DocumentConcurrency int
	// EmbedRatePerSecond limits embedding calls; zero means unlimited.
	EmbedRatePerSecond float64
}

type Service struct {
	sources  func(filename string) (PageSource, error)
	chunker  *Chunker
	embedder embeddings.Embedder
	index    ChunkIndex
	metadata MetadataStore
	graph    GraphSyncer
	logger   *logger.Logger
	limiter  *rate.Limiter
	opts     Options
}

func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Chunker == nil {
		return nil, fmt.Errorf("chunker not configured")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder not configured")
	}
	if deps.Index == nil {
		return nil, fmt.Errorf("chunk index not configured")
	}
	if deps.Metadata == nil {
		return nil, fmt.Errorf("metadata store not configured")
	}
	if deps.Sources == nil {
		deps.Sources = PageSourceFor
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = defaultEmbedBatchSize
	}
	if opts.UploadBatchSize <= 0 {
		opts.UploadBatchSize = defaultUploadBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.DocumentConcurrency <= 0 {
		opts.DocumentConcurrency = defaultDocConcurrency
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.EmbedRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.EmbedRatePerSecond), 1)
	}

	return &Service{
		sources:  deps.Sources,
		chunker:  deps.Chunker,
		embedder: deps.Embedder,
		index:    deps.Index,
		metadata: deps.Metadata,
		graph:    deps.Graph,
		logger:   deps.Logger.With("component", "ingestion"),
		limiter:  limiter,
		opts:     opts,
	}, nil
}

// Request is one document to ingest.
type Request struct {
	Metadata document.Metadata
	Filename string
	Data     []byte
}

// Report summarises the outcome for one document.
type Report struct {
	DocumentID string                    `json:"document_id"`
	Filename   string                    `json:"filename,omitempty"`
	Status     document.ProcessingStatus `json:"status"`
	Pages      int                       `json:"pages"`
	Chunks     int                       `json:"chunks"`
	Citations  []string                  `json:"regulatory_citations,omitempty"`
	Failed     []ChunkRange              `json:"failed_ranges,omitempty"`
	Err        error                     `json:"-"`
	Duration   time.Duration             `json:"duration"`
}

// IngestDocument runs the full pipeline for one document. Any earlier chunk
// set of the same document id is replaced.
func (s *Service) IngestDocument(ctx context.Context, req Request) (Report, error) {
	started := time.Now()
	meta := req.Metadata
	report := Report{DocumentID: meta.ID, Filename: req.Filename, Status: document.StatusFailed}
	if err := meta.Validate(); err != nil {
		report.Err = err
		return report, err
	}
	log := s.logger.With("document_id", meta.ID, "proceeding_id", meta.ProceedingID)

	sum := sha256.Sum256(req.Data)
	now := time.Now().UTC()
	meta.SHA256 = hex.EncodeToString(sum[:])
	meta.Status = document.StatusProcessing
	meta.FailureReason = ""
	meta.UpdatedAt = now
	if meta.UploadedAt.IsZero() {
		meta.UploadedAt = now
	}
	if meta.Filename == "" {
		meta.Filename = filepath.Base(req.Filename)
	}
	if err := s.metadata.Put(ctx, meta); err != nil {
		report.Err = fmt.Errorf("record processing status: %w", err)
		return report, report.Err
	}

	fail := func(err error) (Report, error) {
		report.Err = err
		report.Duration = time.Since(started)
		if statusErr := s.metadata.SetStatus(context.WithoutCancel(ctx), meta.ID, document.StatusFailed, err.Error()); statusErr != nil {
			log.Error("record failed status", "error", statusErr)
		}
		log.Warn("ingestion failed", "error", err)
		return report, err
	}

	source, err := s.sources(req.Filename)
	if err != nil {
		return fail(err)
	}
	pages, err := source.ExtractPages(ctx, req.Data)
	if err != nil {
		return fail(err)
	}
	report.Pages = len(pages)
	if meta.Title == "" {
		meta.Title = ExtractTitle(pages, strings.TrimSuffix(meta.Filename, filepath.Ext(meta.Filename)))
	}

	chunks := s.chunker.Chunk(pages)
	if len(chunks) == 0 {
		return fail(fmt.Errorf("%w from %d pages", ErrNoChunks, len(pages)))
	}
	report.Chunks = len(chunks)

	if err := s.index.DeleteDocumentChunks(ctx, meta.ID); err != nil {
		return fail(fmt.Errorf("clear previous chunks: %w", err))
	}

	if err := s.upload(ctx, meta, chunks); err != nil {
		var batchErr *BatchError
		if errors.As(err, &batchErr) {
			report.Failed = batchErr.Failed
		}
		return fail(err)
	}

	meta.Status = document.StatusIndexed
	meta.PageCount = len(pages)
	meta.ChunkCount = len(chunks)
	meta.RegulatoryCitations = document.CollectCitations(chunks)
	meta.UpdatedAt = time.Now().UTC()
	if err := s.metadata.Put(ctx, meta); err != nil {
		return fail(fmt.Errorf("write metadata: %w", err))
	}
	report.Status = document.StatusIndexed
	report.Citations = meta.RegulatoryCitations

	if s.graph != nil {
		if err := s.graph.SyncDocument(ctx, meta); err != nil {
			log.Warn("sync knowledge graph", "error", err)
		}
	}

	report.Duration = time.Since(started)
	log.Info("document indexed", "pages", report.Pages, "chunks", report.Chunks, "citations", len(report.Citations), "duration", report.Duration)
	return report, nil
}

// upload embeds and stores chunks in batches. Batches run concurrently; a
// failed batch does not stop the others.
func (s *Service) upload(ctx context.Context, meta document.Metadata, chunks []document.Chunk) error {
	var (
		mu        sync.Mutex
		succeeded []ChunkRange
		failed    []ChunkRange
		firstErr  error
	)

	g := new(errgroup.Group)
	g.SetLimit(s.opts.Concurrency)
	for start := 0; start < len(chunks); start += s.opts.UploadBatchSize {
		batch := chunks[start:min(start+s.opts.UploadBatchSize, len(chunks))]
		g.Go(func() error {
			span := ChunkRange{First: batch[0].ChunkID, Last: batch[len(batch)-1].ChunkID}
			err := s.uploadBatch(ctx, meta, batch)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, span)
				if firstErr == nil {
					firstErr = err
				}
				s.logger.Warn("chunk batch failed", "document_id", meta.ID, "chunks", span.String(), "error", err)
				return nil
			}
			succeeded = append(succeeded, span)
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) == 0 {
		return nil
	}
	return &BatchError{
		DocumentID: meta.ID,
		Succeeded:  mergeRanges(succeeded),
		Failed:     mergeRanges(failed),
		Cause:      firstErr,
	}
}

func (s *Service) uploadBatch(ctx context.Context, meta document.Metadata, batch []document.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}
	vectors, err := embeddings.EmbedBatches(ctx, s.embedder, texts, s.opts.EmbedBatchSize, s.limiter)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	records := make([]index.Record, len(batch))
	for i, c := range batch {
		records[i] = index.Record{Chunk: c, Embedding: vectors[i]}
	}
	if err := s.index.UpsertChunks(ctx, meta, records); err != nil {
		return fmt.Errorf("upload chunks: %w", err)
	}
	return nil
}

// IngestBatch ingests documents in parallel. Failures are recorded in the
// returned reports and never stop other documents.
func (s *Service) IngestBatch(ctx context.Context, reqs []Request) []Report {
	reports := make([]Report, len(reqs))
	g := new(errgroup.Group)
	g.SetLimit(s.opts.DocumentConcurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			report, _ := s.IngestDocument(ctx, req)
			reports[i] = report
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// IngestDirectory ingests every PDF and text file under dir. Metadata comes
// from manifest, falling back to file name conventions; unmatched files are
// reported as failed without being ingested.
func (s *Service) IngestDirectory(ctx context.Context, dir string, manifest *Manifest) ([]Report, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("data directory: %w", err)
	}

	var paths []string
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if DetectFormat(path) != FormatUnknown {
			paths = append(paths, path)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("walk data directory: %w", err)
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		s.logger.Info("no documents found", "dir", dir)
		return nil, nil
	}

	var (
		reqs    []Request
		reports []Report
	)
	for _, path := range paths {
		meta, err := manifest.Resolve(path)
		if err != nil {
			s.logger.Warn("skip file", "path", path, "error", err)
			reports = append(reports, Report{Filename: filepath.Base(path), Status: document.StatusFailed, Err: err})
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			reports = append(reports, Report{DocumentID: meta.ID, Filename: filepath.Base(path), Status: document.StatusFailed, Err: fmt.Errorf("read file: %w", err)})
			continue
		}
		reqs = append(reqs, Request{Metadata: meta, Filename: path, Data: data})
	}

	reports = append(reports, s.IngestBatch(ctx, reqs)...)
	return reports, nil
}

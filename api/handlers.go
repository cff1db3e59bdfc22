package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fabfab/hearings-ai/document"
	"github.com/fabfab/hearings-ai/ingestion"
	"github.com/fabfab/hearings-ai/search"
	"github.com/fabfab/hearings-ai/understanding"
)

const estimatedIngestMinutes = 5

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ingestMetadata is the JSON carried in the "metadata" form field of an
// upload.
type ingestMetadata struct {
	ProceedingID         string                        `json:"proceeding_id"`
	DocumentType         document.DocumentType         `json:"document_type"`
	Title                string                        `json:"title"`
	ConfidentialityLevel document.ConfidentialityLevel `json:"confidentiality_level"`
	Parties              []document.Party              `json:"parties"`
	CanonicalCitation    string                        `json:"abaer_citation"`
	VolumeNumber         int                           `json:"volume_number"`
}

type ingestResponse struct {
	DocumentID                 string                    `json:"document_id"`
	Status                     document.ProcessingStatus `json:"status"`
	EstimatedCompletionMinutes int                       `json:"estimated_completion_minutes"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "healthy", Version: Version})
}

func (s *Server) handleSearch(c *gin.Context) {
	var req search.Request
	if !bindJSON(c, &req) {
		return
	}
	claims, _ := claimsFrom(c)
	resp, err := s.search.Search(c.Request.Context(), req, claims)
	if err != nil {
		s.fail(c, err)
		return
	}
	requestLogger(c).Info("search completed", "results", len(resp.Results), "mode", req.Mode, "proceeding_id", req.ProceedingID)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEvidence(c *gin.Context) {
	var req search.EvidenceRequest
	if !bindJSON(c, &req) {
		return
	}
	claims, _ := claimsFrom(c)
	resp, err := s.search.Evidence(c.Request.Context(), req, claims)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleUnderstand(c *gin.Context) {
	if s.understanding == nil {
		s.fail(c, understanding.ErrLLMUnavailable)
		return
	}
	var req understanding.Request
	if !bindJSON(c, &req) {
		return
	}
	claims, _ := claimsFrom(c)
	resp, err := s.understanding.Analyze(c.Request.Context(), req, claims)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDocument(c *gin.Context) {
	claims, _ := claimsFrom(c)
	meta, err := s.search.Document(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (s *Server) handleProceeding(c *gin.Context) {
	claims, _ := claimsFrom(c)
	overview, err := s.search.Proceeding(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// handleIngest accepts an upload and processes it in the background. The
// response only confirms that the document was queued.
func (s *Server) handleIngest(c *gin.Context) {
	claims, _ := claimsFrom(c)
	if !s.policy.CanIngest(claims) {
		abort(c, http.StatusForbidden, CodeRoleRequired, "Document ingestion requires Staff or Hearing_Panel role", nil)
		return
	}
	if s.ingestor == nil {
		abort(c, http.StatusServiceUnavailable, "INGEST_UNAVAILABLE", "Ingestion is not configured", nil)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abort(c, http.StatusRequestEntityTooLarge, CodeInvalidRequest, fmt.Sprintf("upload exceeds %d bytes", s.opts.MaxUploadBytes), nil)
			return
		}
		abort(c, http.StatusUnprocessableEntity, CodeInvalidRequest, "multipart field \"file\" is required", nil)
		return
	}
	filename := filepath.Base(fileHeader.Filename)
	if _, err := ingestion.PageSourceFor(filename); err != nil {
		abort(c, http.StatusUnprocessableEntity, CodeInvalidRequest, err.Error(), nil)
		return
	}

	var form ingestMetadata
	if err := json.Unmarshal([]byte(c.PostForm("metadata")), &form); err != nil {
		abort(c, http.StatusUnprocessableEntity, CodeInvalidRequest, "multipart field \"metadata\" must be a JSON object", map[string]any{"error": err.Error()})
		return
	}
	if form.ConfidentialityLevel == "" {
		form.ConfidentialityLevel = document.LevelConfidential
	}
	meta := document.Metadata{
		ID:                   uuid.NewString(),
		ProceedingID:         strings.TrimSpace(form.ProceedingID),
		DocumentType:         form.DocumentType,
		ConfidentialityLevel: form.ConfidentialityLevel,
		Parties:              form.Parties,
		CanonicalCitation:    strings.TrimSpace(form.CanonicalCitation),
		Title:                strings.TrimSpace(form.Title),
		Status:               document.StatusPending,
		Filename:             filename,
		VolumeNumber:         form.VolumeNumber,
		UploadedAt:           time.Now().UTC(),
	}
	if err := meta.Validate(); err != nil {
		abort(c, http.StatusUnprocessableEntity, CodeInvalidRequest, err.Error(), nil)
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		s.fail(c, fmt.Errorf("open upload: %w", err))
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		s.fail(c, fmt.Errorf("read upload: %w", err))
		return
	}

	if s.pending != nil {
		if err := s.pending.Put(c.Request.Context(), meta); err != nil {
			s.fail(c, fmt.Errorf("record pending document: %w", err))
			return
		}
	}

	log := requestLogger(c).With("document_id", meta.ID, "proceeding_id", meta.ProceedingID, "filename", filename, "subject", claims.Subject)
	ctx := context.WithoutCancel(c.Request.Context())
	req := ingestion.Request{Metadata: meta, Filename: filename, Data: data}
	s.ingestJobs.Add(1)
	go func() {
		defer s.ingestJobs.Done()
		if err := s.ingestSlots.Acquire(ctx, 1); err != nil {
			log.Error("acquire ingestion slot", "error", err)
			return
		}
		defer s.ingestSlots.Release(1)
		report, err := s.ingestor.IngestDocument(ctx, req)
		if err != nil {
			log.Error("background ingestion failed", "error", err, "failed_ranges", report.Failed)
			return
		}
		log.Info("background ingestion finished", "chunks", report.Chunks, "duration", report.Duration)
	}()

	log.Info("document queued for ingestion", "bytes", len(data))
	c.JSON(http.StatusAccepted, ingestResponse{
		DocumentID:                 meta.ID,
		Status:                     document.StatusPending,
		EstimatedCompletionMinutes: estimatedIngestMinutes,
	})
}

// bindJSON decodes the body and answers 422 on malformed input.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		abort(c, http.StatusUnprocessableEntity, CodeInvalidRequest, "request body is not valid JSON for this endpoint", map[string]any{"error": err.Error()})
		return false
	}
	return true
}

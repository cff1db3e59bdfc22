package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/hearings-ai/access"
	"github.com/fabfab/hearings-ai/config"
	"github.com/fabfab/hearings-ai/document"
	"github.com/fabfab/hearings-ai/ingestion"
	"github.com/fabfab/hearings-ai/metadata"
	"github.com/fabfab/hearings-ai/search"
)

const testSecret = "test-signing-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type stubBackend struct {
	result search.BackendResult
	err    error
	block  bool
}

func (b *stubBackend) Search(ctx context.Context, _ search.BackendQuery) (search.BackendResult, error) {
	if b.block {
		<-ctx.Done()
		return search.BackendResult{}, ctx.Err()
	}
	return b.result, b.err
}

type noChunks struct{}

func (noChunks) ChunkWindow(context.Context, string, int, int) ([]document.Chunk, error) {
	return nil, nil
}

type recordingIngestor struct {
	mu   sync.Mutex
	reqs []ingestion.Request
}

func (r *recordingIngestor) IngestDocument(_ context.Context, req ingestion.Request) (ingestion.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return ingestion.Report{DocumentID: req.Metadata.ID, Status: document.StatusIndexed, Chunks: 1}, nil
}

func (r *recordingIngestor) requests() []ingestion.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ingestion.Request(nil), r.reqs...)
}

type fixture struct {
	server   *Server
	docs     *metadata.MemoryStore
	backend  *stubBackend
	ingestor *recordingIngestor
}

func newFixture(t *testing.T, searchTimeout time.Duration) *fixture {
	t.Helper()
	ctx := context.Background()
	docs := metadata.NewMemoryStore()
	require.NoError(t, docs.Put(ctx, document.Metadata{
		ID:                   "decision-1",
		ProceedingID:         "1234567",
		DocumentType:         document.TypeDecision,
		ConfidentialityLevel: document.LevelPublic,
		Title:                "Decision on the Grassy Mountain Coal Project",
		CanonicalCitation:    "2021 ABAER 010",
		Status:               document.StatusIndexed,
	}))
	require.NoError(t, docs.Put(ctx, document.Metadata{
		ID:                   "sealed-1",
		ProceedingID:         "1234567",
		DocumentType:         document.TypeEvidence,
		ConfidentialityLevel: document.LevelConfidential,
		Title:                "Sealed exhibit",
		Status:               document.StatusIndexed,
	}))

	backend := &stubBackend{}
	policy := access.NewPolicy(access.ExactMatch)
	orchestrator, err := search.NewOrchestrator(search.Deps{
		Backend:   backend,
		Policy:    policy,
		Documents: docs,
		Chunks:    noChunks{},
	}, search.Options{Timeout: searchTimeout})
	require.NoError(t, err)

	ingestor := &recordingIngestor{}
	srv, err := New(Deps{
		Search:   orchestrator,
		Ingestor: ingestor,
		Pending:  docs,
		Policy:   policy,
		Auth: NewAuthenticator(config.AuthConfig{
			JWTSecret: testSecret,
			Issuer:    "hearings-test",
			DemoMode:  true,
		}),
	}, Options{MaxUploadBytes: 1 << 20})
	require.NoError(t, err)
	return &fixture{server: srv, docs: docs, backend: backend, ingestor: ingestor}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func asRole(req *http.Request, role string) *http.Request {
	req.Header.Set(demoRoleHeader, role)
	return req
}

func signToken(t *testing.T, claims tokenClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthNeedsNoAuth(t *testing.T) {
	f := newFixture(t, time.Second)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","version":"0.1.0"}`, rec.Body.String())
}

func TestAPIRequiresAuthentication(t *testing.T) {
	f := newFixture(t, time.Second)
	rec := f.do(t, jsonRequest(t, http.MethodPost, "/api/search", search.Request{Query: "selenium"}))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeUnauthenticated, decodeError(t, rec).Code)
}

func TestUnknownDemoRoleIsRejected(t *testing.T) {
	f := newFixture(t, time.Second)
	rec := f.do(t, asRole(jsonRequest(t, http.MethodGet, "/api/documents/decision-1", nil), "Root"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerToken(t *testing.T) {
	f := newFixture(t, time.Second)
	token := signToken(t, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "hearings-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		OID:   "user-42",
		Roles: []string{access.RoleHearingPanel},
	})

	req := jsonRequest(t, http.MethodGet, "/api/documents/sealed-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := f.do(t, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var meta document.Metadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, "sealed-1", meta.ID)
}

func TestBearerTokenRejections(t *testing.T) {
	f := newFixture(t, time.Second)
	for name, claims := range map[string]tokenClaims{
		"expired": {RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "hearings-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}},
		"no expiry": {RegisteredClaims: jwt.RegisteredClaims{Issuer: "hearings-test"}},
		"wrong issuer": {RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}},
	} {
		t.Run(name, func(t *testing.T) {
			req := jsonRequest(t, http.MethodGet, "/api/documents/decision-1", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, claims))
			rec := f.do(t, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestValidateTokenUsesOIDAsSubject(t *testing.T) {
	auth := NewAuthenticator(config.AuthConfig{JWTSecret: testSecret})
	token := signToken(t, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "sub-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		OID:              "oid-1",
		PartyAffiliation: "Benga Mining Limited",
		LicenseeCode:     "0XYZ",
	})

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "oid-1", claims.Subject)
	assert.Equal(t, "Benga Mining Limited", claims.PartyAffiliation)
	assert.Equal(t, "0XYZ", claims.LicenseeCode)
}

func TestDemoModeOffIgnoresDemoHeader(t *testing.T) {
	auth := NewAuthenticator(config.AuthConfig{JWTSecret: testSecret})
	req := httptest.NewRequest(http.MethodGet, "/api/documents/x", nil)
	req.Header.Set(demoRoleHeader, "Staff")

	_, err := auth.Authenticate(req)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSearchReturnsResults(t *testing.T) {
	f := newFixture(t, time.Second)
	decision, err := f.docs.Get(context.Background(), "decision-1")
	require.NoError(t, err)
	f.backend.result = search.BackendResult{
		Hits: []search.Hit{{
			Document: decision,
			Chunk:    document.Chunk{ChunkID: 3, Content: "Selenium loading to Gold Creek was assessed.", PageNumber: 12, ParagraphNumber: "45"},
			Score:    0.9,
		}},
		TotalCount: 1,
		Exact:      true,
	}

	rec := f.do(t, asRole(jsonRequest(t, http.MethodPost, "/api/search", search.Request{Query: "selenium", Mode: search.ModeKeyword}), "Public"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp search.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "decision-1", resp.Results[0].DocumentID)
	assert.Equal(t, 1, resp.TotalCount)
}

func TestSearchRejectsMalformedBody(t *testing.T) {
	f := newFixture(t, time.Second)
	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(t, asRole(req, "Staff"))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, CodeInvalidRequest, decodeError(t, rec).Code)
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	f := newFixture(t, time.Second)
	rec := f.do(t, asRole(jsonRequest(t, http.MethodPost, "/api/search", search.Request{Query: "  "}), "Staff"))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, CodeInvalidRequest, decodeError(t, rec).Code)
}

func TestSearchTimeoutMapsToGatewayTimeout(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.backend.block = true

	rec := f.do(t, asRole(jsonRequest(t, http.MethodPost, "/api/search", search.Request{Query: "selenium", Mode: search.ModeKeyword}), "Staff"))

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, CodeSearchTimeout, decodeError(t, rec).Code)
}

func TestSearchBackendFailureMapsToUnavailable(t *testing.T) {
	f := newFixture(t, time.Second)
	f.backend.err = search.NewBackendError("query", search.BackendTransient, assert.AnError)

	rec := f.do(t, asRole(jsonRequest(t, http.MethodPost, "/api/search", search.Request{Query: "selenium", Mode: search.ModeKeyword}), "Staff"))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, CodeSearchUnavailable, body.Code)
	assert.Equal(t, "transient", body.Details["kind"])
}

func TestMissingAndForbiddenDocumentsLookAlike(t *testing.T) {
	f := newFixture(t, time.Second)

	missing := f.do(t, asRole(jsonRequest(t, http.MethodGet, "/api/documents/nope", nil), "Public"))
	forbidden := f.do(t, asRole(jsonRequest(t, http.MethodGet, "/api/documents/sealed-1", nil), "Public"))

	require.Equal(t, http.StatusNotFound, missing.Code)
	require.Equal(t, http.StatusNotFound, forbidden.Code)
	assert.Equal(t, missing.Body.String(), forbidden.Body.String())
	assert.Equal(t, CodeUnavailable, decodeError(t, forbidden).Code)
}

func TestUnderstandWithoutModelIsUnavailable(t *testing.T) {
	f := newFixture(t, time.Second)
	rec := f.do(t, asRole(jsonRequest(t, http.MethodPost, "/api/documents/understand", map[string]any{
		"document_id": "decision-1",
		"operations":  []string{"summarize"},
	}), "Staff"))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, CodeLLMUnavailable, decodeError(t, rec).Code)
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	f := newFixture(t, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(correlationHeader, "corr-123")
	rec := f.do(t, req)
	assert.Equal(t, "corr-123", rec.Header().Get(correlationHeader))

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get(correlationHeader))
}

func uploadRequest(t *testing.T, filename, content string, meta any) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	raw, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, w.WriteField("metadata", string(raw)))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents/ingest", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

var exhibitForm = map[string]any{
	"proceeding_id":  "1234567",
	"document_type":  "evidence",
	"title":          "Water balance",
	"parties":        []map[string]string{{"name": "Benga Mining Limited", "role": "applicant"}},
	"volume_number":  2,
	"abaer_citation": "",
}

func TestIngestRequiresStaffOrPanel(t *testing.T) {
	f := newFixture(t, time.Second)
	for _, role := range []string{"Public", "Intervener"} {
		rec := f.do(t, asRole(uploadRequest(t, "exhibit.txt", "text", exhibitForm), role))
		require.Equal(t, http.StatusForbidden, rec.Code, role)
		assert.Equal(t, CodeRoleRequired, decodeError(t, rec).Code)
	}
	assert.Empty(t, f.ingestor.requests())
}

func TestIngestAcceptsUpload(t *testing.T) {
	f := newFixture(t, time.Second)
	rec := f.do(t, asRole(uploadRequest(t, "exhibit.txt", "1. Water balance for the mine.", exhibitForm), "Staff"))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.DocumentID)
	assert.Equal(t, document.StatusPending, resp.Status)
	assert.Equal(t, estimatedIngestMinutes, resp.EstimatedCompletionMinutes)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.server.WaitForIngestion(ctx))

	reqs := f.ingestor.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, resp.DocumentID, reqs[0].Metadata.ID)
	assert.Equal(t, document.LevelConfidential, reqs[0].Metadata.ConfidentialityLevel, "missing level is stored as confidential")
	assert.Equal(t, "exhibit.txt", reqs[0].Filename)
	assert.Equal(t, "1. Water balance for the mine.", string(reqs[0].Data))

	pending, err := f.docs.Get(context.Background(), resp.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusPending, pending.Status)
	assert.Equal(t, 2, pending.VolumeNumber)
	assert.Equal(t, document.LevelConfidential, pending.ConfidentialityLevel)
}

func TestIngestKeepsDeclaredLevel(t *testing.T) {
	f := newFixture(t, time.Second)
	form := map[string]any{"confidentiality_level": "public"}
	for k, v := range exhibitForm {
		form[k] = v
	}
	rec := f.do(t, asRole(uploadRequest(t, "exhibit.txt", "Public notice.", form), "Staff"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.server.WaitForIngestion(ctx))

	reqs := f.ingestor.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, document.LevelPublic, reqs[0].Metadata.ConfidentialityLevel)
}

func TestIngestValidation(t *testing.T) {
	f := newFixture(t, time.Second)
	for name, req := range map[string]*http.Request{
		"unsupported format": uploadRequest(t, "exhibit.docx", "x", exhibitForm),
		"bad document type": uploadRequest(t, "exhibit.txt", "x", map[string]any{
			"proceeding_id": "1234567",
			"document_type": "memo",
		}),
		"missing proceeding": uploadRequest(t, "exhibit.txt", "x", map[string]any{
			"document_type": "evidence",
		}),
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, asRole(req, "Hearing_Panel"))
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			assert.Equal(t, CodeInvalidRequest, decodeError(t, rec).Code)
		})
	}
	assert.Empty(t, f.ingestor.requests())
}

func TestProceedingOverview(t *testing.T) {
	f := newFixture(t, time.Second)
	rec := f.do(t, asRole(jsonRequest(t, http.MethodGet, "/api/proceedings/1234567", nil), "Public"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "sealed-1")
	assert.Contains(t, rec.Body.String(), "decision-1")
}

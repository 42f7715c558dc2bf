//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/askbase-io/askbase/internal/api/handlers"
	"github.com/askbase-io/askbase/internal/jobs"
	"github.com/askbase-io/askbase/internal/repository"
	"github.com/askbase-io/askbase/internal/server"
	"github.com/askbase-io/askbase/internal/service"
	"github.com/askbase-io/askbase/internal/storage"
	"github.com/askbase-io/askbase/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

const testAPIToken = "akb_0123456789abcdef0123456789abcdef"

// workerPollInterval is short so ingestion completes quickly in tests.
const workerPollInterval = 200 * time.Millisecond

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	S3Client     *storage.S3Client
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment with containers, the
// HTTP server, and a running ingest worker. The embedding and completion
// providers are deterministic in-process stubs.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)

	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "test-sources",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser := startServer(t, pool, s3Client, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		RustFSC:      s3C,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		S3Client:     s3Client,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs an authenticated GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil, testAPIToken)
}

// Post performs an authenticated POST request
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("POST", path, body, testAPIToken)
}

// Delete performs an authenticated DELETE request
func (e *E2ETestEnv) Delete(path string) (*APIResponse, error) {
	return e.doRequest("DELETE", path, nil, testAPIToken)
}

// DoUnauthenticated performs a request without an Authorization header
func (e *E2ETestEnv) DoUnauthenticated(method, path string) (int, error) {
	req, err := http.NewRequest(method, e.ServerURL+path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}, authToken string) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNoContent {
		return &APIResponse{}, nil
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// WaitForSourceStatus polls until the source reaches the wanted status.
func (e *E2ETestEnv) WaitForSourceStatus(sourceID, want string, timeout time.Duration) map[string]interface{} {
	deadline := time.Now().Add(timeout)
	var last map[string]interface{}
	for time.Now().Before(deadline) {
		resp, err := e.Get("/sources/" + sourceID)
		if err == nil {
			var src map[string]interface{}
			if err := json.Unmarshal(resp.Data, &src); err == nil {
				last = src
				if src["status"] == want {
					return src
				}
				if src["status"] == "failed" && want != "failed" {
					e.T.Fatalf("source %s failed while waiting for %s: %v", sourceID, want, src["error"])
				}
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	e.T.Fatalf("source %s did not reach status %s within %v (last: %v)", sourceID, want, timeout, last)
	return nil
}

// startServer starts the HTTP server plus the ingest worker
func startServer(t *testing.T, pool *pgxpool.Pool, s3Client *storage.S3Client, port int) (string, func()) {
	sourceRepo := repository.NewSourceRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	embedder := &stubEmbedder{}
	annotator := service.NewContextAnnotator(&stubCompleter{})
	pipeline := service.NewProcessingPipeline(annotator, embedder)

	ingestionSvc := service.NewIngestionService(sourceRepo, txRunner, pipeline, service.NewPlainTextExtractor(), s3Client)
	retrievalSvc := service.NewRetrievalService(chunkRepo, embedder, questionRepo)
	insightSvc := service.NewInsightService(questionRepo, service.NewQuestionClusterer(embedder))

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	worker := jobs.NewWorker(jobs.NewIngestWorker(sourceRepo, ingestionSvc), workerPollInterval)
	go worker.Start(workerCtx)

	cfg := server.RouterConfig{
		APIToken:       testAPIToken,
		SourceHandler:  handlers.NewSourceHandler(ingestionSvc),
		QueryHandler:   handlers.NewQueryHandler(retrievalSvc),
		InsightHandler: handlers.NewInsightHandler(insightSvc),
	}

	router := server.NewRouter(cfg)
	addr := fmt.Sprintf(":%d", port)

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		worker.Stop()
		cancelWorker()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// stubEmbedder produces deterministic unit vectors from a text hash, so
// identical texts embed identically and distinct texts differ.
type stubEmbedder struct{}

func (s *stubEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	seed := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	vec := make([]float32, 1536)
	var norm float64
	for i := range vec {
		bits := binary.BigEndian.Uint32(seed[(i*4)%28 : (i*4)%28+4])
		v := float32(int32(bits^uint32(i*2654435761))) / float32(math.MaxInt32)
		vec[i] = v
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func (s *stubEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := s.GenerateEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// stubCompleter returns a fixed situating context.
type stubCompleter struct{}

func (s *stubCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	return "This excerpt is part of a customer support document.", nil
}

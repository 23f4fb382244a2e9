package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kalambet/docintel/internal/storage"
)

type recordedRequest struct {
	Method      string
	Path        string
	Body        string
	Auth        string
	User        string
	ContentType string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			Body:        body.String(),
			Auth:        r.Header.Get("Authorization"),
			User:        r.Header.Get("X-User-ID"),
			ContentType: r.Header.Get("Content-Type"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		userID:     "alice",
		httpClient: ts.server.Client(),
	}
}

func (ts *testServer) lastRequest(t *testing.T) recordedRequest {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.requests) == 0 {
		t.Fatal("no requests recorded")
	}
	return ts.requests[len(ts.requests)-1]
}

// useServer points every command at ts for the rest of the test.
func useServer(t *testing.T, ts *testServer) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = old })
}

// captureOutput redirects command output and disables color.
func captureOutput(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	oldOut, oldErr, oldColor := stdout, stderr, noColor
	stdout, stderr = out, errOut
	t.Cleanup(func() { stdout, stderr, noColor = oldOut, oldErr, oldColor })
	return out, errOut
}

// execute runs the root command and resets every flag it touched so the
// next test starts clean.
func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(append(args, "--no-color"))
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
	})
	return rootCmd.Execute()
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

var ctx = context.Background()

func TestUploadCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /documents": `{"id":"doc-123","name":"notes.txt","status":"uploaded"}`,
	})
	useServer(t, ts)
	_, errOut := captureOutput(t)

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("Cells make energy."), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := execute(t, "upload", path); err != nil {
		t.Fatalf("upload: %v", err)
	}

	r := ts.lastRequest(t)
	if r.Method != "POST" || r.Path != "/documents" {
		t.Errorf("request = %s %s, want POST /documents", r.Method, r.Path)
	}
	if !strings.HasPrefix(r.ContentType, "multipart/form-data") {
		t.Errorf("content type = %q, want multipart/form-data", r.ContentType)
	}
	if !strings.Contains(r.Body, `filename="notes.txt"`) || !strings.Contains(r.Body, "Cells make energy.") {
		t.Errorf("multipart body missing file part:\n%s", r.Body)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	if !strings.Contains(errOut.String(), "doc-123") {
		t.Errorf("output = %q, want it to mention doc-123", errOut.String())
	}
}

func TestUploadCommand_MissingFile(t *testing.T) {
	ts := newTestServer(t, nil)
	useServer(t, ts)
	captureOutput(t)

	err := execute(t, "upload", filepath.Join(t.TempDir(), "nope.pdf"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if len(ts.requests) != 0 {
		t.Errorf("expected no requests, got %d", len(ts.requests))
	}
}

func TestAskCommand_Documents(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /ask": `{"content":"Mitochondria make ATP.","citations":[{"text":"...","page_num":3,"document_name":"bio.pdf","document_id":"d1"}]}`,
	})
	useServer(t, ts)
	out, _ := captureOutput(t)

	if err := execute(t, "ask", "--doc", "d1", "--doc", "d2", "what", "makes", "ATP?"); err != nil {
		t.Fatalf("ask: %v", err)
	}

	var body struct {
		Question    string   `json:"question"`
		DocumentIDs []string `json:"document_ids"`
	}
	if err := json.Unmarshal([]byte(ts.lastRequest(t).Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body.Question != "what makes ATP?" {
		t.Errorf("question = %q", body.Question)
	}
	if len(body.DocumentIDs) != 2 || body.DocumentIDs[0] != "d1" || body.DocumentIDs[1] != "d2" {
		t.Errorf("document_ids = %v, want [d1 d2]", body.DocumentIDs)
	}
	if !strings.Contains(out.String(), "Mitochondria make ATP.") || !strings.Contains(out.String(), "bio.pdf, page 3") {
		t.Errorf("output = %q", out.String())
	}
}

func TestAskCommand_Chat(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /chats/c1/messages": `{"content":"Ribosomes build proteins.","citations":[]}`,
	})
	useServer(t, ts)
	out, _ := captureOutput(t)

	if err := execute(t, "ask", "--chat", "c1", "and ribosomes?"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if r := ts.lastRequest(t); r.Path != "/chats/c1/messages" || r.User != "alice" {
		t.Errorf("request = %+v", r)
	}
	if !strings.Contains(out.String(), "Ribosomes build proteins.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestAskCommand_MissingTarget(t *testing.T) {
	captureOutput(t)

	err := execute(t, "ask", "anything?")
	if err == nil {
		t.Fatal("expected error without --doc or --chat")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestAskCommand_ServerError(t *testing.T) {
	ts := newTestServer(t, nil)
	useServer(t, ts)
	captureOutput(t)

	err := execute(t, "ask", "--doc", "missing", "hello?")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want a 404", err)
	}
}

func TestConfigSetAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("DOCINTEL_CONFIG", path)
	t.Setenv("DOCINTEL_ENGINE_PROVIDER", "")
	out, _ := captureOutput(t)

	if err := execute(t, "config", "set", "cluster.k", "7"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	if err := execute(t, "config", "show"); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out.String(), "cluster.k = 7") {
		t.Errorf("output missing cluster.k = 7:\n%s", out.String())
	}
	if !strings.Contains(out.String(), path) {
		t.Errorf("output missing config path %s", path)
	}
}

func TestConfigSet_RejectsSecret(t *testing.T) {
	t.Setenv("DOCINTEL_CONFIG", filepath.Join(t.TempDir(), "config.json"))
	captureOutput(t)

	err := execute(t, "config", "set", "server.api_token", "abc")
	if err == nil || !strings.Contains(err.Error(), "DOCINTEL_API_TOKEN") {
		t.Errorf("err = %v, want it to name DOCINTEL_API_TOKEN", err)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestAPIClient_NoTokenNoHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = ""
	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if auth := ts.lastRequest(t).Auth; auth != "" {
		t.Errorf("auth = %q, want no header", auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"invalid or missing bearer token","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/documents")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if err.Error() != "server returned 401: invalid or missing bearer token" {
		t.Errorf("error = %q, want the envelope message", err.Error())
	}
	if !isStatus(err, http.StatusUnauthorized) || isStatus(err, http.StatusNotFound) {
		t.Errorf("isStatus mismatch for %v", err)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestPrintClusters(t *testing.T) {
	out, errOut := captureOutput(t)
	noColor = true

	printClusters([]storage.ClusterElement{
		{PageNumber: 1, ClusterName: "Cell biology"},
		{PageNumber: 2, ClusterName: "Genetics"},
		{PageNumber: 3, ClusterName: "Cell biology"},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q, want 2", lines)
	}
	if lines[0] != "Cell biology  pages 1, 3" || lines[1] != "Genetics  pages 2" {
		t.Errorf("lines = %q", lines)
	}
	if !strings.Contains(errOut.String(), "3 pages in 2 clusters") {
		t.Errorf("summary = %q", errOut.String())
	}
}

func TestValidMCPMode(t *testing.T) {
	for _, mode := range []string{mcpStdio, mcpHTTP, mcpOff} {
		if err := validMCPMode(mode); err != nil {
			t.Errorf("validMCPMode(%q) = %v", mode, err)
		}
	}
	if err := validMCPMode("sse"); err == nil {
		t.Error("validMCPMode(sse) = nil, want error")
	}
}

func TestSetupLogging(t *testing.T) {
	logger := setupLogging("debug")
	if !logger.Enabled(ctx, -4) {
		t.Error("debug level not enabled")
	}
	logger = setupLogging("bogus")
	if logger.Enabled(ctx, -4) {
		t.Error("unknown level should fall back to info")
	}
	setupLogging("info")
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		count, limit int
		want         string
	}{
		{5, 100, "5"},
		{0, 100, "0"},
		{100, 100, "100+"},
		{150, 100, "150+"},
	}
	for _, tt := range tests {
		got := countLabel(tt.count, tt.limit)
		if got != tt.want {
			t.Errorf("countLabel(%d, %d) = %q, want %q", tt.count, tt.limit, got, tt.want)
		}
	}
}

func TestAskCommand_UnknownChat(t *testing.T) {
	ts := newTestServer(t, nil)
	useServer(t, ts)
	captureOutput(t)

	err := execute(t, "ask", "--chat", "c-404", "still there?")
	if err == nil || !strings.Contains(err.Error(), "no chat with id c-404") {
		t.Fatalf("err = %v, want an unknown-chat error", err)
	}
	if !isStatus(err, http.StatusNotFound) {
		t.Errorf("wrapped error lost its status: %v", err)
	}
	if got := ts.lastRequest(t).Path; got != "/chats/c-404/messages" {
		t.Errorf("path = %s", got)
	}
}

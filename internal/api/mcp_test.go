package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/docintel/internal/clustering"
	"github.com/kalambet/docintel/internal/quiz"
	"github.com/kalambet/docintel/internal/rag"
	"github.com/kalambet/docintel/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *testApp) {
	t.Helper()
	app := newTestApp(t)
	gen := &mockGenerator{
		generateFn: func(_ context.Context, prompt string) (string, error) {
			if strings.Contains(prompt, "[Question]") {
				return "Mitochondria make ATP.", nil
			}
			return "Cell energy", nil
		},
	}
	ragSvc := rag.NewService(mockEmbedder{}, app.vectors, gen, nil, nil)
	return MCPDeps{
		Store:    app.store,
		RAG:      ragSvc,
		Chats:    rag.NewChats(ragSvc, app.store),
		Clusters: clustering.NewService(app.vectors, app.store, gen, clustering.Options{TSNEIterations: 100}, nil),
		Grader:   quiz.NewGrader(nil, nil),
	}, app
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_AskDocuments(t *testing.T) {
	deps, app := newTestMCPDeps(t)
	app.seedDocument(t, "doc1", "Mitochondria make ATP.")
	handler := mcpAskDocuments(deps)

	req := makeCallToolRequest("ask_documents", map[string]interface{}{
		"question":     "What makes ATP?",
		"document_ids": []string{"doc1"},
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var ans rag.Answer
	if err := json.Unmarshal([]byte(toolText(t, result)), &ans); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if ans.Content != "Mitochondria make ATP." {
		t.Fatalf("unexpected answer: %s", ans.Content)
	}
	if len(ans.Citations) != 1 || ans.Citations[0].PageNum != 1 {
		t.Fatalf("unexpected citations: %+v", ans.Citations)
	}
}

func TestMCPTool_AskDocuments_Fallback(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpAskDocuments(deps)

	req := makeCallToolRequest("ask_documents", map[string]interface{}{
		"question":     "anything",
		"document_ids": []string{"unknown"},
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := toolText(t, result)
	if !strings.Contains(text, rag.FallbackAnswer) {
		t.Fatalf("expected fallback answer, got: %s", text)
	}
	if !strings.Contains(text, `"citations":[]`) {
		t.Fatalf("expected empty citation list, got: %s", text)
	}
}

func TestMCPTool_AskDocuments_Chat(t *testing.T) {
	deps, app := newTestMCPDeps(t)
	app.seedDocument(t, "doc1", "Mitochondria make ATP.")
	chat, err := deps.Chats.Start(context.Background(), "bio", []string{"doc1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	req := makeCallToolRequest("ask_documents", map[string]interface{}{
		"question": "What makes ATP?",
		"chat_id":  chat.ID,
	})
	result, err := mcpAskDocuments(deps)(context.Background(), req)
	if err != nil || result.IsError {
		t.Fatalf("ask failed: %v %s", err, toolText(t, result))
	}

	msgs, err := app.store.ListChatMessages(context.Background(), chat.ID)
	if err != nil {
		t.Fatalf("ListChatMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 stored turns, got %d", len(msgs))
	}
}

func TestMCPTool_AskDocuments_MissingArgs(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpAskDocuments(deps)

	for _, args := range []map[string]interface{}{
		{},
		{"question": "no documents"},
	} {
		result, err := handler(context.Background(), makeCallToolRequest("ask_documents", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Fatalf("expected error result for %v", args)
		}
	}
}

func TestMCPTool_DocumentClusters(t *testing.T) {
	deps, app := newTestMCPDeps(t)
	app.seedDocument(t, "doc1", "page one", "page two")
	handler := mcpDocumentClusters(deps)

	result, err := handler(context.Background(), makeCallToolRequest("document_clusters", map[string]interface{}{
		"document_id": "doc1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("expected empty array before clustering, got: %s", text)
	}

	result, err = handler(context.Background(), makeCallToolRequest("document_clusters", map[string]interface{}{
		"document_id": "doc1",
		"recompute":   true,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var elems []storage.ClusterElement
	if err := json.Unmarshal([]byte(toolText(t, result)), &elems); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(elems) != 2 || elems[0].Dimensions != 2 || elems[0].Z != 0 {
		t.Fatalf("unexpected elements: %+v", elems)
	}
}

func TestMCPTool_DocumentClusters_EmptyDocument(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, err := mcpDocumentClusters(deps)(context.Background(), makeCallToolRequest("document_clusters", map[string]interface{}{
		"document_id": "nothing",
		"recompute":   true,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for a document without pages")
	}
}

func TestMCPTool_GradeAnswers(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpGradeAnswers(deps)

	result, err := handler(context.Background(), makeCallToolRequest("grade_answers", map[string]interface{}{
		"questions":       []string{"2+2", "Capital of France"},
		"correct_answers": []string{"4", "Paris"},
		"student_answers": []string{"4", "paris"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var graded quiz.Graded
	if err := json.Unmarshal([]byte(toolText(t, result)), &graded); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if graded.Score != 1 || !graded.Correct[0] || graded.Correct[1] {
		t.Fatalf("unexpected grade: %+v", graded)
	}
}

func TestMCPTool_GradeAnswers_LengthMismatch(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, err := mcpGradeAnswers(deps)(context.Background(), makeCallToolRequest("grade_answers", map[string]interface{}{
		"questions":       []string{"a", "b"},
		"correct_answers": []string{"1", "2"},
		"student_answers": []string{"1"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(toolText(t, result), "length") {
		t.Fatalf("unexpected message: %s", toolText(t, result))
	}
}

func TestMCPResource_Documents(t *testing.T) {
	deps, app := newTestMCPDeps(t)
	app.seedDocument(t, "doc1", "page one")

	contents, err := mcpResourceDocuments(deps)(context.Background(), makeReadResourceRequest("docintel://documents"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var docs []map[string]any
	if err := json.Unmarshal([]byte(tc.Text), &docs); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(docs) != 1 || docs[0]["id"] != "doc1" || docs[0]["status"] != storage.DocumentReady {
		t.Fatalf("unexpected documents: %v", docs)
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, app := newTestMCPDeps(t)
	app.seedDocument(t, "doc1", "Mitochondria make ATP.")

	askHandler := mcpAskDocuments(deps)
	gradeHandler := mcpGradeAnswers(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := askHandler(context.Background(), makeCallToolRequest("ask_documents", map[string]interface{}{
				"question":     "What makes ATP?",
				"document_ids": []string{"doc1"},
			}))
			if err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			_, err := gradeHandler(context.Background(), makeCallToolRequest("grade_answers", map[string]interface{}{
				"questions":       []string{"a"},
				"correct_answers": []string{"1"},
				"student_answers": []string{"1"},
			}))
			if err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}

func TestNewMCPServer_Registers(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

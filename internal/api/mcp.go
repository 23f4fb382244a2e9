package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/docintel/internal/clustering"
	"github.com/kalambet/docintel/internal/quiz"
	"github.com/kalambet/docintel/internal/rag"
	"github.com/kalambet/docintel/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. Clusters and Grader are
// optional.
type MCPDeps struct {
	Store    *storage.Store
	RAG      *rag.Service
	Chats    *rag.Chats
	Clusters *clustering.Service
	Grader   *quiz.Grader
}

// NewMCPServer creates an MCP server with the document tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"docintel",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("docintel answers questions over uploaded documents, shows their topic clusters and grades quiz answers."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_documents",
			mcp.WithDescription("Answer a question from the pages of one or more uploaded documents, with citations."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithArray("document_ids", mcp.Description("Documents to search, in priority order")),
			mcp.WithString("chat_id", mcp.Description("Continue this chat instead; its documents are used and the turn is stored")),
		),
		mcpAskDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("document_clusters",
			mcp.WithDescription("Return the topic clusters of a document: one entry per page with its projected position and topic name."),
			mcp.WithString("document_id", mcp.Description("Document ID"), mcp.Required()),
			mcp.WithBoolean("recompute", mcp.Description("Run clustering again before returning")),
			mcp.WithNumber("dimensions", mcp.Description("Projection dimensions when recomputing, 2 or 3 (default 2)")),
		),
		mcpDocumentClusters(deps),
	)

	s.AddTool(
		mcp.NewTool("grade_answers",
			mcp.WithDescription("Grade student answers against canonical answers by exact match."),
			mcp.WithArray("questions", mcp.Description("Question texts"), mcp.Required()),
			mcp.WithArray("correct_answers", mcp.Description("Canonical answers, one per question"), mcp.Required()),
			mcp.WithArray("student_answers", mcp.Description("Student answers, one per question"), mcp.Required()),
		),
		mcpGradeAnswers(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"docintel://documents",
			"Documents",
			mcp.WithResourceDescription("The 50 most recent documents with their ingest status"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDocuments(deps),
	)

	return s
}

func mcpAskDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || question == "" {
			return mcpError("question is required"), nil
		}

		var ans rag.Answer
		if chatID := req.GetString("chat_id", ""); chatID != "" {
			ans, err = deps.Chats.Ask(ctx, chatID, question)
		} else {
			docIDs := req.GetStringSlice("document_ids", nil)
			if len(docIDs) == 0 {
				return mcpError("document_ids or chat_id is required"), nil
			}
			ans, err = deps.RAG.ProcessAnswer(ctx, docIDs, question, nil)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("answer failed: %v", err)), nil
		}
		return mcpJSON(ans)
	}
}

func mcpDocumentClusters(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docID, err := req.RequireString("document_id")
		if err != nil || docID == "" {
			return mcpError("document_id is required"), nil
		}

		var elems []storage.ClusterElement
		if req.GetBool("recompute", false) {
			if deps.Clusters == nil {
				return mcpError("clustering is not configured"), nil
			}
			dims := req.GetInt("dimensions", clustering.DefaultDimensions)
			elems, err = deps.Clusters.Cluster(ctx, docID, dims)
		} else {
			elems, err = deps.Store.ListClusterElements(ctx, docID)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("clusters failed: %v", err)), nil
		}
		if elems == nil {
			elems = []storage.ClusterElement{}
		}
		return mcpJSON(elems)
	}
}

func mcpGradeAnswers(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		questions := req.GetStringSlice("questions", nil)
		correct := req.GetStringSlice("correct_answers", nil)
		student := req.GetStringSlice("student_answers", nil)

		var (
			graded quiz.Graded
			err    error
		)
		if deps.Grader != nil && len(questions) == len(correct) {
			q := quiz.Quiz{Questions: make([]quiz.Question, len(questions))}
			for i := range questions {
				q.Questions[i] = quiz.Question{Question: questions[i], Answer: correct[i]}
			}
			graded, err = deps.Grader.Grade(ctx, q, student)
		} else {
			graded, err = quiz.Grade(questions, correct, student)
		}
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(graded)
	}
}

func mcpResourceDocuments(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		docs, err := deps.Store.ListDocuments(ctx, 50, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}

		type documentSummary struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Status    string `json:"status"`
			PageCount int    `json:"page_count"`
			CreatedAt string `json:"created_at"`
		}

		summaries := make([]documentSummary, len(docs))
		for i, d := range docs {
			summaries[i] = documentSummary{
				ID:        d.ID,
				Name:      d.Name,
				Status:    d.Status,
				PageCount: d.PageCount,
				CreatedAt: d.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal documents: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Searcher answers knowledge-base queries over the user's indexed documents.
type Searcher interface {
	Search(ctx context.Context, userID, query string, docTypes []string, limit int) (contextText string, count int, err error)
}

type searchKnowledgeBaseTool struct {
	searcher Searcher
}

// NewSearchKnowledgeBaseTool exposes knowledge-base search to the model.
func NewSearchKnowledgeBaseTool(searcher Searcher) Tool {
	return &searchKnowledgeBaseTool{searcher: searcher}
}

func (t *searchKnowledgeBaseTool) Name() string { return "search_knowledge_base" }

func (t *searchKnowledgeBaseTool) Description() string {
	return "Search through emails, CRM contacts, and notes to find relevant information. Use this to answer questions about clients, past conversations, or any stored data."
}

func (t *searchKnowledgeBaseTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "The search query. Be specific about what you're looking for."
			},
			"doc_types": {
				"type": "array",
				"items": {"type": "string", "enum": ["email", "crm_contact", "crm_note"]},
				"description": "Optional filter by document type"
			},
			"limit": {
				"type": "integer",
				"description": "Maximum number of results (default 10)",
				"default": 10
			}
		},
		"required": ["query"]
	}`)
}

func (t *searchKnowledgeBaseTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var args struct {
		Query    string   `json:"query"`
		DocTypes []string `json:"doc_types"`
		Limit    int      `json:"limit"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if args.Limit <= 0 {
		args.Limit = 10
	}
	user, _ := UserFromContext(ctx)

	contextText, count, err := t.searcher.Search(ctx, user.ID, args.Query, args.DocTypes, args.Limit)
	if err != nil {
		return nil, err
	}
	return Ok(map[string]any{
		"context":        contextText,
		"document_count": count,
	}), nil
}

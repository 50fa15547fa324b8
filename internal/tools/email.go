package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EmailSummary is one email as reported back to the model.
type EmailSummary struct {
	Subject string `json:"subject"`
	From    string `json:"from"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
}

// SentEmail is the provider's receipt for a delivered message.
type SentEmail struct {
	MessageID string `json:"message_id"`
}

// Mailer is the external email collaborator. Credential handling lives
// behind it.
type Mailer interface {
	SearchEmails(ctx context.Context, userID, fromEmail, subjectContains string, after time.Time, maxResults int) ([]EmailSummary, error)
	SendEmail(ctx context.Context, userID string, to []string, subject, body, threadID string) (*SentEmail, error)
}

type searchEmailsTool struct {
	mailer Mailer
}

// NewSearchEmailsTool exposes email search to the model.
func NewSearchEmailsTool(mailer Mailer) Tool {
	return &searchEmailsTool{mailer: mailer}
}

func (t *searchEmailsTool) Name() string { return "search_emails" }

func (t *searchEmailsTool) Description() string {
	return "Search for specific emails by sender, subject, or date. Use this when you need to find particular email threads or check if someone has emailed."
}

func (t *searchEmailsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"from_email": {
				"type": "string",
				"description": "Search emails from this sender"
			},
			"subject_contains": {
				"type": "string",
				"description": "Search for emails with this text in subject"
			},
			"days_back": {
				"type": "integer",
				"description": "How many days back to search (default 30)",
				"default": 30
			}
		}
	}`)
}

func (t *searchEmailsTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var args struct {
		FromEmail       string `json:"from_email"`
		SubjectContains string `json:"subject_contains"`
		DaysBack        int    `json:"days_back"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if args.DaysBack <= 0 {
		args.DaysBack = 30
	}
	user, _ := UserFromContext(ctx)
	after := time.Now().AddDate(0, 0, -args.DaysBack)

	emails, err := t.mailer.SearchEmails(ctx, user.ID, args.FromEmail, args.SubjectContains, after, 20)
	if err != nil {
		return nil, err
	}
	return Ok(map[string]any{
		"emails": emails,
		"count":  len(emails),
	}), nil
}

type sendEmailTool struct {
	mailer Mailer
}

// NewSendEmailTool exposes email sending to the model. Consent-gated.
func NewSendEmailTool(mailer Mailer) Tool {
	return &sendEmailTool{mailer: mailer}
}

func (t *sendEmailTool) Name() string { return "send_email" }

func (t *sendEmailTool) Description() string {
	return "Send an email to one or more recipients. Use this to reach out to clients, send information, or reply to inquiries."
}

func (t *sendEmailTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"to": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Recipient email addresses"
			},
			"subject": {
				"type": "string",
				"description": "Email subject line"
			},
			"body": {
				"type": "string",
				"description": "Email body content"
			},
			"thread_id": {
				"type": "string",
				"description": "Optional: thread ID to reply in thread"
			}
		},
		"required": ["to", "subject", "body"]
	}`)
}

func (t *sendEmailTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var args struct {
		To       []string `json:"to"`
		Subject  string   `json:"subject"`
		Body     string   `json:"body"`
		ThreadID string   `json:"thread_id"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if len(args.To) == 0 {
		return Fail("at least one recipient is required"), nil
	}
	user, _ := UserFromContext(ctx)

	sent, err := t.mailer.SendEmail(ctx, user.ID, args.To, args.Subject, args.Body, args.ThreadID)
	if err != nil {
		return nil, err
	}
	return Ok(map[string]any{
		"message":    fmt.Sprintf("Email sent to %s", strings.Join(args.To, ", ")),
		"message_id": sent.MessageID,
	}), nil
}

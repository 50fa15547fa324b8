package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CRMContact is one contact as reported back to the model.
type CRMContact struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company,omitempty"`
}

// CRMNote is the receipt for a created note.
type CRMNote struct {
	NoteID string `json:"note_id"`
}

// CRM is the external customer-relationship collaborator.
type CRM interface {
	SearchContacts(ctx context.Context, userID, query string) ([]CRMContact, error)
	GetContactByEmail(ctx context.Context, userID, email string) (*CRMContact, error)
	CreateContact(ctx context.Context, userID, email, firstName, lastName, phone, company string) (*CRMContact, error)
	CreateNote(ctx context.Context, userID, contactID, body string) (*CRMNote, error)
}

type searchCRMContactsTool struct {
	crm CRM
}

// NewSearchCRMContactsTool exposes contact search to the model.
func NewSearchCRMContactsTool(crm CRM) Tool {
	return &searchCRMContactsTool{crm: crm}
}

func (t *searchCRMContactsTool) Name() string { return "search_crm_contacts" }

func (t *searchCRMContactsTool) Description() string {
	return "Search for contacts in the CRM by email or name. Use this to find client information."
}

func (t *searchCRMContactsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "Email address or name to search for"
			}
		},
		"required": ["query"]
	}`)
}

func (t *searchCRMContactsTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	user, _ := UserFromContext(ctx)

	var contacts []CRMContact
	if strings.Contains(args.Query, "@") {
		contact, err := t.crm.GetContactByEmail(ctx, user.ID, args.Query)
		if err != nil {
			return nil, err
		}
		if contact != nil {
			contacts = []CRMContact{*contact}
		}
	} else {
		var err error
		contacts, err = t.crm.SearchContacts(ctx, user.ID, args.Query)
		if err != nil {
			return nil, err
		}
	}
	return Ok(map[string]any{
		"contacts": contacts,
		"count":    len(contacts),
	}), nil
}

type createCRMContactTool struct {
	crm CRM
}

// NewCreateCRMContactTool exposes contact creation to the model.
// Consent-gated.
func NewCreateCRMContactTool(crm CRM) Tool {
	return &createCRMContactTool{crm: crm}
}

func (t *createCRMContactTool) Name() string { return "create_crm_contact" }

func (t *createCRMContactTool) Description() string {
	return "Create a new contact in the CRM. Use this when someone new reaches out and isn't already in the system."
}

func (t *createCRMContactTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"email": {
				"type": "string",
				"description": "Contact email address"
			},
			"first_name": {
				"type": "string",
				"description": "First name"
			},
			"last_name": {
				"type": "string",
				"description": "Last name"
			},
			"phone": {
				"type": "string",
				"description": "Phone number"
			},
			"company": {
				"type": "string",
				"description": "Company name"
			}
		},
		"required": ["email"]
	}`)
}

func (t *createCRMContactTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var args struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Phone     string `json:"phone"`
		Company   string `json:"company"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	user, _ := UserFromContext(ctx)

	contact, err := t.crm.CreateContact(ctx, user.ID, args.Email, args.FirstName, args.LastName, args.Phone, args.Company)
	if err != nil {
		return nil, err
	}
	return Ok(map[string]any{
		"message":    fmt.Sprintf("Contact created: %s", contact.Email),
		"contact_id": contact.ID,
	}), nil
}

type addCRMNoteTool struct {
	crm CRM
}

// NewAddCRMNoteTool exposes note creation to the model. Consent-gated.
func NewAddCRMNoteTool(crm CRM) Tool {
	return &addCRMNoteTool{crm: crm}
}

func (t *addCRMNoteTool) Name() string { return "add_crm_note" }

func (t *addCRMNoteTool) Description() string {
	return "Add a note to a CRM contact. Use this to document interactions, decisions, or important information about a client."
}

func (t *addCRMNoteTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"contact_id": {
				"type": "string",
				"description": "CRM contact ID"
			},
			"note_body": {
				"type": "string",
				"description": "Note content"
			}
		},
		"required": ["contact_id", "note_body"]
	}`)
}

func (t *addCRMNoteTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var args struct {
		ContactID string `json:"contact_id"`
		NoteBody  string `json:"note_body"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	user, _ := UserFromContext(ctx)

	note, err := t.crm.CreateNote(ctx, user.ID, args.ContactID, args.NoteBody)
	if err != nil {
		return nil, err
	}
	return Ok(map[string]any{
		"message": "Note added to contact",
		"note_id": note.NoteID,
	}), nil
}

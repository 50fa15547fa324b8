// Package integrations holds the external-service collaborators behind
// the tool surface. Deployments plug real Gmail/Calendar/CRM clients in
// here; the Unconfigured implementations stand in until credentials are
// set up, failing every call with a clear message the model can relay.
package integrations

import (
	"context"
	"fmt"
	"time"

	"github.com/advisorlabs/clerk/internal/tools"
)

func notConfigured(name string) error {
	return fmt.Errorf("%s integration is not configured", name)
}

// UnconfiguredMailer satisfies tools.Mailer without a mail backend.
type UnconfiguredMailer struct{}

func (UnconfiguredMailer) SearchEmails(ctx context.Context, userID, fromEmail, subjectContains string, after time.Time, maxResults int) ([]tools.EmailSummary, error) {
	return nil, notConfigured("email")
}

func (UnconfiguredMailer) SendEmail(ctx context.Context, userID string, to []string, subject, body, threadID string) (*tools.SentEmail, error) {
	return nil, notConfigured("email")
}

// UnconfiguredCalendar satisfies tools.Calendar without a calendar backend.
type UnconfiguredCalendar struct{}

func (UnconfiguredCalendar) FreeSlots(ctx context.Context, userID string, start, end time.Time, durationMinutes int) ([]tools.TimeSlot, error) {
	return nil, notConfigured("calendar")
}

func (UnconfiguredCalendar) CreateEvent(ctx context.Context, userID, summary string, start, end time.Time, attendees []string, description string) (*tools.CalendarEvent, error) {
	return nil, notConfigured("calendar")
}

func (UnconfiguredCalendar) SearchEvents(ctx context.Context, userID, query string, maxResults int) ([]tools.CalendarEvent, error) {
	return nil, notConfigured("calendar")
}

// UnconfiguredCRM satisfies tools.CRM without a CRM backend.
type UnconfiguredCRM struct{}

func (UnconfiguredCRM) SearchContacts(ctx context.Context, userID, query string) ([]tools.CRMContact, error) {
	return nil, notConfigured("crm")
}

func (UnconfiguredCRM) GetContactByEmail(ctx context.Context, userID, email string) (*tools.CRMContact, error) {
	return nil, notConfigured("crm")
}

func (UnconfiguredCRM) CreateContact(ctx context.Context, userID, email, firstName, lastName, phone, company string) (*tools.CRMContact, error) {
	return nil, notConfigured("crm")
}

func (UnconfiguredCRM) CreateNote(ctx context.Context, userID, contactID, body string) (*tools.CRMNote, error) {
	return nil, notConfigured("crm")
}

// UnconfiguredSearcher satisfies tools.Searcher without an index.
type UnconfiguredSearcher struct{}

func (UnconfiguredSearcher) Search(ctx context.Context, userID, query string, docTypes []string, limit int) (string, int, error) {
	return "", 0, notConfigured("knowledge base")
}

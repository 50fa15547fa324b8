package agent

import (
	"strings"
	"testing"

	"github.com/advisorlabs/clerk/pkg/models"
)

func seedInstruction(t *testing.T, f *engineFixture, trigger models.TriggerType, text string) {
	t.Helper()
	inst := &models.Instruction{
		UserID:      testUser.ID,
		Instruction: text,
		TriggerType: trigger,
		IsActive:    true,
	}
	if err := f.store.SaveInstruction(t.Context(), inst); err != nil {
		t.Fatalf("SaveInstruction() error = %v", err)
	}
}

func TestProactiveCheckNoInstructionsSkipsModel(t *testing.T) {
	provider := &scriptedProvider{}
	f := newEngineFixture(t, provider, Config{})

	acted, err := f.engine.ProactiveCheck(t.Context(), testUser, "email", map[string]any{"from": "client@example.com"})
	if err != nil {
		t.Fatalf("ProactiveCheck() error = %v", err)
	}
	if acted {
		t.Error("acted with no matching instructions")
	}
	if provider.callCount() != 0 {
		t.Errorf("model called %d times, want 0", provider.callCount())
	}
}

func TestProactiveCheckNonMatchingTriggerSkipsModel(t *testing.T) {
	provider := &scriptedProvider{}
	f := newEngineFixture(t, provider, Config{})
	seedInstruction(t, f, models.TriggerCalendar, "warn me about double bookings")

	acted, err := f.engine.ProactiveCheck(t.Context(), testUser, "email", nil)
	if err != nil {
		t.Fatalf("ProactiveCheck() error = %v", err)
	}
	if acted || provider.callCount() != 0 {
		t.Errorf("acted=%v calls=%d, want false and 0", acted, provider.callCount())
	}
}

func TestProactiveCheckNoAction(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{{Text: "DECISION: no_action"}, {Done: true}},
	}}
	f := newEngineFixture(t, provider, Config{})
	seedInstruction(t, f, models.TriggerEmail, "draft replies to client emails")

	acted, err := f.engine.ProactiveCheck(t.Context(), testUser, "email", map[string]any{"subject": "newsletter"})
	if err != nil {
		t.Fatalf("ProactiveCheck() error = %v", err)
	}
	if acted {
		t.Error("acted on a no_action decision")
	}

	// Nothing is persisted and no audit record is written for a pass.
	msgs, _ := f.store.RecentMessages(t.Context(), testUser.ID, 10)
	if len(msgs) != 0 {
		t.Errorf("persisted %d messages, want 0", len(msgs))
	}
	records, _ := f.store.ListAuditRecords(t.Context(), testUser.ID, 10)
	if len(records) != 0 {
		t.Errorf("got %d audit records, want 0", len(records))
	}
}

func TestProactiveCheckNoActionDiscardsToolCalls(t *testing.T) {
	tool := &recordingTool{name: "create_task"}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{
			{Text: "DECISION: no_action"},
			toolCallChunk("tc1", "create_task", `{"description":"follow up"}`),
			{Done: true},
		},
	}}
	f := newEngineFixture(t, provider, Config{}, tool)
	seedInstruction(t, f, models.TriggerEmail, "create tasks for client requests")

	acted, err := f.engine.ProactiveCheck(t.Context(), testUser, "email", nil)
	if err != nil {
		t.Fatalf("ProactiveCheck() error = %v", err)
	}
	if acted {
		t.Error("acted on a no_action decision")
	}
	if tool.callCount() != 0 {
		t.Errorf("tool ran %d times alongside a no_action decision", tool.callCount())
	}
}

func TestProactiveCheckLegacySentinel(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{{Text: "NO_ACTION"}, {Done: true}},
	}}
	f := newEngineFixture(t, provider, Config{})
	seedInstruction(t, f, models.TriggerEmail, "draft replies")

	acted, err := f.engine.ProactiveCheck(t.Context(), testUser, "email", nil)
	if err != nil {
		t.Fatalf("ProactiveCheck() error = %v", err)
	}
	if acted {
		t.Error("acted on legacy NO_ACTION sentinel")
	}
}

func TestProactiveCheckActsWithTools(t *testing.T) {
	tool := &recordingTool{name: "create_crm_note"}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{
			{Text: "DECISION: act\nLogging the interaction."},
			toolCallChunk("tc1", "create_crm_note", `{"note":"client called"}`),
			{Done: true},
		},
		{{Text: "Noted the call on the client record."}, {Done: true}},
	}}
	f := newEngineFixture(t, provider, Config{}, tool)
	seedInstruction(t, f, models.TriggerEmail, "log every client interaction in the CRM")

	acted, err := f.engine.ProactiveCheck(t.Context(), testUser, "email", map[string]any{"from": "client@example.com"})
	if err != nil {
		t.Fatalf("ProactiveCheck() error = %v", err)
	}
	if !acted {
		t.Fatal("expected act decision")
	}
	if tool.callCount() != 1 {
		t.Errorf("tool ran %d times, want 1", tool.callCount())
	}
	if provider.callCount() != 2 {
		t.Errorf("model called %d times, want 2", provider.callCount())
	}

	msgs, _ := f.store.RecentMessages(t.Context(), testUser.ID, 10)
	if len(msgs) != 1 {
		t.Fatalf("persisted %d messages, want the proactive summary", len(msgs))
	}
	if msgs[0].Role != models.RoleSystem || !strings.HasPrefix(msgs[0].Content, "[Proactive] ") {
		t.Errorf("summary message = %+v", msgs[0])
	}

	records, err := f.store.ListAuditRecords(t.Context(), testUser.ID, 10)
	if err != nil {
		t.Fatalf("ListAuditRecords() error = %v", err)
	}
	var proactiveRecord *models.AuditRecord
	for _, r := range records {
		if r.Action == "proactive:email" {
			proactiveRecord = r
		}
	}
	if proactiveRecord == nil {
		t.Fatalf("no proactive audit record among %+v", records)
	}
}

func TestProactiveCheckEnforcesConsent(t *testing.T) {
	mailer := &recordingTool{name: "send_email"}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{
			{Text: "DECISION: act"},
			toolCallChunk("tc1", "send_email", `{"to":["client@example.com"]}`),
			{Done: true},
		},
		{{Text: "Could not send without approval."}, {Done: true}},
	}}
	f := newEngineFixture(t, provider, Config{}, mailer)
	seedInstruction(t, f, models.TriggerEmail, "reply to clients automatically")

	acted, err := f.engine.ProactiveCheck(t.Context(), testUser, "email", nil)
	if err != nil {
		t.Fatalf("ProactiveCheck() error = %v", err)
	}
	if !acted {
		t.Fatal("expected act decision")
	}
	if mailer.callCount() != 0 {
		t.Errorf("handler ran %d times without consent", mailer.callCount())
	}

	records, _ := f.store.ListAuditRecords(t.Context(), testUser.ID, 20)
	var unauthorized bool
	for _, r := range records {
		if r.Status == models.AuditUnauthorized {
			unauthorized = true
		}
	}
	if !unauthorized {
		t.Error("missing unauthorized audit record for blocked proactive send")
	}
}

func TestProactiveCheckTouchesInstructions(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{
		{{Text: "DECISION: act\nAll handled."}, {Done: true}},
	}}
	f := newEngineFixture(t, provider, Config{})
	seedInstruction(t, f, models.TriggerAlways, "keep an eye on everything")

	if _, err := f.engine.ProactiveCheck(t.Context(), testUser, "calendar", nil); err != nil {
		t.Fatalf("ProactiveCheck() error = %v", err)
	}

	instructions, err := f.store.ListActiveInstructions(t.Context(), testUser.ID)
	if err != nil {
		t.Fatalf("ListActiveInstructions() error = %v", err)
	}
	if len(instructions) != 1 {
		t.Fatalf("got %d instructions, want 1", len(instructions))
	}
	if instructions[0].LastUsedAt == nil {
		t.Error("LastUsedAt not stamped after proactive action")
	}
}

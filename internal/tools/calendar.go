package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TimeSlot is a free window on the calendar.
type TimeSlot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// CalendarEvent is one event as reported back to the model.
type CalendarEvent struct {
	EventID     string   `json:"event_id,omitempty"`
	Summary     string   `json:"summary"`
	StartTime   string   `json:"start_time"`
	Attendees   []string `json:"attendees,omitempty"`
	MeetingLink string   `json:"meeting_link,omitempty"`
}

// Calendar is the external calendar collaborator.
type Calendar interface {
	FreeSlots(ctx context.Context, userID string, start, end time.Time, durationMinutes int) ([]TimeSlot, error)
	CreateEvent(ctx context.Context, userID, summary string, start, end time.Time, attendees []string, description string) (*CalendarEvent, error)
	SearchEvents(ctx context.Context, userID, query string, maxResults int) ([]CalendarEvent, error)
}

type checkAvailabilityTool struct {
	calendar Calendar
}

// NewCheckAvailabilityTool exposes free-slot lookup to the model.
func NewCheckAvailabilityTool(calendar Calendar) Tool {
	return &checkAvailabilityTool{calendar: calendar}
}

func (t *checkAvailabilityTool) Name() string { return "check_availability" }

func (t *checkAvailabilityTool) Description() string {
	return "Check calendar availability and find free time slots. Use this before scheduling meetings."
}

func (t *checkAvailabilityTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"start_date": {
				"type": "string",
				"description": "Start date in ISO format (YYYY-MM-DD)"
			},
			"days_ahead": {
				"type": "integer",
				"description": "Number of days to check (default 7)",
				"default": 7
			},
			"duration_minutes": {
				"type": "integer",
				"description": "Meeting duration in minutes (default 60)",
				"default": 60
			}
		},
		"required": ["start_date"]
	}`)
}

func (t *checkAvailabilityTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var args struct {
		StartDate       string `json:"start_date"`
		DaysAhead       int    `json:"days_ahead"`
		DurationMinutes int    `json:"duration_minutes"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if args.DaysAhead <= 0 {
		args.DaysAhead = 7
	}
	if args.DurationMinutes <= 0 {
		args.DurationMinutes = 60
	}
	start, err := time.Parse("2006-01-02", args.StartDate)
	if err != nil {
		return Fail("start_date must be an ISO date (YYYY-MM-DD)"), nil
	}
	user, _ := UserFromContext(ctx)

	slots, err := t.calendar.FreeSlots(ctx, user.ID, start, start.AddDate(0, 0, args.DaysAhead), args.DurationMinutes)
	if err != nil {
		return nil, err
	}
	shown := slots
	if len(shown) > 10 {
		shown = shown[:10]
	}
	return Ok(map[string]any{
		"free_slots":  shown,
		"total_slots": len(slots),
	}), nil
}

type createCalendarEventTool struct {
	calendar Calendar
}

// NewCreateCalendarEventTool exposes event creation to the model.
// Consent-gated.
func NewCreateCalendarEventTool(calendar Calendar) Tool {
	return &createCalendarEventTool{calendar: calendar}
}

func (t *createCalendarEventTool) Name() string { return "create_calendar_event" }

func (t *createCalendarEventTool) Description() string {
	return "Create a new calendar event. Use this after confirming a meeting time with someone."
}

func (t *createCalendarEventTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"summary": {
				"type": "string",
				"description": "Event title/summary"
			},
			"start_time": {
				"type": "string",
				"description": "Start time in ISO format"
			},
			"end_time": {
				"type": "string",
				"description": "End time in ISO format"
			},
			"attendees": {
				"type": "array",
				"items": {"type": "string"},
				"description": "List of attendee emails"
			},
			"description": {
				"type": "string",
				"description": "Event description"
			}
		},
		"required": ["summary", "start_time", "end_time"]
	}`)
}

func (t *createCalendarEventTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var args struct {
		Summary     string   `json:"summary"`
		StartTime   string   `json:"start_time"`
		EndTime     string   `json:"end_time"`
		Attendees   []string `json:"attendees"`
		Description string   `json:"description"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	start, err := time.Parse(time.RFC3339, args.StartTime)
	if err != nil {
		return Fail("start_time must be an ISO timestamp"), nil
	}
	end, err := time.Parse(time.RFC3339, args.EndTime)
	if err != nil {
		return Fail("end_time must be an ISO timestamp"), nil
	}
	if !end.After(start) {
		return Fail("end_time must be after start_time"), nil
	}
	user, _ := UserFromContext(ctx)

	event, err := t.calendar.CreateEvent(ctx, user.ID, args.Summary, start, end, args.Attendees, args.Description)
	if err != nil {
		return nil, err
	}
	return Ok(map[string]any{
		"message":      fmt.Sprintf("Event '%s' created", args.Summary),
		"event_id":     event.EventID,
		"meeting_link": event.MeetingLink,
	}), nil
}

type searchCalendarEventsTool struct {
	calendar Calendar
}

// NewSearchCalendarEventsTool exposes event search to the model.
func NewSearchCalendarEventsTool(calendar Calendar) Tool {
	return &searchCalendarEventsTool{calendar: calendar}
}

func (t *searchCalendarEventsTool) Name() string { return "search_calendar_events" }

func (t *searchCalendarEventsTool) Description() string {
	return "Search for calendar events by keyword or attendee. Use this to find when meetings are scheduled."
}

func (t *searchCalendarEventsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "Search query (event title, attendee name, etc.)"
			},
			"days_ahead": {
				"type": "integer",
				"description": "How many days ahead to search (default 30)",
				"default": 30
			}
		},
		"required": ["query"]
	}`)
}

func (t *searchCalendarEventsTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var args struct {
		Query     string `json:"query"`
		DaysAhead int    `json:"days_ahead"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	user, _ := UserFromContext(ctx)

	events, err := t.calendar.SearchEvents(ctx, user.ID, args.Query, 10)
	if err != nil {
		return nil, err
	}
	return Ok(map[string]any{
		"events": events,
		"count":  len(events),
	}), nil
}

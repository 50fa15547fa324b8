package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/advisorlabs/clerk/pkg/models"
)

const baseSystemPrompt = `You are an AI assistant for a financial advisor. Your job is to help manage their client relationships, schedule meetings, and keep track of important information.

# Your Capabilities

You have access to:
- **Knowledge Base**: Search through emails, CRM contacts, and notes to find information
- **Email**: Search, read, and send emails
- **Calendar**: Check availability, schedule meetings, and find events
- **CRM**: Search contacts, create new contacts, and add notes
- **Tasks**: Create and track multi-step operations
- **Instructions**: Remember ongoing rules and preferences

# How to Operate

## 1. Always Search First
Before answering questions about clients or past interactions, use search_knowledge_base to find relevant information. Don't make assumptions.

## 2. Be Proactive with Tasks
For operations that require waiting (like scheduling a meeting with someone):
1. Create a task to track the operation
2. Send the initial email/action
3. Tell the user you'll follow up when they respond

## 3. Multi-Step Operations
For complex requests like "Schedule an appointment with a client":
1. Search knowledge base for the client's contact info
2. Check your calendar availability
3. Email the client with available times
4. Create a task to track the scheduling

## 4. Ongoing Instructions
When the user gives standing rules like "always do X when Y happens", use save_instruction to remember them. They'll be provided to you in future interactions.

## 5. Error Handling
If a tool fails, tell the user what went wrong and try another approach.

# Communication Style

- Be concise and professional
- Summarize what you did after completing tasks
- Always cite sources when reporting stored information
- If you're unsure, ask for clarification

Now help the user with their request.`

const proactiveSystemPrompt = `You are proactively monitoring events for a financial advisor.

An event just occurred. Review the event details and the user's standing instructions to decide whether to take action.

Start your reply with exactly one line:
DECISION: act
or
DECISION: no_action

If you act:
1. Use the appropriate tools
2. Be autonomous - don't ask for permission, just do it
3. Finish with a short summary of what you did

If no action is needed, reply with DECISION: no_action and nothing else.`

// buildSystemPrompt assembles the chat system prompt: the base role plus
// the user's standing instructions and open tasks.
func buildSystemPrompt(userName string, instructions []*models.Instruction, tasks []*models.Task) string {
	var b strings.Builder
	b.WriteString(baseSystemPrompt)

	if userName != "" {
		b.WriteString("\n\nThe user's name is ")
		b.WriteString(userName)
		b.WriteString(".")
	}

	if len(instructions) > 0 {
		b.WriteString("\n\n# Your Ongoing Instructions\n\nThe user has given you these standing instructions:\n")
		for _, inst := range instructions {
			fmt.Fprintf(&b, "- [%s] %s\n", strings.ToUpper(string(inst.TriggerType)), inst.Instruction)
		}
	}

	if len(tasks) > 0 {
		b.WriteString("\n# Active Tasks\n\nYou have these tasks in progress:\n")
		for _, task := range tasks {
			fmt.Fprintf(&b, "- Task #%s (%s): %s\n", task.ID, task.Status, task.Description)
			if len(task.Memory) > 0 {
				if raw, err := json.Marshal(task.Memory); err == nil {
					fmt.Fprintf(&b, "  Context: %s\n", raw)
				}
			}
		}
	}

	return b.String()
}

// buildProactivePrompt assembles the system prompt for a proactive
// evaluation: the decision protocol plus matching instructions.
func buildProactivePrompt(instructions []*models.Instruction) string {
	var b strings.Builder
	b.WriteString(proactiveSystemPrompt)
	b.WriteString("\n\nThe user's standing instructions:\n")
	for _, inst := range instructions {
		fmt.Fprintf(&b, "- [%s] %s\n", strings.ToUpper(string(inst.TriggerType)), inst.Instruction)
	}
	return b.String()
}

// buildEventMessage renders the external event for the model.
func buildEventMessage(eventType string, eventData map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "An external %s event occurred.\n\nEvent details:\n", eventType)
	if raw, err := json.MarshalIndent(eventData, "", "  "); err == nil {
		b.Write(raw)
	}
	b.WriteString("\n\nBased on the standing instructions, should you take any action?")
	return b.String()
}

// noActionSentinel is the legacy refusal marker some models still emit in
// place of the structured decision line.
const noActionSentinel = "NO_ACTION"

// parseDecision extracts the act/no_action decision from the model's first
// reply. It prefers the structured DECISION line and falls back to the
// legacy sentinel scan.
func parseDecision(text string) (act bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "DECISION:"); ok {
			switch strings.TrimSpace(strings.ToLower(rest)) {
			case "act":
				return true
			case "no_action":
				return false
			}
		}
	}
	return !strings.Contains(text, noActionSentinel)
}

package audit

import "strings"

// resourceKeywords maps tool-name substrings to the resource class recorded
// on the trail entry. First match wins.
var resourceKeywords = []struct {
	keyword  string
	resource string
}{
	{"email", "email"},
	{"calendar", "calendar"},
	{"availability", "calendar"},
	{"crm", "crm"},
	{"contact", "crm"},
	{"note", "crm"},
	{"knowledge", "rag"},
	{"task", "task"},
	{"instruction", "instruction"},
}

// ResourceTypeFor infers the resource class a tool touches from its name.
// Unknown tools map to "other".
func ResourceTypeFor(toolName string) string {
	lower := strings.ToLower(toolName)
	for _, rk := range resourceKeywords {
		if strings.Contains(lower, rk.keyword) {
			return rk.resource
		}
	}
	return "other"
}

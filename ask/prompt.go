package ask

import "strings"

// Words in the user message that ask the model to emit structured findings.
// Enforced by instruction only; the model may still answer in plain prose.
var triggerWords = []string{"validate", "analyze", "review", "check"}

const genericFraming = "Address a general project stakeholder. Keep explanations accessible and avoid unexplained jargon."

var roleFramings = map[string]string{
	"manager":  "Address a project manager. Emphasize schedule, scope and budget implications of every finding.",
	"auditor":  "Address a compliance auditor. Cite the exact passage each finding refers to and state the rule it violates or satisfies.",
	"engineer": "Address a software engineer. Be precise about technical detail and skip business framing.",
}

func roleFraming(role string) string {
	if f, ok := roleFramings[strings.ToLower(strings.TrimSpace(role))]; ok {
		return f
	}
	return genericFraming
}

func wantsFindings(message string) bool {
	m := strings.ToLower(message)
	for _, w := range triggerWords {
		if strings.Contains(m, w) {
			return true
		}
	}
	return false
}

// BuildPrompt wraps the raw user message in the validator instruction
// template, conditioned on role and language.
func BuildPrompt(message, role, language string) string {
	var b strings.Builder
	b.WriteString("You are a document validation assistant. Examine the user's request and any attached documents for completeness, consistency and compliance issues.\n\n")
	b.WriteString(roleFraming(role))
	b.WriteString("\n\n")
	if wantsFindings(message) {
		b.WriteString("At the end of your reply, append a JSON array of findings. Each finding must be an object {\"status\": \"success\"|\"error\"|\"warning\", \"text\": \"<finding>\"}.\n\n")
	}
	if language == "CS" {
		b.WriteString("Respond in Czech.\n\n")
	}
	b.WriteString("User message:\n")
	b.WriteString(message)
	return b.String()
}

package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ChatClient is the single upstream call this endpoint makes.
type ChatClient interface {
	CompleteChat(ctx context.Context, system, user string) (string, error)
}

type TranscriptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ValidationResult struct {
	Status string `json:"status"`
	Text   string `json:"text"`
}

type Request struct {
	Messages        []TranscriptMessage `json:"messages"`
	AnalysisResults []ValidationResult  `json:"analysisResults"`
	Role            string              `json:"role"`
	Language        string              `json:"language"`
}

const (
	defaultTimeout = 60 * time.Second
	minSummaryLen  = 20
	contextEntries = 10

	noResponseText = "No assistant response available."
	failureSummary = "The summary could not be generated at this time. Please try again later."

	systemFraming = "You are a professional technical writer who turns document-validation conversations into formal executive reports suitable for print."
)

var (
	codeFencePattern = regexp.MustCompile("(?s)```.*?```")
	citationPattern  = regexp.MustCompile(`【[^】]*】`)
	trailingSpace    = regexp.MustCompile(`[ \t]+\n`)
)

// sanitizeText strips fenced code blocks and upstream citation markers and
// normalizes whitespace so the transcript reads as plain prose.
func sanitizeText(s string) string {
	s = codeFencePattern.ReplaceAllString(s, "")
	s = citationPattern.ReplaceAllString(s, "")
	s = trailingSpace.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

type Handler struct {
	AI      ChatClient
	Timeout time.Duration
}

func NewHandler(ai ChatClient) *Handler {
	return &Handler{AI: ai, Timeout: defaultTimeout}
}

// Export renders the conversation and prior findings into a polished report
// via one chat-completion call, falling back to a plain-text digest when the
// model returns nothing usable.
func (h *Handler) Export(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		// tolerate malformed bodies; the fallback path still produces a summary
		req = Request{}
	}

	primary := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if strings.EqualFold(req.Messages[i].Role, "assistant") {
			primary = sanitizeText(req.Messages[i].Content)
			break
		}
	}

	prompt := buildPrompt(req, primary)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()
	summary, err := h.AI.CompleteChat(ctx, systemFraming, prompt)
	if err != nil {
		log.Printf("[export] completion failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"summary": failureSummary})
		return
	}
	if len(strings.TrimSpace(summary)) < minSummaryLen {
		log.Printf("[export] completion too short (%d chars), using fallback", len(summary))
		summary = fallbackSummary(primary, req.AnalysisResults)
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func buildPrompt(req Request, primary string) string {
	lang := "English"
	if req.Language == "CS" {
		lang = "Czech"
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = "stakeholder"
	}
	if primary == "" {
		primary = noResponseText
	}

	resultsJSON := []byte("[]")
	if len(req.AnalysisResults) > 0 {
		if enc, err := json.Marshal(req.AnalysisResults); err == nil {
			resultsJSON = enc
		}
	}

	start := len(req.Messages) - contextEntries
	if start < 0 {
		start = 0
	}
	var ctxLines []string
	for _, m := range req.Messages[start:] {
		ctxLines = append(ctxLines, strings.ToUpper(m.Role)+": "+sanitizeText(m.Content))
	}

	return fmt.Sprintf(`Prepare a formal executive report for a %s, written in %s.

Formatting rules:
- Plain text only. Never use markdown, asterisks, hashes, backticks, underscores or any other markup characters.
- Use exactly these sections, each heading on its own line: Executive Summary, Project Overview, Compliance Assessment, Key Strengths, Recommendations.
- Write in complete, formal sentences suitable for print.

Primary assistant assessment:
%s

Validation findings (JSON):
%s

Recent conversation:
%s`, role, lang, primary, resultsJSON, strings.Join(ctxLines, "\n"))
}

// fallbackSummary builds a minimal plain-text report from the raw inputs when
// the upstream model returns an empty or truncated answer.
func fallbackSummary(primary string, results []ValidationResult) string {
	var b strings.Builder
	b.WriteString("Summary:\n")
	if primary == "" {
		primary = noResponseText
	}
	b.WriteString(primary)
	if len(results) > 0 {
		b.WriteString("\n")
		for _, r := range results {
			b.WriteString("\n- [" + strings.ToUpper(r.Status) + "] " + r.Text)
		}
	}
	return b.String()
}

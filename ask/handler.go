package ask

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"docval-backend/files"
)

// AIClient is the subset of the OpenAI wrapper the ask pipeline needs,
// kept narrow so tests can substitute a mock.
type AIClient interface {
	GetAssistantID() string
	CreateThread(ctx context.Context) (string, error)
	UploadAssistantFile(ctx context.Context, filePath string) (string, error)
	CreateUserMessage(ctx context.Context, threadID, prompt string, fileIDs []string) error
	StartRun(ctx context.Context, threadID string) (string, error)
	RetrieveRunStatus(ctx context.Context, threadID, runID string) (string, error)
	LatestAssistantMessage(ctx context.Context, threadID string) (string, error)
}

const (
	defaultMaxFileBytes = 20 << 20 // per-file cap, files over it are skipped
	defaultPollAttempts = 60
	defaultPollInterval = time.Second

	runStatusCompleted = "completed"
	runStatusFailed    = "failed"

	replyNoAnswer     = "The assistant did not return a response."
	replyTimeout      = "The assistant timed out before completing the request. Please try again."
	replyFileTooLarge = "One of the attached files was rejected by the assistant service as too large."
	replyServerError  = "The request could not be processed. Please try again later."
)

// ErrRunTimeout marks the poll ceiling being reached while the run was still
// in a non-terminal state. Distinct from the run itself failing.
var ErrRunTimeout = errors.New("assistant run timed out")

var spreadsheetExts = map[string]bool{".xlsx": true, ".xlsm": true, ".xls": true}

type ValidationResult struct {
	Status string `json:"status"`
	Text   string `json:"text"`
}

type Handler struct {
	AI           AIClient
	UploadDir    string
	MaxFileBytes int64
	PollAttempts int
	PollInterval time.Duration
}

func NewHandler(ai AIClient, uploadDir string) *Handler {
	return &Handler{
		AI:           ai,
		UploadDir:    uploadDir,
		MaxFileBytes: defaultMaxFileBytes,
		PollAttempts: defaultPollAttempts,
		PollInterval: defaultPollInterval,
	}
}

// Ask relays one user message (plus optional attachments) to the configured
// assistant and waits for the run to finish.
func (h *Handler) Ask(c *gin.Context) {
	if h.AI.GetAssistantID() == "" {
		log.Printf("[ask] assistant id not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"reply": replyServerError, "results": []ValidationResult{}})
		return
	}

	message := c.PostForm("message")
	role := c.PostForm("role")
	language := c.PostForm("language")
	threadID := c.PostForm("threadId")
	ctx := c.Request.Context()

	fileIDs, err := h.collectAttachments(c)
	if err != nil {
		h.fail(c, threadID, err)
		return
	}

	if threadID == "" {
		threadID, err = h.AI.CreateThread(ctx)
		if err != nil {
			h.fail(c, "", err)
			return
		}
	}

	prompt := BuildPrompt(message, role, language)
	if err := h.AI.CreateUserMessage(ctx, threadID, prompt, fileIDs); err != nil {
		h.fail(c, threadID, err)
		return
	}

	runID, err := h.AI.StartRun(ctx, threadID)
	if err != nil {
		h.fail(c, threadID, err)
		return
	}

	status, err := h.waitForRun(ctx, threadID, runID)
	if err != nil {
		if errors.Is(err, ErrRunTimeout) {
			log.Printf("[ask] run %s on thread %s timed out", runID, threadID)
			c.JSON(http.StatusGatewayTimeout, gin.H{"reply": replyTimeout, "results": []ValidationResult{}, "threadId": threadID})
			return
		}
		h.fail(c, threadID, err)
		return
	}
	if status == runStatusFailed {
		h.fail(c, threadID, errors.New("assistant run failed"))
		return
	}

	reply, err := h.AI.LatestAssistantMessage(ctx, threadID)
	if err != nil {
		h.fail(c, threadID, err)
		return
	}
	if strings.TrimSpace(reply) == "" {
		reply = replyNoAnswer
	}

	clean, results := ExtractValidationResults(reply)
	c.JSON(http.StatusOK, gin.H{"reply": clean, "results": results, "threadId": threadID})
}

// collectAttachments stages each uploaded file, converts spreadsheets to
// their paginated PDF rendering and forwards the result upstream. Oversized,
// empty and unconvertible files are skipped; upload errors abort the request.
// Staged files are removed whether or not the upload succeeded.
func (h *Handler) collectAttachments(c *gin.Context) ([]string, error) {
	form, err := c.MultipartForm()
	if err != nil || form == nil {
		return nil, nil
	}
	var ids []string
	for _, fh := range form.File["files"] {
		if fh.Size > h.MaxFileBytes || fh.Size == 0 {
			log.Printf("[ask] skipping %s: size %d out of bounds", fh.Filename, fh.Size)
			continue
		}
		ext := strings.ToLower(filepath.Ext(fh.Filename))
		staged := filepath.Join(h.UploadDir, uuid.NewString()+ext)
		if err := c.SaveUploadedFile(fh, staged); err != nil {
			log.Printf("[ask] staging %s failed: %v", fh.Filename, err)
			continue
		}
		path := staged
		if spreadsheetExts[ext] {
			converted, err := files.ConvertToPDF(staged)
			h.removeTemp(staged)
			if err != nil {
				log.Printf("[ask] spreadsheet conversion of %s failed: %v", fh.Filename, err)
				continue
			}
			path = converted
		}
		id, err := h.AI.UploadAssistantFile(c.Request.Context(), path)
		h.removeTemp(path)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (h *Handler) removeTemp(path string) {
	if err := os.Remove(path); err != nil {
		log.Printf("[ask] could not remove temp file %s: %v", path, err)
	}
}

// waitForRun polls the run status once per interval until the run reaches a
// terminal state, the attempt ceiling is hit or the caller goes away.
func (h *Handler) waitForRun(ctx context.Context, threadID, runID string) (string, error) {
	for attempt := 0; attempt < h.PollAttempts; attempt++ {
		status, err := h.AI.RetrieveRunStatus(ctx, threadID, runID)
		if err != nil {
			return "", err
		}
		if status == runStatusCompleted || status == runStatusFailed {
			return status, nil
		}
		if attempt == h.PollAttempts-1 {
			break // ceiling reached, nothing left to wait for
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(h.PollInterval):
		}
	}
	return "", ErrRunTimeout
}

func (h *Handler) fail(c *gin.Context, threadID string, err error) {
	log.Printf("[ask] request failed: %v", err)
	payload := gin.H{"results": []ValidationResult{}}
	if threadID != "" {
		payload["threadId"] = threadID
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusRequestEntityTooLarge {
		payload["reply"] = replyFileTooLarge
		c.JSON(http.StatusRequestEntityTooLarge, payload)
		return
	}
	payload["reply"] = replyServerError
	c.JSON(http.StatusInternalServerError, payload)
}

package ask

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"
	"github.com/xuri/excelize/v2"
)

type mockAI struct {
	assistantID  string
	statuses     []string
	statusCalls  int
	reply        string
	uploadErr    error
	uploaded     []string
	threadsMade  int
	lastThreadID string
	lastPrompt   string
	lastFileIDs  []string
}

func (m *mockAI) GetAssistantID() string { return m.assistantID }

func (m *mockAI) CreateThread(ctx context.Context) (string, error) {
	m.threadsMade++
	return "thread_mock", nil
}

func (m *mockAI) UploadAssistantFile(ctx context.Context, filePath string) (string, error) {
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	m.uploaded = append(m.uploaded, filePath)
	return fmt.Sprintf("file_%d", len(m.uploaded)), nil
}

func (m *mockAI) CreateUserMessage(ctx context.Context, threadID, prompt string, fileIDs []string) error {
	m.lastThreadID = threadID
	m.lastPrompt = prompt
	m.lastFileIDs = fileIDs
	return nil
}

func (m *mockAI) StartRun(ctx context.Context, threadID string) (string, error) {
	return "run_mock", nil
}

func (m *mockAI) RetrieveRunStatus(ctx context.Context, threadID, runID string) (string, error) {
	i := m.statusCalls
	if i >= len(m.statuses) {
		i = len(m.statuses) - 1
	}
	m.statusCalls++
	return m.statuses[i], nil
}

func (m *mockAI) LatestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	return m.reply, nil
}

type askResponse struct {
	Reply    string             `json:"reply"`
	Results  []ValidationResult `json:"results"`
	ThreadID string             `json:"threadId"`
}

func newTestHandler(ai *mockAI, dir string) *Handler {
	h := NewHandler(ai, dir)
	h.PollInterval = time.Millisecond
	return h
}

func performAsk(t *testing.T, h *Handler, fields map[string]string, files map[string][]byte) (*httptest.ResponseRecorder, askResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	for name, data := range files {
		fw, err := w.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	_ = w.Close()
	req := httptest.NewRequest("POST", "/api/ask", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rr := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rr)
	c.Request = req
	h.Ask(c)
	var resp askResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rr.Body.String())
	}
	return rr, resp
}

func TestAskReturnsReplyAndResults(t *testing.T) {
	ai := &mockAI{
		assistantID: "asst_test",
		statuses:    []string{"queued", "in_progress", "completed"},
		reply:       "All good.\n[{\"status\":\"success\",\"text\":\"document is complete\"}]",
	}
	h := newTestHandler(ai, t.TempDir())
	rr, resp := performAsk(t, h, map[string]string{"message": "please validate this document"}, nil)
	if rr.Code != 200 {
		t.Fatalf("status = %d", rr.Code)
	}
	if resp.Reply != "All good." {
		t.Errorf("reply = %q, structured payload should be stripped", resp.Reply)
	}
	if len(resp.Results) != 1 || resp.Results[0].Status != "success" {
		t.Errorf("results = %+v", resp.Results)
	}
	if resp.ThreadID != "thread_mock" {
		t.Errorf("threadId = %q", resp.ThreadID)
	}
	if !strings.Contains(ai.lastPrompt, "JSON array of findings") {
		t.Error("prompt missing findings instruction for a validate message")
	}
}

func TestAskRunTimeout(t *testing.T) {
	ai := &mockAI{assistantID: "asst_test", statuses: []string{"in_progress"}}
	h := newTestHandler(ai, t.TempDir())
	rr, resp := performAsk(t, h, map[string]string{"message": "validate"}, nil)
	if rr.Code != 504 {
		t.Fatalf("status = %d, want 504", rr.Code)
	}
	if !strings.Contains(resp.Reply, "timed out") {
		t.Errorf("reply = %q, want timeout indication", resp.Reply)
	}
	if len(resp.Results) != 0 {
		t.Errorf("results = %+v, want empty", resp.Results)
	}
	if ai.statusCalls != 60 {
		t.Errorf("polled %d times, want 60", ai.statusCalls)
	}
}

func TestWaitForRunStopsAtCeiling(t *testing.T) {
	// with the ceiling at one attempt the loop must give up right after that
	// poll; the hour-long interval would hang the test if it slept once more
	ai := &mockAI{assistantID: "asst_test", statuses: []string{"in_progress"}}
	h := newTestHandler(ai, t.TempDir())
	h.PollAttempts = 1
	h.PollInterval = time.Hour
	start := time.Now()
	_, err := h.waitForRun(context.Background(), "thread_x", "run_x")
	if !errors.Is(err, ErrRunTimeout) {
		t.Fatalf("err = %v, want ErrRunTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Error("final attempt slept before reporting the timeout")
	}
	if ai.statusCalls != 1 {
		t.Errorf("polled %d times, want 1", ai.statusCalls)
	}
}

func TestAskRunFailed(t *testing.T) {
	ai := &mockAI{assistantID: "asst_test", statuses: []string{"failed"}}
	h := newTestHandler(ai, t.TempDir())
	rr, resp := performAsk(t, h, map[string]string{"message": "validate"}, nil)
	if rr.Code != 500 {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if resp.Reply != replyServerError {
		t.Errorf("reply = %q", resp.Reply)
	}
}

func TestAskReusesCallerThread(t *testing.T) {
	ai := &mockAI{assistantID: "asst_test", statuses: []string{"completed"}, reply: "ok then"}
	h := newTestHandler(ai, t.TempDir())
	_, resp := performAsk(t, h, map[string]string{"message": "hi", "threadId": "thread_existing"}, nil)
	if ai.threadsMade != 0 {
		t.Errorf("created %d threads for a caller-supplied id", ai.threadsMade)
	}
	if ai.lastThreadID != "thread_existing" || resp.ThreadID != "thread_existing" {
		t.Errorf("thread id not reused: posted to %q, returned %q", ai.lastThreadID, resp.ThreadID)
	}
}

func TestAskMissingAssistantConfig(t *testing.T) {
	ai := &mockAI{assistantID: ""}
	h := newTestHandler(ai, t.TempDir())
	rr, _ := performAsk(t, h, map[string]string{"message": "hi"}, nil)
	if rr.Code != 500 {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if ai.threadsMade != 0 || ai.statusCalls != 0 {
		t.Error("handler reached the upstream despite missing assistant id")
	}
}

func TestAskFileSizeThreshold(t *testing.T) {
	ai := &mockAI{assistantID: "asst_test", statuses: []string{"completed"}, reply: "done"}
	dir := t.TempDir()
	h := newTestHandler(ai, dir)
	h.MaxFileBytes = 16
	_, _ = performAsk(t, h, map[string]string{"message": "check"}, map[string][]byte{
		"at-limit.txt":   bytes.Repeat([]byte("a"), 16),
		"over-limit.txt": bytes.Repeat([]byte("b"), 17),
	})
	if len(ai.uploaded) != 1 {
		t.Fatalf("uploaded %d files, want only the at-limit one", len(ai.uploaded))
	}
	if len(ai.lastFileIDs) != 1 {
		t.Errorf("message carried %d attachments, want 1", len(ai.lastFileIDs))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("%d staged files left behind", len(entries))
	}
}

func TestAskUpstreamFileTooLarge(t *testing.T) {
	ai := &mockAI{
		assistantID: "asst_test",
		statuses:    []string{"completed"},
		uploadErr:   &openai.APIError{HTTPStatusCode: 413, Message: "file too large"},
	}
	h := newTestHandler(ai, t.TempDir())
	rr, resp := performAsk(t, h, map[string]string{"message": "check"}, map[string][]byte{
		"doc.txt": []byte("payload"),
	})
	if rr.Code != 413 {
		t.Fatalf("status = %d, want 413", rr.Code)
	}
	if resp.Reply != replyFileTooLarge {
		t.Errorf("reply = %q", resp.Reply)
	}
}

func TestAskSpreadsheetConverted(t *testing.T) {
	wb := excelize.NewFile()
	_ = wb.SetSheetRow("Sheet1", "A1", &[]any{"Item", "Qty"})
	_ = wb.SetSheetRow("Sheet1", "A2", &[]any{"Cables", 4})
	buf, err := wb.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	_ = wb.Close()

	ai := &mockAI{assistantID: "asst_test", statuses: []string{"completed"}, reply: "reviewed"}
	dir := t.TempDir()
	h := newTestHandler(ai, dir)
	_, _ = performAsk(t, h, map[string]string{"message": "review"}, map[string][]byte{
		"inventory.xlsx": buf.Bytes(),
	})
	if len(ai.uploaded) != 1 {
		t.Fatalf("uploaded %d files, want 1", len(ai.uploaded))
	}
	if !strings.HasSuffix(ai.uploaded[0], ".pdf") {
		t.Errorf("spreadsheet forwarded unconverted: %s", ai.uploaded[0])
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("%d staged files left behind", len(entries))
	}
}

func TestAskEmptyAssistantReply(t *testing.T) {
	ai := &mockAI{assistantID: "asst_test", statuses: []string{"completed"}, reply: ""}
	h := newTestHandler(ai, t.TempDir())
	rr, resp := performAsk(t, h, map[string]string{"message": "hello"}, nil)
	if rr.Code != 200 {
		t.Fatalf("status = %d", rr.Code)
	}
	if resp.Reply != replyNoAnswer {
		t.Errorf("reply = %q, want placeholder", resp.Reply)
	}
}

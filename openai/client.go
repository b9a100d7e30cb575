package openai

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Client wraps the upstream OpenAI SDK with the handful of calls the two
// pipelines need: assistant threads/runs for /api/ask and a single chat
// completion for /api/export.
type Client struct {
	api         *openai.Client
	AssistantID string
	ExportModel string
}

func NewClient() *Client {
	key := sanitizeEnv(os.Getenv("OPENAI_API_KEY"))
	assistant := sanitizeEnv(os.Getenv("VALIDATOR_ASSISTANT_ID"))
	model := sanitizeEnv(os.Getenv("EXPORT_MODEL"))
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Client{api: openai.NewClient(key), AssistantID: assistant, ExportModel: model}
}

// sanitizeEnv tolerates values pasted into .env with surrounding quotes.
func sanitizeEnv(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func (c *Client) GetAssistantID() string { return c.AssistantID }

func (c *Client) CreateThread(ctx context.Context) (string, error) {
	th, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", err
	}
	return th.ID, nil
}

// UploadAssistantFile submits a staged file to the upstream file store with
// purpose "assistants". The SDK streams from the path, the file is never
// buffered here.
func (c *Client) UploadAssistantFile(ctx context.Context, filePath string) (string, error) {
	f, err := c.api.CreateFile(ctx, openai.FileRequest{
		FileName: filepath.Base(filePath),
		FilePath: filePath,
		Purpose:  "assistants",
	})
	if err != nil {
		return "", err
	}
	return f.ID, nil
}

func (c *Client) CreateUserMessage(ctx context.Context, threadID, prompt string, fileIDs []string) error {
	req := openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	}
	for _, id := range fileIDs {
		req.Attachments = append(req.Attachments, openai.ThreadAttachment{
			FileID: id,
			Tools:  []openai.ThreadAttachmentTool{{Type: "file_search"}},
		})
	}
	_, err := c.api.CreateMessage(ctx, threadID, req)
	return err
}

func (c *Client) StartRun(ctx context.Context, threadID string) (string, error) {
	run, err := c.api.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: c.AssistantID})
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

func (c *Client) RetrieveRunStatus(ctx context.Context, threadID, runID string) (string, error) {
	run, err := c.api.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return "", err
	}
	return string(run.Status), nil
}

// LatestAssistantMessage returns the text of the newest assistant-authored
// message on the thread, or "" when the thread has none.
func (c *Client) LatestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	limit := 20
	order := "desc"
	list, err := c.api.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", err
	}
	for _, m := range list.Messages {
		if m.Role != openai.ChatMessageRoleAssistant {
			continue
		}
		for _, part := range m.Content {
			if part.Text != nil && part.Text.Value != "" {
				return part.Text.Value, nil
			}
		}
	}
	return "", nil
}

func (c *Client) CompleteChat(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.ExportModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/amello/sheetgrader/internal/model"
)

// Client wraps an OpenAI-compatible multimodal API used to decode scanned
// answer sheets. The model's output is structured but untrusted: grading
// tolerates empty or partial extractions.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new vision client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping verifies the API endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("vision API ping: %w", err)
	}
	return nil
}

// AnalyzeSheet sends a sheet image to the vision model and returns its
// structured extraction: the sheet's printed test id, the student name as
// written, and one detected mark per answered question.
func (c *Client) AnalyzeSheet(ctx context.Context, image []byte) (model.Extraction, error) {
	if len(image) == 0 {
		return model.Extraction{}, fmt.Errorf("empty sheet image")
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSheetSystemPrompt()},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Extract this answer sheet."},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    sheetDataURL(image),
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return model.Extraction{}, fmt.Errorf("vision API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.Extraction{}, fmt.Errorf("vision model returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("vision response", "raw", raw)

	ext, err := parseExtraction([]byte(raw))
	if err != nil {
		return model.Extraction{}, fmt.Errorf("parse vision response: %w (raw: %s)", err, raw)
	}
	return ext, nil
}

// parseExtraction decodes and normalizes the model's JSON payload. Labels
// and ids are whitespace-trimmed; detected marks without a positive question
// number are dropped.
func parseExtraction(raw []byte) (model.Extraction, error) {
	var ext model.Extraction
	if err := json.Unmarshal(raw, &ext); err != nil {
		return model.Extraction{}, err
	}

	ext.TestID = strings.TrimSpace(ext.TestID)
	ext.StudentName = strings.TrimSpace(ext.StudentName)

	kept := ext.Answers[:0]
	for _, a := range ext.Answers {
		if a.QuestionNumber < 1 {
			continue
		}
		a.SelectedOption = strings.TrimSpace(a.SelectedOption)
		kept = append(kept, a)
	}
	ext.Answers = kept
	return ext, nil
}

func sheetDataURL(image []byte) string {
	mime := http.DetectContentType(image)
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
}

func buildSheetSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are an answer-sheet reader. The image is a scanned multiple-choice response form.\n\n")
	sb.WriteString("The form has a printed test identifier (often near a QR code or in the header), ")
	sb.WriteString("a handwritten student name, and a numbered grid of questions where the student ")
	sb.WriteString("marked one option bubble per question.\n\n")
	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString("- Report every question whose mark you can read. Skip questions that are blank or unreadable.\n")
	sb.WriteString("- question_number is the printed question number (1-based).\n")
	sb.WriteString("- selected_option is the option's printed label, exactly as printed (usually a single uppercase letter such as \"A\").\n")
	sb.WriteString("- If two bubbles are marked for one question and one is clearly erased, report the remaining one; otherwise skip the question.\n")
	sb.WriteString("- Use an empty string for test_id or student_name if you cannot read them. Never invent values.\n")
	sb.WriteString("\nRespond ONLY with a JSON object with these fields:\n")
	sb.WriteString(`{"test_id": "<printed id or empty>", "student_name": "<name or empty>", "answers": [{"question_number": <int>, "selected_option": "<label>"}]}`)
	sb.WriteString("\n")
	return sb.String()
}

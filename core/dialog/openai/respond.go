package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/koscakluka/ema-gateway/core/dialog"
	"github.com/koscakluka/ema-gateway/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrRequestFailed = errors.New("openai request failed")
	ErrEmptyResponse = errors.New("openai returned no text")
)

func (c *Client) Respond(ctx context.Context, transcript speechtotext.Transcript, opts ...dialog.TurnOption) (reply *dialog.Reply, err error) {
	options := dialog.NewTurnOptions(opts...)

	ctx, span := tracer.Start(ctx, "dialog turn")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("llm.model", c.model), attribute.String("session.id", options.SessionID))

	userMessage := openAIMessage{Type: messageTypeMessage, Role: messageRoleUser, Content: transcript.Text}

	messages := []openAIMessage{{Type: messageTypeMessage, Role: messageRoleDeveloper, Content: c.instructions}}
	if options.Language != "" {
		messages = append(messages, openAIMessage{
			Type:    messageTypeMessage,
			Role:    messageRoleDeveloper,
			Content: "Reply in the language with BCP-47 tag " + options.Language + ".",
		})
	}
	messages = append(messages, c.historyFor(options.SessionID)...)
	messages = append(messages, userMessage)

	requestBodyBytes, err := json.Marshal(requestBody{Model: c.model, Input: messages})
	if err != nil {
		return nil, fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.baseURL, "/")+"/responses", bytes.NewReader(requestBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorBody
		if json.Unmarshal(bodyBytes, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("%w: %s: %s", ErrRequestFailed, resp.Status, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("%w: %s", ErrRequestFailed, resp.Status)
	}

	text, err := parseOutputText(bodyBytes)
	if err != nil {
		return nil, err
	}

	c.remember(options.SessionID, userMessage, openAIMessage{
		Type:    messageTypeMessage,
		Role:    messageRoleAssistant,
		Content: text,
	})
	logger.DebugContext(ctx, "dialog turn completed", "session_id", options.SessionID, "reply_length", len(text))

	return &dialog.Reply{Text: text}, nil
}

func parseOutputText(body []byte) (string, error) {
	var response responseBody
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("error unmarshalling response body: %w", err)
	}

	var parts []string
	for _, output := range response.Output {
		var outputType responseOutputType
		if err := json.Unmarshal(output, &outputType); err != nil {
			return "", fmt.Errorf("error unmarshalling output type: %w", err)
		}
		if outputType.Type != "message" {
			continue
		}

		var message responseOutputMessage
		if err := json.Unmarshal(output, &message); err != nil {
			return "", fmt.Errorf("error unmarshalling output message: %w", err)
		}
		for _, rawContent := range message.Content {
			var content responseContent
			if err := json.Unmarshal(rawContent, &content); err != nil {
				return "", fmt.Errorf("error unmarshalling output message content: %w", err)
			}
			switch content.Type {
			case "output_text":
				parts = append(parts, content.Text)
			case "refusal":
				parts = append(parts, content.Refusal)
			}
		}
	}

	text := strings.TrimSpace(strings.Join(parts, ""))
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

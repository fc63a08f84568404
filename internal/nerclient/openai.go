package nerclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openAISystemPrompt = "You are a named-entity recognizer. " +
	"Reply with a single JSON object that maps every entity found in the user's text " +
	"to its entity type (for example PER, ORG, LOC, MISC). " +
	"Use the entity text exactly as it appears. Reply with {} when there are no entities. " +
	"Do not add any other text."

// OpenAICaller asks an OpenAI-compatible chat model to label entities.
type OpenAICaller struct {
	client  openai.Client
	model   string
	baseURL string
}

// NewOpenAI returns a caller for model served at baseURL ("" for the
// OpenAI API).
func NewOpenAI(baseURL, apiKey, model string, extra ...option.RequestOption) (*OpenAICaller, error) {
	if model == "" {
		return nil, errors.New("openai endpoint requires a model")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	resolvedBase := "https://api.openai.com/v1"
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
		resolvedBase = baseURL
	}
	opts = append(opts, extra...)
	return &OpenAICaller{
		client:  openai.NewClient(opts...),
		model:   model,
		baseURL: resolvedBase,
	}, nil
}

// Call implements Caller.
func (c *OpenAICaller) Call(ctx context.Context, text string, extra map[string]string) (map[string]string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(openAISystemPrompt),
			openai.UserMessage(userPrompt(text, extra)),
		},
		Model:       c.model,
		Temperature: openai.Float(0),
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{Endpoint: c.baseURL, Code: apiErr.StatusCode, Message: apiErr.Message}
		}
		return nil, &UnreachableError{Endpoint: c.baseURL, Err: err}
	}
	if len(completion.Choices) == 0 {
		return nil, &ProtocolError{Endpoint: c.baseURL, Err: errors.New("completion has no choices")}
	}

	content := completion.Choices[0].Message.Content
	obj, ok := extractJSONObject(content)
	if !ok {
		return nil, &ProtocolError{Endpoint: c.baseURL, Err: fmt.Errorf("no JSON object in reply %q", snippet([]byte(content)))}
	}
	entities, err := decodeEntities([]byte(obj))
	if err != nil {
		return nil, &ProtocolError{Endpoint: c.baseURL, Err: err}
	}
	return entities, nil
}

func userPrompt(text string, extra map[string]string) string {
	if len(extra) == 0 {
		return text
	}
	var sb strings.Builder
	sb.WriteString("Options: ")
	sb.Write(mustJSON(extra))
	sb.WriteString("\n\n")
	sb.WriteString(text)
	return sb.String()
}

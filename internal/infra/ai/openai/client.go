package openai

import (
    "context"
    "encoding/json"
    "errors"
    "strings"

    "github.com/rotisserie/eris"
    "github.com/sashabaranov/go-openai"

    domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
)

const (
    maxTokens    = 2048
    defaultModel = "gpt-4o"
)

type Client struct {
    *openai.Client
    Model       string
    VisionModel string
}

// NewClient builds a chat client. An empty baseURL keeps the public endpoint.
func NewClient(apiKey, baseURL, model, visionModel string) *Client {
    cfg := openai.DefaultConfig(apiKey)
    if baseURL != "" {
        cfg.BaseURL = strings.TrimRight(baseURL, "/")
    }
    if model == "" {
        model = defaultModel
    }
    if visionModel == "" {
        visionModel = model
    }
    return &Client{Client: openai.NewClientWithConfig(cfg), Model: model, VisionModel: visionModel}
}

// complete runs one JSON-mode chat completion and returns the raw message content.
func (c *Client) complete(ctx context.Context, stage domain.Stage, model string, msgs []openai.ChatCompletionMessage) (string, error) {
    req := openai.ChatCompletionRequest{
        Model: model,
        ResponseFormat: &openai.ChatCompletionResponseFormat{
            Type: openai.ChatCompletionResponseFormatTypeJSONObject,
        },
        Messages: msgs,
    }
    // For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
    if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
        req.MaxCompletionTokens = maxTokens
    } else {
        req.MaxTokens = maxTokens
    }

    resp, err := c.CreateChatCompletion(ctx, req)
    if err != nil {
        return "", stageError(stage, err)
    }
    if len(resp.Choices) == 0 {
        return "", domain.NewStageError(stage, domain.KindPayload, eris.New("completion without choices"))
    }
    content := strings.TrimSpace(resp.Choices[0].Message.Content)
    if content == "" {
        return "", domain.NewStageError(stage, domain.KindPayload, eris.New("empty completion"))
    }
    return content, nil
}

// stageError classifies go-openai failures.
func stageError(stage domain.Stage, err error) error {
    var apiErr *openai.APIError
    if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
        return domain.StatusError(stage, apiErr.HTTPStatusCode, apiErr.Message)
    }
    var reqErr *openai.RequestError
    if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
        return domain.StatusError(stage, reqErr.HTTPStatusCode, reqErr.Error())
    }
    return domain.NewStageError(stage, domain.KindTransport, eris.Wrap(err, "create chat completion"))
}

// decodeObject parses content as a JSON object keyed by field name.
func decodeObject(stage domain.Stage, content string) (map[string]json.RawMessage, error) {
    var obj map[string]json.RawMessage
    if err := json.Unmarshal([]byte(content), &obj); err != nil {
        return nil, domain.NewStageError(stage, domain.KindPayload, eris.Wrap(err, "decode model output"))
    }
    if obj == nil {
        return nil, domain.NewStageError(stage, domain.KindPayload, eris.New("model output is not an object"))
    }
    return obj, nil
}

// requiredString reads obj[key] as a non-empty string.
func requiredString(stage domain.Stage, obj map[string]json.RawMessage, key string) (string, error) {
    raw, ok := obj[key]
    if !ok {
        return "", domain.NewStageError(stage, domain.KindPayload, eris.Errorf("missing %s", key))
    }
    var s string
    if err := json.Unmarshal(raw, &s); err != nil || strings.TrimSpace(s) == "" {
        return "", domain.NewStageError(stage, domain.KindPayload, eris.Errorf("%s must be a non-empty string", key))
    }
    return strings.TrimSpace(s), nil
}

// optionalStrings reads obj[key] as a string list; absent or null yields an empty list.
func optionalStrings(stage domain.Stage, obj map[string]json.RawMessage, key string) ([]string, error) {
    out := []string{}
    raw, ok := obj[key]
    if !ok || string(raw) == "null" {
        return out, nil
    }
    if err := json.Unmarshal(raw, &out); err != nil {
        return nil, domain.NewStageError(stage, domain.KindPayload, eris.Errorf("%s must be a list of strings", key))
    }
    return out, nil
}

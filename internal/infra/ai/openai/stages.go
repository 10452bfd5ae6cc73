package openai

import (
    "context"
    "encoding/base64"
    "encoding/json"
    "strings"

    "github.com/rotisserie/eris"
    "github.com/sashabaranov/go-openai"

    domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
    "github.com/bryanwahyu/docguard/internal/infra/ai/prompt"
)

// Renderer turns a document into a PNG of its first page.
type Renderer interface {
    Render(ctx context.Context, doc domain.Document) ([]byte, error)
}

// VisualAnalyzer implements VisualStage: render, keep the image, ask the vision model.
type VisualAnalyzer struct {
    Client   *Client
    Renderer Renderer
    Images   domain.ImageStore // optional
}

func (v *VisualAnalyzer) Execute(ctx context.Context, doc domain.Document) (*domain.VisualReport, error) {
    const stage = domain.StageVisual

    img, err := v.Renderer.Render(ctx, doc)
    if err != nil {
        return nil, err
    }

    var ref string
    if v.Images != nil {
        ref, err = v.Images.PutImage(ctx, "renders/"+string(doc.Fingerprint)+".png", img, "image/png")
        if err != nil {
            return nil, domain.NewStageError(stage, domain.KindTransport, eris.Wrap(err, "store rendered page"))
        }
    }

    msgs := []openai.ChatCompletionMessage{
        {Role: openai.ChatMessageRoleSystem, Content: prompt.VisualSystemPrompt()},
        {
            Role: openai.ChatMessageRoleUser,
            MultiContent: []openai.ChatMessagePart{
                {Type: openai.ChatMessagePartTypeText, Text: prompt.VisualUserPrompt(doc.Filename)},
                {Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
                    URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
                    Detail: openai.ImageURLDetailHigh,
                }},
            },
        },
    }
    content, err := v.Client.complete(ctx, stage, v.Client.VisionModel, msgs)
    if err != nil {
        return nil, err
    }

    obj, err := decodeObject(stage, content)
    if err != nil {
        return nil, err
    }
    rep := &domain.VisualReport{ImageRef: ref}
    if rep.DocumentType, err = requiredString(stage, obj, "document_type"); err != nil {
        return nil, err
    }
    if rep.Layout, err = requiredString(stage, obj, "layout"); err != nil {
        return nil, err
    }
    if rep.ProminentElements, err = optionalStrings(stage, obj, "prominent_elements"); err != nil {
        return nil, err
    }
    if rep.Anomalies, err = optionalStrings(stage, obj, "anomalies"); err != nil {
        return nil, err
    }
    return rep, nil
}

// Prioritizer implements URLPrioritizerStage.
type Prioritizer struct {
    Client *Client
}

func (p *Prioritizer) Execute(ctx context.Context, in domain.PrioritizeInput) (*string, error) {
    const stage = domain.StagePrioritizer

    // nothing to choose from
    if len(in.StructuralURLs) == 0 && len(in.ContentURLs) == 0 {
        return nil, nil
    }

    user, err := prompt.PrioritizeUserPrompt(in)
    if err != nil {
        return nil, domain.NewStageError(stage, domain.KindPayload, eris.Wrap(err, "encode prompt"))
    }
    content, err := p.Client.complete(ctx, stage, p.Client.Model, []openai.ChatCompletionMessage{
        {Role: openai.ChatMessageRoleSystem, Content: prompt.PrioritizeSystemPrompt()},
        {Role: openai.ChatMessageRoleUser, Content: user},
    })
    if err != nil {
        return nil, err
    }

    obj, err := decodeObject(stage, content)
    if err != nil {
        return nil, err
    }
    raw, ok := obj["priority_url"]
    if !ok {
        return nil, domain.NewStageError(stage, domain.KindPayload, eris.New("missing priority_url"))
    }
    if string(raw) == "null" {
        return nil, nil
    }
    var u string
    if err := json.Unmarshal(raw, &u); err != nil {
        return nil, domain.NewStageError(stage, domain.KindPayload, eris.New("priority_url must be a string or null"))
    }
    u = strings.TrimSpace(u)
    if u == "" {
        return nil, nil
    }
    return &u, nil
}

// Synthesizer implements RiskSynthesizerStage.
type Synthesizer struct {
    Client *Client
}

func (s *Synthesizer) Execute(ctx context.Context, b domain.Bundle) (*domain.RiskAssessment, error) {
    const stage = domain.StageSynthesizer

    user, err := prompt.SynthesizeUserPrompt(b)
    if err != nil {
        return nil, domain.NewStageError(stage, domain.KindPayload, eris.Wrap(err, "encode prompt"))
    }
    content, err := s.Client.complete(ctx, stage, s.Client.Model, []openai.ChatCompletionMessage{
        {Role: openai.ChatMessageRoleSystem, Content: prompt.SynthesizeSystemPrompt()},
        {Role: openai.ChatMessageRoleUser, Content: user},
    })
    if err != nil {
        return nil, err
    }

    obj, err := decodeObject(stage, content)
    if err != nil {
        return nil, err
    }
    label, err := requiredString(stage, obj, "risk_score")
    if err != nil {
        return nil, err
    }
    score, ok := domain.ParseRiskScore(label)
    if !ok {
        return nil, domain.NewStageError(stage, domain.KindPayload, eris.Errorf("unknown risk score %q", label))
    }
    reasoning, err := requiredString(stage, obj, "reasoning")
    if err != nil {
        return nil, err
    }
    return &domain.RiskAssessment{Score: score, Reasoning: reasoning}, nil
}

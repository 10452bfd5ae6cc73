package prompt

import (
    "encoding/json"
    "fmt"

    domain "github.com/bryanwahyu/docguard/internal/domain/analysis"
)

// VisualUserPrompt accompanies the page image.
func VisualUserPrompt(filename string) string {
    return fmt.Sprintf("Analyze the first page of %q and respond with the JSON per schema.", filename)
}

type prioritizeMessage struct {
    StructuralURLs []string             `json:"structural_urls"`
    ContentURLs    []domain.ContextURL  `json:"content_urls"`
    Visual         *domain.VisualReport `json:"visual_report"`
}

// PrioritizeUserPrompt serialises the joined first-tier output.
func PrioritizeUserPrompt(in domain.PrioritizeInput) (string, error) {
    msg := prioritizeMessage{
        StructuralURLs: in.StructuralURLs,
        ContentURLs:    in.ContentURLs,
        Visual:         in.Visual,
    }
    if msg.StructuralURLs == nil {
        msg.StructuralURLs = []string{}
    }
    if msg.ContentURLs == nil {
        msg.ContentURLs = []domain.ContextURL{}
    }
    b, err := json.Marshal(msg)
    if err != nil {
        return "", err
    }
    return string(b), nil
}

// maxPromptText bounds the document text forwarded to the synthesizer.
const maxPromptText = 4000

// SynthesizeUserPrompt serialises the evidence bundle.
func SynthesizeUserPrompt(b domain.Bundle) (string, error) {
    if b.Content != nil {
        c := *b.Content
        if r := []rune(c.Text); len(r) > maxPromptText {
            c.Text = string(r[:maxPromptText])
        }
        b.Content = &c
    }
    out, err := json.Marshal(b)
    if err != nil {
        return "", err
    }
    return string(out), nil
}

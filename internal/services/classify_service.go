package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/ajramos/mailsweep/internal/llm"
	"github.com/ajramos/mailsweep/internal/mail"
)

const defaultClassifyPrompt = `You are sorting a mail inbox. Decide whether the message below matches the sorting criteria, and if so pick exactly one label from the list.

Criteria: {{instruction}}

Labels (pick one name, or none):
{{labels}}

Message:
From: {{from}}
Subject: {{subject}}

{{body}}

Answer with a single JSON object and nothing else:
{"match": true|false, "label": "<label name or empty>", "reasoning": "<one sentence>"}`

// maxClassifyBody bounds how much body text is sent to the model.
const maxClassifyBody = 8000

// ClassifyServiceImpl implements Classifier on top of an llm.Provider.
// Model noise never escapes as an error: any unusable response is reported
// inside the Classification so one bad verdict cannot halt a triage batch.
type ClassifyServiceImpl struct {
	provider llm.Provider
	prompt   string
	logger   *log.Logger
}

// NewClassifyService creates a new classifier.
func NewClassifyService(provider llm.Provider) *ClassifyServiceImpl {
	return &ClassifyServiceImpl{provider: provider, prompt: defaultClassifyPrompt}
}

// SetPrompt overrides the classification prompt template. The template may
// reference {{instruction}}, {{labels}}, {{from}}, {{subject}} and {{body}}.
func (s *ClassifyServiceImpl) SetPrompt(prompt string) {
	if strings.TrimSpace(prompt) != "" {
		s.prompt = prompt
	}
}

// SetLogger sets the logger for debug output.
func (s *ClassifyServiceImpl) SetLogger(logger *log.Logger) {
	s.logger = logger
}

// Classify runs one message through the model and normalizes the verdict
// onto the closed label set.
func (s *ClassifyServiceImpl) Classify(ctx context.Context, item mail.Record, body string, criteria TriageCriteria) (*Classification, error) {
	if s.provider == nil {
		return &Classification{Error: "classifier provider not available"}, nil
	}

	if strings.TrimSpace(body) == "" {
		body = item.PreviewText
	}
	if len([]rune(body)) > maxClassifyBody {
		body = string([]rune(body)[:maxClassifyBody])
	}

	var labelLines strings.Builder
	for _, l := range criteria.Labels {
		fmt.Fprintf(&labelLines, "- %s: %s\n", l.Name, l.Description)
	}

	prompt := s.prompt
	prompt = strings.ReplaceAll(prompt, "{{instruction}}", criteria.Instruction)
	prompt = strings.ReplaceAll(prompt, "{{labels}}", labelLines.String())
	prompt = strings.ReplaceAll(prompt, "{{from}}", item.Sender)
	prompt = strings.ReplaceAll(prompt, "{{subject}}", item.Subject)
	prompt = strings.ReplaceAll(prompt, "{{body}}", body)

	raw, err := s.provider.Generate(prompt)
	if err != nil {
		return &Classification{Error: fmt.Sprintf("model call failed: %v", err)}, nil
	}

	verdict, parseErr := parseVerdict(raw)
	if parseErr != nil {
		if s.logger != nil {
			s.logger.Printf("unparseable classifier response: %q", raw)
		}
		return &Classification{Error: fmt.Sprintf("unparseable model response: %v", parseErr)}, nil
	}

	out := &Classification{Match: verdict.Match, Rationale: verdict.Reasoning}
	if !verdict.Match {
		return out, nil
	}

	label, ok := normalizeLabel(verdict.Label, criteria.LabelNames())
	if !ok {
		out.Match = false
		out.Error = fmt.Sprintf("model label %q is not in the label set", verdict.Label)
		return out, nil
	}
	out.Label = label
	return out, nil
}

type rawVerdict struct {
	Match     bool   `json:"match"`
	Label     string `json:"label"`
	Reasoning string `json:"reasoning"`
}

// parseVerdict extracts the first JSON object from a model response,
// tolerating markdown fences and surrounding prose.
func parseVerdict(raw string) (*rawVerdict, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var v rawVerdict
	if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// normalizeLabel maps a model-produced label onto the closed set: exact
// case-insensitive match first, then a comparison with punctuation and
// whitespace stripped, then containment either way for near misses like
// "the Newsletters folder".
func normalizeLabel(got string, allowed []string) (string, bool) {
	got = strings.TrimSpace(strings.Trim(strings.TrimSpace(got), `"'`))
	if got == "" {
		return "", false
	}
	for _, a := range allowed {
		if strings.EqualFold(got, a) {
			return a, true
		}
	}
	squash := func(s string) string {
		var b strings.Builder
		for _, r := range strings.ToLower(s) {
			if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		return b.String()
	}
	gs := squash(got)
	if gs == "" {
		return "", false
	}
	for _, a := range allowed {
		as := squash(a)
		if gs == as || strings.Contains(gs, as) || strings.Contains(as, gs) {
			return a, true
		}
	}
	return "", false
}

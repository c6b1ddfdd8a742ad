// Package caption rewrites a free-text caption into the short two-line post
// format. Remote text-generation formatters are tried first; the local
// template always succeeds, so caption formatting never fails a run.
package caption

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"postbot/internal/post"
	logx "postbot/pkg/logx"
)

var (
	ErrEmptyOutput  = errors.New("caption: empty output")
	ErrLinkDropped  = errors.New("caption: output does not contain the link")
	ErrNotAvailable = errors.New("caption: formatter not configured")
)

type Input struct {
	Caption   string         `json:"originalCaption"`
	Link      string         `json:"link"`
	Placement post.Placement `json:"linkPlacement"`
}

type Formatter interface {
	Name() string
	Format(ctx context.Context, in Input) (string, error)
}

// Result is a formatted caption plus where it came from. Degraded is set when
// the local fallback produced it.
type Result struct {
	Text     string
	Provider string
	Degraded bool
}

// Template is the deterministic local formatter:
// "<caption>\n\n<link>", omitting the link when it lives in a button.
type Template struct{}

func (Template) Name() string { return "template" }

func (Template) Format(_ context.Context, in Input) (string, error) {
	return Fallback(in), nil
}

func Fallback(in Input) string {
	out := in.Caption
	if in.Placement.LinkInCaption() && in.Link != "" {
		out += "\n\n" + in.Link
	}
	return out
}

// Strategy runs the remote formatters in order and falls back to Template.
type Strategy struct {
	remotes []Formatter
	log     logx.Logger
}

func NewStrategy(log logx.Logger, remotes ...Formatter) *Strategy {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Strategy{remotes: remotes, log: log}
}

func (s *Strategy) Format(ctx context.Context, in Input) Result {
	for _, f := range s.remotes {
		text, err := f.Format(ctx, in)
		if err == nil {
			err = checkOutput(text, in.Link)
		}
		if err == nil {
			return Result{Text: strings.TrimSpace(text), Provider: f.Name()}
		}
		s.log.Warn("caption formatter failed", logx.String("provider", f.Name()), logx.Err(err))
	}
	return Result{Text: Fallback(in), Provider: Template{}.Name(), Degraded: true}
}

func checkOutput(text, link string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyOutput
	}
	if link != "" && !strings.Contains(text, link) {
		return ErrLinkDropped
	}
	return nil
}

const instruction = `You are a Telegram post formatting expert. Extract only the model's name from the original caption (it is usually at the beginning) and create the caption strictly in this format, each part on its own line:
🌴 Model: [Extracted Model Name]
📦 Mega: [Final Link]
Reply with a JSON object {"formattedCaption": "..."} and nothing else.`

func prompt(in Input) string {
	return fmt.Sprintf("Original Caption: %s\nFinal Link: %s\nLink Placement: %s\n\nFormatted Caption:", in.Caption, in.Link, in.Placement)
}

// decodeOutput reads {"formattedCaption": "..."} from a model reply, tolerating
// a fenced code block around it.
func decodeOutput(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	var out struct {
		FormattedCaption string `json:"formattedCaption"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return "", fmt.Errorf("caption: decode output: %w", err)
	}
	if strings.TrimSpace(out.FormattedCaption) == "" {
		return "", ErrEmptyOutput
	}
	return out.FormattedCaption, nil
}

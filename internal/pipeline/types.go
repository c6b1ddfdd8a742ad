package pipeline

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"postbot/internal/lock"
	"postbot/internal/post"
)

// Stage names one step of a run.
type Stage string

const (
	StageDeobfuscate Stage = "deobfuscate"
	StagePage        Stage = "page"
	StageLock        Stage = "lock"
	StageShorten     Stage = "shorten"
	StageCaption     Stage = "caption"
	StageTelegram    Stage = "telegram"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageDeobfuscate, StagePage, StageLock, StageShorten, StageCaption, StageTelegram}

// Image is a remote reference or an embedded payload (base64 in JSON).
// Data wins when both are set.
type Image struct {
	URL  string `json:"url,omitempty"`
	Data []byte `json:"base64,omitempty"`
}

func (i Image) Empty() bool { return len(i.Data) == 0 && strings.TrimSpace(i.URL) == "" }

type Settings struct {
	Placement  post.Placement `json:"link_placement"`
	LockCount  int            `json:"lock_count"`
	Channels   []string       `json:"channels"`
	ButtonText string         `json:"button_text,omitempty"`
}

// Request is the immutable input of one run.
type Request struct {
	Image    Image    `json:"image"`
	Caption  string   `json:"caption"`
	Link     string   `json:"link"`
	Settings Settings `json:"settings"`
}

// Normalize fills defaults and validates. A missing image is reported as
// ErrNoImage ahead of any other problem.
func (r Request) Normalize(defaultButton string) (Request, error) {
	if r.Image.Empty() {
		return r, ErrNoImage
	}
	if strings.TrimSpace(r.Link) == "" {
		return r, fmt.Errorf("%w: link is empty", ErrInvalidRequest)
	}
	s := r.Settings
	if s.Placement == "" {
		s.Placement = post.PlacementCaption
	}
	p, err := post.ParsePlacement(string(s.Placement))
	if err != nil {
		return r, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	s.Placement = p
	if s.LockCount, err = lock.NormalizeCount(s.LockCount); err != nil {
		return r, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	s.Channels = dedupe(s.Channels)
	if len(s.Channels) == 0 {
		return r, fmt.Errorf("%w: no channels selected", ErrInvalidRequest)
	}
	if strings.TrimSpace(s.ButtonText) == "" {
		s.ButtonText = defaultButton
	}
	r.Link = strings.TrimSpace(r.Link)
	r.Settings = s
	return r, nil
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Status maps stage to confirmed success.
type Status map[Stage]bool

// Artifacts holds what each reached stage produced. Zero fields were never
// reached or were skipped.
type Artifacts struct {
	Deobfuscated string       `json:"deobfuscate,omitempty"`
	Page         string       `json:"page,omitempty"`
	Locks        []string     `json:"lock,omitempty"`
	Short        string       `json:"shorten,omitempty"`
	Caption      string       `json:"caption,omitempty"`
	Telegram     *post.Report `json:"telegram,omitempty"`
}

func (a Artifacts) clone() Artifacts {
	a.Locks = slices.Clone(a.Locks)
	if a.Telegram != nil {
		t := *a.Telegram
		t.Results = slices.Clone(t.Results)
		a.Telegram = &t
	}
	return a
}

// Result is the outcome of one run.
type Result struct {
	RunID      string    `json:"run_id"`
	Success    bool      `json:"success"`
	FinalURL   string    `json:"final_url,omitempty"`
	Caption    string    `json:"formatted_caption,omitempty"`
	Status     Status    `json:"pipeline_status"`
	Artifacts  Artifacts `json:"steps"`
	Error      string    `json:"error,omitempty"`
	Err        error     `json:"-"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Posts returns every delivered (channel, message id) pair of the run.
func (r Result) Posts() []post.ChannelResult {
	if r.Artifacts.Telegram == nil {
		return nil
	}
	return r.Artifacts.Telegram.Successful()
}

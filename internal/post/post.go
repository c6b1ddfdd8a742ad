// Package post holds the vocabulary shared by the pipeline stages: where the
// final link goes and what a per-channel delivery produced.
package post

import (
	"fmt"
	"strings"
)

// Placement says where the final link is shown in a published post.
type Placement string

const (
	PlacementCaption Placement = "caption"
	PlacementButton  Placement = "button"
	PlacementBoth    Placement = "both"
)

func ParsePlacement(s string) (Placement, error) {
	p := Placement(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("invalid link placement %q (want caption, button or both)", s)
	}
	return p, nil
}

func (p Placement) Valid() bool {
	switch p {
	case PlacementCaption, PlacementButton, PlacementBoth:
		return true
	}
	return false
}

// LinkInButton reports whether the link gets its own inline button.
func (p Placement) LinkInButton() bool { return p == PlacementButton || p == PlacementBoth }

// LinkInCaption reports whether the link is written into the caption text.
func (p Placement) LinkInCaption() bool { return p != PlacementButton }

// ChannelResult is the outcome of one delivery. Exactly one of MessageID and
// Error is set.
type ChannelResult struct {
	Channel   string `json:"channel"`
	Success   bool   `json:"success"`
	MessageID int    `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func Delivered(channel string, messageID int) ChannelResult {
	return ChannelResult{Channel: channel, Success: true, MessageID: messageID}
}

func Failed(channel string, err error) ChannelResult {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return ChannelResult{Channel: channel, Error: msg}
}

// Report aggregates deliveries; Success is the AND over Results.
type Report struct {
	Success bool            `json:"success"`
	Results []ChannelResult `json:"results"`
}

func NewReport(results []ChannelResult) Report {
	ok := true
	for _, r := range results {
		ok = ok && r.Success
	}
	return Report{Success: ok, Results: results}
}

// Merge concatenates reports, recomputing the aggregate.
func Merge(reports ...Report) Report {
	var all []ChannelResult
	for _, r := range reports {
		all = append(all, r.Results...)
	}
	return NewReport(all)
}

// Successful returns the delivered subset, the usual input of a retraction.
func (r Report) Successful() []ChannelResult {
	out := make([]ChannelResult, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Success {
			out = append(out, res)
		}
	}
	return out
}

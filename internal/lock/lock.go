// Package lock wraps a URL in nested access-lock layers. Each layer is a new
// locker page whose target is the previous URL; viewers unlock outside in.
package lock

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrLock     = errors.New("lock: wrap failed")
	ErrNoURL    = errors.New("lock: response has no url")
	ErrBadCount = errors.New("lock: count out of range")
)

// MaxCount bounds the chain length.
const MaxCount = 3

// DefaultSubject is used when the caption yields no subject line.
const DefaultSubject = "Link"

// Locker creates one lock layer around target.
type Locker interface {
	Lock(ctx context.Context, title, target string) (string, error)
}

var subjectRe = regexp.MustCompile(`(?i)^(?:Model:\s*)?([^\n]+)`)

// SubjectName extracts the subject from the first caption line, dropping a
// leading "Model:" label.
func SubjectName(caption string) string {
	m := subjectRe.FindStringSubmatch(strings.TrimSpace(caption))
	if len(m) < 2 {
		return DefaultSubject
	}
	if s := strings.TrimSpace(m[1]); s != "" {
		return s
	}
	return DefaultSubject
}

// Title renders the locker title for a layer with remaining unlocks left.
func Title(subject string, remaining, total int) string {
	if total > 1 {
		return fmt.Sprintf("🔐 %s | Unlocks Remaining: %d/%d 🔓", subject, remaining, total)
	}
	return fmt.Sprintf("🔐 %s | Final Unlock 🔓", subject)
}

// NormalizeCount maps zero to one and rejects anything outside [1, MaxCount].
func NormalizeCount(n int) (int, error) {
	if n == 0 {
		return 1, nil
	}
	if n < 1 || n > MaxCount {
		return 0, fmt.Errorf("%w: %d (want 1..%d)", ErrBadCount, n, MaxCount)
	}
	return n, nil
}

// Chain is the ordered list of wrapping URLs, outermost first.
type Chain []string

// Outer is the last-created layer, the link every later stage uses.
func (c Chain) Outer() string {
	if len(c) == 0 {
		return ""
	}
	return c[0]
}

// Wrap applies count layers around target. Any failing layer aborts the
// whole chain; no partial chain is returned.
func Wrap(ctx context.Context, l Locker, target string, count int, subject string) (Chain, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: no locker configured", ErrLock)
	}
	if count < 1 || count > MaxCount {
		return nil, fmt.Errorf("%w: %d", ErrBadCount, count)
	}
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}

	chain := make(Chain, 0, count)
	current := target
	for i := 0; i < count; i++ {
		next, err := l.Lock(ctx, Title(subject, count-i, count), current)
		if err != nil {
			return nil, fmt.Errorf("%w at iteration %d: %w", ErrLock, i+1, err)
		}
		chain = append(Chain{next}, chain...)
		current = next
	}
	return chain, nil
}

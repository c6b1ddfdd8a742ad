// Package pagehost publishes a resolved link on a hosted page built from a
// fixed instructional template. Providers are tried in order; the first one
// that returns a page URL wins.
package pagehost

import (
	"context"
	"errors"
	"fmt"

	logx "postbot/pkg/logx"
)

var (
	ErrProviderUnavailable = errors.New("pagehost: provider unavailable")
	ErrNoProviders         = errors.New("pagehost: no providers configured")
	ErrTokenNotFound       = errors.New("pagehost: anti-forgery token not found")
	ErrNoPageID            = errors.New("pagehost: response has no page id")
)

type Provider interface {
	Name() string
	Publish(ctx context.Context, link string) (string, error)
}

// Chain tries providers in order.
type Chain struct {
	providers []Provider
	log       logx.Logger
}

func NewChain(log logx.Logger, providers ...Provider) *Chain {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Chain{providers: providers, log: log}
}

func (c *Chain) Publish(ctx context.Context, link string) (string, error) {
	if len(c.providers) == 0 {
		return "", ErrNoProviders
	}
	var errs []error
	for _, p := range c.providers {
		pageURL, err := p.Publish(ctx, link)
		if err == nil {
			return pageURL, nil
		}
		c.log.Warn("page host failed", logx.String("provider", p.Name()), logx.Err(err))
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return "", errors.Join(errs...)
}

// Disabled is a named fallback slot that never succeeds. It keeps the chain
// shape for a secondary host that has no working integration.
type Disabled string

func (d Disabled) Name() string { return string(d) }

func (d Disabled) Publish(context.Context, string) (string, error) {
	return "", ErrProviderUnavailable
}

// Package driver defines the contract a browser automation backend must
// implement for the pipeline to mediate it, plus the timeout guard the
// pipeline wraps around every driver call.
package driver

import (
	"context"
	"time"

	"github.com/sentinelsec/sentinel/internal/dom"
)

// NavigateResult reports the outcome of a navigation.
type NavigateResult struct {
	URL     string `json:"url"`
	Success bool   `json:"success"`
}

// Element is a handle to a queried DOM element.
type Element interface {
	BoundingBox() dom.Box
	GetAttribute(name string) string
	IsVisible() bool
	TextContent() string
}

// Driver is the browser backend the core mediates. Implementations call the
// core before executing any action; the core calls back through this
// interface to observe the page and to install the honeypot payload.
type Driver interface {
	Navigate(ctx context.Context, url string) (NavigateResult, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	ExtractDOM(ctx context.Context) (*dom.Tree, error)
	CaptureScreenshot(ctx context.Context) (string, error)
	InjectInitScript(ctx context.Context, script string) error
	QuerySelector(ctx context.Context, selector string) (Element, error)
}

// Call runs fn under a deadline and substitutes fallback on timeout or
// error, so a slow or broken driver degrades the pipeline instead of
// stalling it. The second return reports whether the real value was used.
func Call[T any](ctx context.Context, timeout time.Duration, fallback T, fn func(context.Context) (T, error)) (T, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return fallback, false
		}
		return r.val, true
	case <-ctx.Done():
		return fallback, false
	}
}

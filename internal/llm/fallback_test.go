package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type stubProvider struct {
	name  string
	resp  *Response
	err   error
	calls int
}

func (p *stubProvider) SendMessage(_ context.Context, _ *Request) (*Response, error) {
	p.calls++
	return p.resp, p.err
}

func (p *stubProvider) Name() string { return p.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallbackUsesPrimaryFirst(t *testing.T) {
	primary := &stubProvider{name: "primary", resp: &Response{Content: "ok"}}
	secondary := &stubProvider{name: "secondary", resp: &Response{Content: "backup"}}
	f := NewFallbackProvider([]Provider{primary, secondary}, discardLogger())

	resp, err := f.SendMessage(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected primary response, got %q", resp.Content)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary should not be called, got %d calls", secondary.calls)
	}
}

func TestFallbackOnPrimaryFailure(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("rate limited")}
	secondary := &stubProvider{name: "secondary", resp: &Response{Content: "backup"}}
	f := NewFallbackProvider([]Provider{primary, secondary}, discardLogger())

	resp, err := f.SendMessage(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "backup" {
		t.Errorf("expected secondary response, got %q", resp.Content)
	}
}

func TestFallbackAllFail(t *testing.T) {
	failure := errors.New("down")
	primary := &stubProvider{name: "primary", err: errors.New("rate limited")}
	secondary := &stubProvider{name: "secondary", err: failure}
	f := NewFallbackProvider([]Provider{primary, secondary}, discardLogger())

	_, err := f.SendMessage(context.Background(), &Request{})
	if err == nil {
		t.Fatal("expected error when all providers fail")
	}
	if !errors.Is(err, failure) {
		t.Errorf("expected last error to be wrapped, got %v", err)
	}
}

func TestFallbackName(t *testing.T) {
	f := NewFallbackProvider([]Provider{&stubProvider{name: "gemini"}}, discardLogger())
	if got := f.Name(); got != "gemini+fallback" {
		t.Errorf("unexpected name %q", got)
	}
}

package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/moturi311/securechat/backend/internal/model/chat"
	"github.com/moturi311/securechat/backend/internal/model/persona"
)

type fakeRunnable struct {
	reply string
	err   error
}

func (f *fakeRunnable) Invoke(_ context.Context, _ map[string]any, _ ...compose.Option) (*schema.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeRunnable) Stream(_ context.Context, _ map[string]any, _ ...compose.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRunnable) Collect(_ context.Context, _ *schema.StreamReader[map[string]any], _ ...compose.Option) (*schema.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRunnable) Transform(_ context.Context, _ *schema.StreamReader[map[string]any], _ ...compose.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

type fakeHistory struct {
	messages []chat.Message
	err      error
}

func (f *fakeHistory) RecentMessages(_ context.Context, _, _ string, _ int) ([]chat.Message, error) {
	return f.messages, f.err
}

func newTestService(runnable compose.Runnable[map[string]any, *schema.Message], history HistorySource) *Service {
	return &Service{
		chain:    runnable,
		personas: persona.NewMemoryStore(persona.Seed()),
		history:  history,
		timeout:  time.Second,
		logger:   zerolog.Nop(),
	}
}

func TestGenerateReplySuccess(t *testing.T) {
	svc := newTestService(&fakeRunnable{reply: "We ship overnight."}, &fakeHistory{})

	got := svc.GenerateReply(context.Background(), "How fast do you ship?", "seller1", "buyer1")
	if got != "We ship overnight." {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestGenerateReplyFallbackOnError(t *testing.T) {
	svc := newTestService(&fakeRunnable{err: errors.New("upstream down")}, &fakeHistory{})

	got := svc.GenerateReply(context.Background(), "hello?", "seller1", "buyer1")
	if got != FallbackReply {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestGenerateReplyFallbackOnEmptyContent(t *testing.T) {
	svc := newTestService(&fakeRunnable{reply: "   "}, &fakeHistory{})

	got := svc.GenerateReply(context.Background(), "hello?", "seller1", "buyer1")
	if got != FallbackReply {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestGenerateReplySurvivesHistoryFailure(t *testing.T) {
	svc := newTestService(&fakeRunnable{reply: "Still here."}, &fakeHistory{err: errors.New("store down")})

	got := svc.GenerateReply(context.Background(), "anyone there?", "seller1", "buyer1")
	if got != "Still here." {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	p, ok := persona.NewMemoryStore(persona.Seed()).FindByID("seller1")
	if !ok {
		t.Fatal("seed persona missing")
	}

	transcript := []chat.Message{
		{Sender: "buyer1", Content: "Is the laptop in stock?"},
		{Sender: "seller1", Content: "Yes, three units left."},
	}

	got := BuildSystemPrompt(p, "buyer1", transcript)
	for _, want := range []string{
		p.Personality,
		"Your name is TechPro Electronics.",
		"You are chatting with buyer1.",
		"Recent conversation history:",
		"buyer1: Is the laptop in stock?",
		"seller1: Yes, three units left.",
		"personality style (professional_technical)",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestBuildSystemPromptDefaults(t *testing.T) {
	got := BuildSystemPrompt(persona.Default(), "", nil)
	if !strings.Contains(got, "You are chatting with a customer.") {
		t.Fatalf("expected anonymous customer fallback:\n%s", got)
	}
	if strings.Contains(got, "Recent conversation history:") {
		t.Fatalf("empty transcript must not render a history section:\n%s", got)
	}
}

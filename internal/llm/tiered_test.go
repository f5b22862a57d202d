package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeProvider scripts one tier. frags are streamed before err (if any).
type fakeProvider struct {
	label string
	text  string
	frags []string
	err   error
	calls int
}

func (f *fakeProvider) Label() string { return f.label }

func (f *fakeProvider) Chat(ctx context.Context, system, user string) (string, Usage, error) {
	f.calls++
	if f.err != nil {
		return "", Usage{}, f.err
	}
	return f.text, Usage{}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, system, user string) (<-chan string, <-chan error) {
	f.calls++
	fragCh := make(chan string, len(f.frags))
	errCh := make(chan error, 1)
	for _, s := range f.frags {
		fragCh <- s
	}
	if f.err != nil {
		errCh <- f.err
	}
	close(fragCh)
	close(errCh)
	return fragCh, errCh
}

func drain(frags <-chan string, errs <-chan error) (string, error) {
	var sb strings.Builder
	for f := range frags {
		sb.WriteString(f)
	}
	return sb.String(), <-errs
}

func TestTieredGenerate_PrimarySuccess(t *testing.T) {
	// Generate returns the primary result when the primary succeeds
	p := &fakeProvider{label: "P", text: "primary"}
	s := &fakeProvider{label: "S", text: "secondary"}
	got, err := NewTiered(p, s).Generate(context.Background(), Request{Prompt: "x"})
	if err != nil || got != "primary" {
		t.Fatalf("got (%q, %v), want (primary, nil)", got, err)
	}
	if s.calls != 0 {
		t.Errorf("secondary called %d times, want 0", s.calls)
	}
}

func TestTieredGenerate_FallsBackOnce(t *testing.T) {
	// Generate retries exactly once on the secondary when the primary fails
	p := &fakeProvider{label: "P", err: errors.New("timeout")}
	s := &fakeProvider{label: "S", text: "secondary"}
	got, err := NewTiered(p, s).Generate(context.Background(), Request{Prompt: "x"})
	if err != nil || got != "secondary" {
		t.Fatalf("got (%q, %v), want (secondary, nil)", got, err)
	}
	if s.calls != 1 {
		t.Errorf("secondary called %d times, want 1", s.calls)
	}
}

func TestTieredGenerate_BothFail(t *testing.T) {
	// Generate returns an error wrapping both failures when both tiers fail
	p := &fakeProvider{label: "P", err: errors.New("quota")}
	s := &fakeProvider{label: "S", err: errors.New("malformed")}
	_, err := NewTiered(p, s).Generate(context.Background(), Request{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "quota") || !strings.Contains(err.Error(), "malformed") {
		t.Errorf("error %q should mention both failures", err)
	}
}

func TestTieredGenerate_NoSecondary(t *testing.T) {
	// A nil secondary disables fallback
	p := &fakeProvider{label: "P", err: errors.New("down")}
	if _, err := NewTiered(p, nil).Generate(context.Background(), Request{}); err == nil {
		t.Error("expected error without secondary")
	}
}

func TestTieredStream_FallsBackBeforeFirstFragment(t *testing.T) {
	// Stream falls back only when the primary failed before its first fragment
	p := &fakeProvider{label: "P", err: errors.New("connect refused")}
	s := &fakeProvider{label: "S", frags: []string{"a", "b"}}
	text, err := drain(NewTiered(p, s).Stream(context.Background(), Request{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "ab" {
		t.Errorf("text = %q, want ab", text)
	}
}

func TestTieredStream_MidStreamFailureNotRetried(t *testing.T) {
	// Stream surfaces a mid-stream primary failure without retrying
	p := &fakeProvider{label: "P", frags: []string{"partial"}, err: errors.New("reset")}
	s := &fakeProvider{label: "S", frags: []string{"dup"}}
	text, err := drain(NewTiered(p, s).Stream(context.Background(), Request{}))
	if err == nil {
		t.Fatal("expected error")
	}
	if text != "partial" {
		t.Errorf("text = %q, want partial", text)
	}
	if s.calls != 0 {
		t.Errorf("secondary called %d times, want 0", s.calls)
	}
}

func TestTieredStream_NoPrimary(t *testing.T) {
	_, err := drain(NewTiered(nil, nil).Stream(context.Background(), Request{}))
	if !errors.Is(err, ErrNoProvider) {
		t.Errorf("err = %v, want ErrNoProvider", err)
	}
}

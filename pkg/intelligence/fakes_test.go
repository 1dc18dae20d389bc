package intelligence

import (
	"context"
	"errors"
	"time"

	"github.com/mnemo-labs/mnemo-go/pkg/llm"
)

// fakeProvider returns canned responses and counts calls.
type fakeProvider struct {
	responses []string
	err       error
	delay     time.Duration
	calls     int
	prompts   []string

	deadlines   []time.Time
	deadlineSet []bool
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	deadline, ok := ctx.Deadline()
	f.deadlines = append(f.deadlines, deadline)
	f.deadlineSet = append(f.deadlineSet, ok)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("no canned response")
	}
	response := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return response, nil
}

func (f *fakeProvider) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	return f.Generate(ctx, "")
}

func (f *fakeProvider) Close() error { return nil }

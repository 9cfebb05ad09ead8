// Package llmtest provides a scripted llm.Generator for tests.
package llmtest

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"

	"github.com/ashureev/salesbot/internal/llm"
)

// ErrNoRule is returned when no rule matches a call.
var ErrNoRule = errors.New("llmtest: no rule matches prompt")

// Rule scripts the response to calls that match it.
// A rule matches when every non-empty matcher matches.
type Rule struct {
	// Schema matches the requested schema name.
	Schema string
	// Contains matches a substring of the prompt.
	Contains string

	// Reply is returned by Complete and split into Chunks by Stream.
	Reply string
	// Chunks overrides how Stream splits Reply.
	Chunks []string
	// Err fails the call. For Stream it is yielded after Chunks.
	Err error
	// Gate blocks the call until it is closed or the context ends.
	Gate <-chan struct{}
}

// Call records one invocation.
type Call struct {
	Method  string
	Prompt  string
	Request llm.Request
}

// Generator returns scripted responses in rule order.
type Generator struct {
	mu    sync.Mutex
	rules []Rule
	calls []Call
}

// New creates a Generator with rules.
func New(rules ...Rule) *Generator {
	return &Generator{rules: rules}
}

// Add appends a rule.
func (g *Generator) Add(r Rule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, r)
}

// Calls returns a copy of the recorded calls.
func (g *Generator) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// CallCount returns how many calls had a prompt containing substr.
func (g *Generator) CallCount(substr string) int {
	n := 0
	for _, c := range g.Calls() {
		if strings.Contains(c.Prompt, substr) {
			n++
		}
	}
	return n
}

// Complete implements llm.Generator.
func (g *Generator) Complete(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	rule, err := g.match("Complete", prompt, opts)
	if err != nil {
		return "", err
	}
	if err := wait(ctx, rule.Gate); err != nil {
		return "", err
	}
	if rule.Err != nil {
		return "", rule.Err
	}
	return rule.Reply, nil
}

// Stream implements llm.Generator.
func (g *Generator) Stream(ctx context.Context, prompt string, opts ...llm.Option) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rule, err := g.match("Stream", prompt, opts)
		if err != nil {
			yield("", err)
			return
		}
		if err := wait(ctx, rule.Gate); err != nil {
			yield("", err)
			return
		}
		chunks := rule.Chunks
		if chunks == nil && rule.Reply != "" {
			chunks = splitWords(rule.Reply)
		}
		for _, c := range chunks {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(c, nil) {
				return
			}
		}
		if rule.Err != nil {
			yield("", rule.Err)
		}
	}
}

func (g *Generator) match(method, prompt string, opts []llm.Option) (Rule, error) {
	req := llm.NewRequest(opts...)
	schema := ""
	if req.Schema != nil {
		schema = req.Schema.Name()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, Call{Method: method, Prompt: prompt, Request: req})
	for _, r := range g.rules {
		if r.Schema != "" && r.Schema != schema {
			continue
		}
		if r.Contains != "" && !strings.Contains(prompt, r.Contains) {
			continue
		}
		return r, nil
	}
	return Rule{}, ErrNoRule
}

func wait(ctx context.Context, gate <-chan struct{}) error {
	if gate == nil {
		return ctx.Err()
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// splitWords keeps separators so chunks concatenate back to s.
func splitWords(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

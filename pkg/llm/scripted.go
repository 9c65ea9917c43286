package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Scripted is a deterministic Completer for tests and offline runs. Replies
// are matched by prompt name, first registered match wins.
type Scripted struct {
	mu      sync.Mutex
	replies []scriptedReply
	calls   []Prompt
}

type scriptedReply struct {
	name  string
	reply func(Prompt) (string, error)
}

func NewScripted() *Scripted {
	return &Scripted{}
}

// On answers prompts named name with a fixed reply.
func (s *Scripted) On(name, reply string) *Scripted {
	return s.OnFunc(name, func(Prompt) (string, error) { return reply, nil })
}

// OnError fails prompts named name.
func (s *Scripted) OnError(name string, err error) *Scripted {
	return s.OnFunc(name, func(Prompt) (string, error) { return "", err })
}

// OnFunc answers prompts named name with fn.
func (s *Scripted) OnFunc(name string, fn func(Prompt) (string, error)) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.replies = append(s.replies, scriptedReply{name: name, reply: fn})

	return s
}

func (s *Scripted) Complete(_ context.Context, prompt Prompt) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, prompt)

	var reply func(Prompt) (string, error)

	for _, r := range s.replies {
		if r.name == prompt.Name {
			reply = r.reply

			break
		}
	}
	s.mu.Unlock()

	if reply == nil {
		return "", fmt.Errorf("scripted completer: no reply for %q", prompt.Name)
	}

	return reply(prompt)
}

// Calls returns the prompts received so far.
func (s *Scripted) Calls() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Prompt(nil), s.calls...)
}

// CallCount returns how many prompts with the given name were received.
func (s *Scripted) CallCount(name string) int {
	n := 0

	for _, c := range s.Calls() {
		if strings.EqualFold(c.Name, name) {
			n++
		}
	}

	return n
}

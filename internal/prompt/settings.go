package prompt

import (
	"errors"
	"strings"
	"sync"
)

var ErrBlankPrompt = errors.New("system prompt must not be blank")

// Settings holds the system prompt used to seed new conversations.
// Existing conversations keep the prompt they were created with.
type Settings struct {
	mu     sync.RWMutex
	prompt string
}

func NewSettings(initial string) (*Settings, error) {
	s := &Settings{}
	if err := s.Set(initial); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompt
}

func (s *Settings) Set(prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ErrBlankPrompt
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = prompt
	return nil
}

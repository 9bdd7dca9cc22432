package messaging

import (
	"context"
	"sync"
)

// MemorySender records messages instead of sending them.
type MemorySender struct {
	mu   sync.Mutex
	Sent []Message
	Err  error
}

func (s *MemorySender) SendTemplate(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Sent = append(s.Sent, msg)
	return nil
}

func (s *MemorySender) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sent)
}

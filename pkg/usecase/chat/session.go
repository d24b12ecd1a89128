package chat

import (
	"strings"
	"time"

	"github.com/m-mizutani/recall/pkg/model"
)

// MaxHistory is the number of exchanges a session keeps
const MaxHistory = 10

// Session is the conversation state passed to every Assistant.Ask call
type Session struct {
	ID        model.SessionID  `json:"id"`
	History   []model.Exchange `json:"history"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func NewSession() *Session {
	now := time.Now()
	return &Session{
		ID:        model.NewSessionID(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append records an exchange and drops the oldest ones beyond MaxHistory
func (s *Session) Append(ex model.Exchange) {
	s.History = append(s.History, ex)
	s.UpdatedAt = ex.CreatedAt
	s.trim()
}

func (s *Session) trim() {
	if len(s.History) > MaxHistory {
		s.History = append([]model.Exchange(nil), s.History[len(s.History)-MaxHistory:]...)
	}
}

// Transcript renders the last n exchanges as "User:" and "Assistant:" lines
func (s *Session) Transcript(n int) string {
	history := s.History
	if n > 0 && len(history) > n {
		history = history[len(history)-n:]
	}

	var b strings.Builder
	for _, ex := range history {
		b.WriteString("User: " + ex.Question + "\n")
		b.WriteString("Assistant: " + ex.Answer + "\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

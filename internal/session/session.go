package session

import (
	"slices"
	"time"

	"github.com/fusserg007/botconstructor/internal/expressions"
	"github.com/google/uuid"
)

// UserSession is the per (platform, user, chat) state that outlives a run:
// variables, free-form state and the pending input request.
type UserSession struct {
	SessionID string `json:"sessionId"`
	Platform  string `json:"platform"`
	UserID    string `json:"userId"`
	ChatID    string `json:"chatId"`

	Variables map[string]any `json:"variables"`
	State     map[string]any `json:"state"`

	// WaitingForInput implies InputVariable and NextNodes are set.
	WaitingForInput bool     `json:"waitingForInput,omitempty"`
	InputVariable   string   `json:"inputVariable,omitempty"`
	NextNodes       []string `json:"nextNodes,omitempty"`

	// ActiveExecution is the run currently serving this session, if any.
	ActiveExecution string `json:"activeExecutionId,omitempty"`

	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Key builds the session key for a (platform, user, chat) triple.
func Key(platform, userID, chatID string) string {
	return platform + ":" + userID + ":" + chatID
}

// Key returns the session's key.
func (s *UserSession) Key() string {
	return Key(s.Platform, s.UserID, s.ChatID)
}

// NewSessionID returns "session_" followed by a time-ordered UUID.
func NewSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return "session_" + id.String()
}

func newSession(platform, userID, chatID string, now time.Time) *UserSession {
	return &UserSession{
		SessionID:    NewSessionID(),
		Platform:     platform,
		UserID:       userID,
		ChatID:       chatID,
		Variables:    make(map[string]any),
		State:        make(map[string]any),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Clone returns a deep copy.
func (s *UserSession) Clone() *UserSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Variables = expressions.DeepCopyMap(s.Variables)
	cp.State = expressions.DeepCopyMap(s.State)
	cp.NextNodes = slices.Clone(s.NextNodes)
	if cp.Variables == nil {
		cp.Variables = make(map[string]any)
	}
	if cp.State == nil {
		cp.State = make(map[string]any)
	}
	return &cp
}

func (s *UserSession) clearWaiting() {
	s.WaitingForInput = false
	s.InputVariable = ""
	s.NextNodes = nil
}

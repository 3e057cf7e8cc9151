package session

// Sender identifies who produced a message
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAI     Sender = "ai"
	SenderSystem Sender = "system"
)

// Message represents a single chat message.
// ID is the creation time in milliseconds, strictly increasing within a session.
type Message struct {
	ID      int64  `json:"id"`
	Text    string `json:"text"`
	Sender  Sender `json:"sender"`
	IsError bool   `json:"is_error,omitempty"`
}

// State is the conversation state owned by one controller
type State struct {
	Messages            []Message `json:"messages"`
	Loading             bool      `json:"loading"`
	Credential          string    `json:"-"`
	CredentialConfirmed bool      `json:"credential_confirmed"`
	UseSimulated        bool      `json:"use_simulated"`
}

// Clone returns a copy of the state that shares no memory with s
func (s State) Clone() State {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

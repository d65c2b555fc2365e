package domain

// Role of a display message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one question/answer pair of the retrieval history window.
type Turn struct {
	Question string
	Answer   string
}

// Message is one entry of the display log.
type Message struct {
	Role Role
	Text string
}

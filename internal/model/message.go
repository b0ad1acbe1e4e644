package model

// Session is a conversation between two users.
type Session struct {
	SessionID    ID     `json:"sessionId"`
	Subject      string `json:"subject"`
	SenderID     ID     `json:"senderId"`
	ReceiverID   ID     `json:"receiverId"`
	CreationDate string `json:"creationDate,omitempty"`
}

type Message struct {
	MessageID ID     `json:"messageId"`
	SessionID ID     `json:"sessionId"`
	SenderID  ID     `json:"senderId"`
	Message   string `json:"message"`
	DateTime  string `json:"dateTime"`
	Read      bool   `json:"read"`
}

// ThreadMessage is a message with its sender resolved for display.
type ThreadMessage struct {
	Message
	SenderName string `json:"senderName"`
}

// InboxEntry pairs a session with the body of its latest message, empty when
// the session has none.
type InboxEntry struct {
	Session
	LatestMessage string `json:"latestMessage"`
}

type CreateSessionRequest struct {
	ReceiverEmail string `json:"receiverEmail" binding:"required,email"`
	Subject       string `json:"subject" binding:"required,notblank,max=200"`
}

type SendMessageRequest struct {
	Message string `json:"message" binding:"required,notblank,max=8000"`
}

// Backend DTOs.

type SessionCreate struct {
	SenderID   ID     `json:"senderId"`
	ReceiverID ID     `json:"receiverId"`
	Subject    string `json:"subject"`
}

type MessageCreate struct {
	SessionID ID     `json:"sessionId"`
	SenderID  ID     `json:"senderId"`
	Message   string `json:"message"`
}

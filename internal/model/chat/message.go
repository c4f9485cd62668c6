package chat

import "time"

// Message is one turn of a buyer/seller conversation. Content holds the
// plaintext on the wire and in memory; the store only ever sees ciphertext.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Sender         string    `json:"sender"`
	Receiver       string    `json:"receiver,omitempty"`
	Content        string    `json:"message"`
	IsAI           bool      `json:"is_ai,omitempty"`
	CreatedAt      time.Time `json:"timestamp"`
}

// History is one page of a conversation, oldest first.
type History struct {
	Messages   []Message `json:"messages"`
	TotalCount int       `json:"total_count"`
	HasMore    bool      `json:"has_more"`
}

// ConversationSummary describes one conversation from a single user's side.
type ConversationSummary struct {
	ConversationID string     `json:"conversation_id"`
	Partner        string     `json:"partner"`
	PartnerRole    Role       `json:"partner_role"`
	LastMessageAt  *time.Time `json:"last_message_time"`
	MessageCount   int        `json:"message_count"`
}

// Statistics aggregates a user's activity over a trailing window.
type Statistics struct {
	TotalMessages  int `json:"total_messages"`
	UniquePartners int `json:"unique_partners"`
	ActiveDays     int `json:"active_days"`
	PeriodDays     int `json:"period_days"`
}

package store

import (
	"context"
	"errors"

	"github.com/moturi311/securechat/backend/internal/model/chat"
)

var (
	// ErrUserNotFound means a participant name did not resolve. Callers get
	// no detail about which side was invalid.
	ErrUserNotFound = errors.New("user not found")
	// ErrMessageNotFound means the message id did not resolve to a row.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotSender rejects a delete attempted by anyone but the original
	// sender.
	ErrNotSender = errors.New("only the original sender may delete a message")
)

// Store is the durable conversation/message store. Message bodies cross this
// boundary as ciphertext only; history and search decrypt on the way out and
// skip records that fail to decrypt.
type Store interface {
	Close() error
	Ping(ctx context.Context) error

	// User directory.
	CreateUser(ctx context.Context, username string, role chat.Role) (chat.User, error)
	ResolveUser(ctx context.Context, username string) (chat.User, error)
	ListUsersByRole(ctx context.Context, role chat.Role) ([]string, error)

	// Conversations and messages.
	GetOrCreateConversation(ctx context.Context, buyerID, sellerID string) (string, error)
	SaveMessage(ctx context.Context, sender, receiver, ciphertext string, isAI bool) (chat.Message, error)
	GetHistory(ctx context.Context, nameA, nameB string, limit, offset int) (chat.History, error)
	RecentMessages(ctx context.Context, nameA, nameB string, limit int) ([]chat.Message, error)
	ListRecentConversations(ctx context.Context, username string, limit int) ([]chat.ConversationSummary, error)
	SearchMessages(ctx context.Context, username, partner, query string, limit int) ([]chat.Message, error)
	GetStatistics(ctx context.Context, username string, windowDays int) (chat.Statistics, error)
	DeleteMessage(ctx context.Context, messageID, requester string) error
}

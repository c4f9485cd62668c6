package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moturi311/securechat/backend/internal/crypto"
	"github.com/moturi311/securechat/backend/internal/hub"
	"github.com/moturi311/securechat/backend/internal/model/chat"
)

// Status is the caller-visible outcome of a send. There is no
// partially-delivered state.
type Status string

const (
	// StatusDelivered means the message (and its AI reply, when one was
	// due) was persisted and broadcast.
	StatusDelivered Status = "delivered"
	// StatusRejected means identity or role validation failed; nothing was
	// persisted or broadcast.
	StatusRejected Status = "rejected"
	// StatusSendFailed means the primary message could not be persisted;
	// nothing was broadcast.
	StatusSendFailed Status = "send_failed"
	// StatusAIUnavailable means the primary message was delivered but the
	// AI reply leg failed to persist.
	StatusAIUnavailable Status = "ai_unavailable"
)

// Result reports what a send produced.
type Result struct {
	Status  Status
	Message chat.Message
	Reply   *chat.Message
}

// DeliveryEvent is the outbound payload fanned out to room subscribers.
type DeliveryEvent struct {
	Type      string    `json:"type"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Message   string    `json:"message"`
	IsAI      bool      `json:"is_ai"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageStore is the slice of the persistence store the pipeline needs.
type MessageStore interface {
	ResolveUser(ctx context.Context, username string) (chat.User, error)
	SaveMessage(ctx context.Context, sender, receiver, ciphertext string, isAI bool) (chat.Message, error)
}

// Broadcaster fans a payload out to the sessions joined to a room.
type Broadcaster interface {
	Broadcast(room string, payload any) error
}

// ReplyGenerator produces the seller-side AI reply. It never fails; on any
// internal error it returns fallback text.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, message, sellerName, buyerName string) string
}

// Pipeline orchestrates a send: validate, encrypt, persist, broadcast, and
// for buyer-to-seller traffic generate and re-inject the persona reply
// through the same path.
type Pipeline struct {
	store       MessageStore
	cipher      *crypto.Cipher
	broadcaster Broadcaster
	replies     ReplyGenerator // nil disables the AI leg
	logger      zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPipeline wires the send path. Pass a nil replies to run without AI.
func NewPipeline(store MessageStore, cipher *crypto.Cipher, broadcaster Broadcaster, replies ReplyGenerator, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:       store,
		cipher:      cipher,
		broadcaster: broadcaster,
		replies:     replies,
		logger:      logger,
		locks:       make(map[string]*sync.Mutex),
	}
}

// HandleSend processes one inbound message. Messages within one
// conversation are persisted and broadcast in the order their sends enter
// the pipeline; the per-conversation lock also keeps the human message and
// its AI reply adjacent. Unrelated conversations proceed in parallel.
func (p *Pipeline) HandleSend(ctx context.Context, sender, receiver, text string) Result {
	senderUser, err := p.store.ResolveUser(ctx, sender)
	if err != nil {
		return Result{Status: StatusRejected}
	}
	receiverUser, err := p.store.ResolveUser(ctx, receiver)
	if err != nil {
		return Result{Status: StatusRejected}
	}
	if !chat.ValidPairing(senderUser.Role, receiverUser.Role) {
		return Result{Status: StatusRejected}
	}

	lock := p.conversationLock(hub.RoomKey(sender, receiver))
	lock.Lock()
	defer lock.Unlock()

	msg, ok := p.persistAndBroadcast(ctx, sender, receiver, text, false)
	if !ok {
		return Result{Status: StatusSendFailed}
	}

	result := Result{Status: StatusDelivered, Message: msg}
	if p.replies == nil || senderUser.Role != chat.RoleBuyer {
		return result
	}

	// The reply is a normal send in the reverse direction, tagged as
	// machine-generated. Generation itself cannot fail (fallback text),
	// only its persistence can.
	reply := p.replies.GenerateReply(ctx, text, receiver, sender)
	replyMsg, ok := p.persistAndBroadcast(ctx, receiver, sender, reply, true)
	if !ok {
		result.Status = StatusAIUnavailable
		return result
	}
	result.Reply = &replyMsg
	return result
}

// persistAndBroadcast encrypts, writes through the store and fans the
// plaintext event out to the pair's room. A persistence failure means no
// broadcast: an unsaved message is never delivered.
func (p *Pipeline) persistAndBroadcast(ctx context.Context, sender, receiver, text string, isAI bool) (chat.Message, bool) {
	ciphertext, err := p.cipher.Encrypt(text)
	if err != nil {
		p.logger.Error().Err(err).Msg("encrypt failed")
		return chat.Message{}, false
	}

	msg, err := p.store.SaveMessage(ctx, sender, receiver, ciphertext, isAI)
	if err != nil {
		p.logger.Error().Err(err).Str("sender", sender).Str("receiver", receiver).Msg("persist failed")
		return chat.Message{}, false
	}
	msg.Content = text

	event := DeliveryEvent{
		Type:      "receive_message",
		Sender:    sender,
		Receiver:  receiver,
		Message:   text,
		IsAI:      isAI,
		Timestamp: msg.CreatedAt,
	}
	if err := p.broadcaster.Broadcast(hub.RoomKey(sender, receiver), event); err != nil {
		p.logger.Error().Err(err).Msg("broadcast failed")
	}
	return msg, true
}

func (p *Pipeline) conversationLock(room string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[room]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[room] = lock
	}
	return lock
}

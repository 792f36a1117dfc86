package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// DeliveryDestination is the per-user broker path messages are pushed on.
const DeliveryDestination = "/queue/messages"

// Router handles every inbound chat.send frame: it checks the bound
// principal, resolves the recipient, persists the message and forwards the
// persisted record to each of the recipient's open connections.
type Router struct {
	log       *slog.Logger
	registry  contract.IRegistry
	messages  repositories.IMessageRepository
	users     repositories.IUserRepository
	moderator *moderation.Moderator
	stats     *observability.RelayStats
	validate  *validator.Validate
}

func NewRouter(
	log *slog.Logger,
	registry contract.IRegistry,
	messages repositories.IMessageRepository,
	users repositories.IUserRepository,
	moderator *moderation.Moderator,
	stats *observability.RelayStats,
) *Router {
	return &Router{
		log:       log,
		registry:  registry,
		messages:  messages,
		users:     users,
		moderator: moderator,
		stats:     stats,
		validate:  validator.New(),
	}
}

// HandleSend processes one send frame from conn.
//
// Persistence completes before any delivery is attempted; a failed write
// skips delivery entirely so the caller can retry. An offline recipient is
// not an error: the message stays persisted and the returned record reports
// what was stored. Failures are local to this call and never tear down the
// connection.
func (r *Router) HandleSend(ctx context.Context, conn contract.Connection, cmd domain.SendCommand) (domain.Message, error) {
	sender, bound := conn.Principal()
	if !bound {
		r.stats.IncrSendRejected()
		return domain.Message{}, errors.ErrUnboundPrincipal
	}

	if err := r.validate.StructCtx(ctx, cmd); err != nil {
		r.stats.IncrSendRejected()
		return domain.Message{}, fmt.Errorf("invalid send payload: %w", err)
	}
	if cmd.RecipientID == sender.ID {
		r.stats.IncrSendRejected()
		return domain.Message{}, errors.ErrSelfAddressed
	}

	recipient, err := r.users.GetByID(cmd.RecipientID)
	if err != nil {
		r.stats.IncrSendRejected()
		return domain.Message{}, fmt.Errorf("%w: id %d", errors.ErrUnknownRecipient, cmd.RecipientID)
	}

	content := cmd.Content
	if r.moderator != nil {
		censored, found := r.moderator.Censor(content)
		if len(found) > 0 {
			r.log.Warn("Censored message content",
				"sender", sender.Username,
				"lang", moderation.Language(content),
				"words", len(found))
			content = censored
		}
	}

	message := domain.Message{
		ID:          uuid.New(),
		SenderID:    sender.ID,
		RecipientID: recipient.ID,
		Content:     content,
		At:          time.Now().UTC(),
	}
	if err := r.messages.StoreMessage(message); err != nil {
		r.log.Error("Message persistence failed", "sender", sender.ID, "err", err)
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrStoreFailure, err)
	}
	r.stats.IncrPersisted()

	conns := r.registry.ConnectionsFor(recipient.ID)
	if len(conns) == 0 {
		r.stats.IncrOfflineStore()
		r.log.Debug("Recipient offline, message stored only", "recipient", recipient.ID)
		return message, nil
	}

	delivered := 0
	for _, target := range conns {
		if err := target.Deliver(DeliveryDestination, message); err != nil {
			// A connection that cannot take the frame is dead; drop it so no
			// later send goes through a stale handle.
			r.log.Warn("Delivery failed, dropping connection",
				"session", target.ID(), "recipient", recipient.ID, "err", err)
			r.registry.Unregister(target)
			continue
		}
		delivered++
	}
	r.stats.AddDelivered(delivered)

	return message, nil
}

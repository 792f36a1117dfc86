//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"chat-relay/domain"

	"github.com/dgraph-io/badger/v4"
)

type IMessageRepository interface {
	StoreMessage(message domain.Message) error
	GetConversation(userA, userB int64, cursor *string) ([]domain.Message, *string, error)
}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

// StoreMessage persists a message in BadgerDB.
// The key is formatted as "msg:{pair}:{timestamp_padded}:{uuid}" to:
//  1. Group both directions of a conversation under one prefix, since the
//     pair component is the sorted participant ids.
//  2. Ensure chronological sorting using 19-digit zero padding
//     (lexicographical order).
//  3. Prevent data loss by using the message UUID as a collision
//     disconnector if two messages arrive at the same nanosecond.
func (m MessageRepository) StoreMessage(message domain.Message) error {
	key := fmt.Sprintf("msg:%s:%019d:%s",
		pairKey(message.SenderID, message.RecipientID),
		message.At.UnixNano(),
		message.ID,
	)
	bytes, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// GetConversation retrieves the messages exchanged between two users using a
// prefix scan, newest first. Thanks to the padded timestamp in the key the
// scan needs no sort step. It stops once the configured limitMessages is
// reached and returns the cursor of the last visited key for pagination.
func (m MessageRepository) GetConversation(userA, userB int64, cursor *string) ([]domain.Message, *string, error) {
	var rawValues [][]byte
	var lastKey string
	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := fmt.Sprintf("msg:%s:", pairKey(userA, userB))
		prefix := []byte(prefixStr)
		prefixLen := len(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Seek past the newest possible timestamp, then walk backwards.
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(rawValues) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d messages reached", *m.limitMessages))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[prefixLen:])
			err := item.Value(func(value []byte) error {
				rawValues = append(rawValues, append([]byte(nil), value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	messages := make([]domain.Message, 0, len(rawValues))
	for _, b := range rawValues {
		var message domain.Message
		if err = json.Unmarshal(b, &message); err != nil {
			return nil, nil, err
		}
		messages = append(messages, message)
	}
	// An untouched lastKey means the scan visited nothing; a nil cursor tells
	// the caller there is no further page.
	if lastKey == "" {
		return messages, nil, nil
	}
	return messages, &lastKey, nil
}

// pairKey yields the same component for both directions of a conversation.
func pairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d-%d", a, b)
}

//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"chat-relay/domain"
	"chat-relay/errors"

	"github.com/dgraph-io/badger/v4"
)

type IUserRepository interface {
	CreateUser(username, hashedPassword string) (domain.Identity, error)
	GetByID(id int64) (domain.Identity, error)
	GetByUsername(username string) (domain.Identity, error)
}

type UserRepository struct {
	db  *badger.DB
	seq *badger.Sequence
}

// User is the stored representation of an account. Only the identity part
// leaves the repository; the password hash stays internal to provisioning.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

func NewUserRepository(db *badger.DB) (*UserRepository, error) {
	seq, err := db.GetSequence([]byte("seq:user"), 64)
	if err != nil {
		return nil, fmt.Errorf("user id sequence: %w", err)
	}
	return &UserRepository{db: db, seq: seq}, nil
}

// Close releases the unclaimed part of the id sequence.
func (u *UserRepository) Close() error {
	return u.seq.Release()
}

// CreateUser persists a new account under a fresh numeric id and indexes it
// by username. The username must be unique.
func (u *UserRepository) CreateUser(username, hashedPassword string) (domain.Identity, error) {
	next, err := u.seq.Next()
	if err != nil {
		return domain.Identity{}, err
	}
	// Sequence starts at 0; ids are 1-based so an absent id never collides
	// with the zero value.
	newID := int64(next) + 1

	user := User{
		ID:           newID,
		Username:     username,
		PasswordHash: hashedPassword,
		CreatedAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(user)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("marshal failed: %w", err)
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		nameKey := []byte("user:name:" + username)
		if _, err := txn.Get(nameKey); err == nil {
			return errors.ErrUserAlreadyExists
		}
		if err := txn.Set(nameKey, idBytes(newID)); err != nil {
			return err
		}
		return txn.Set(idKey(newID), data)
	})
	if err != nil {
		return domain.Identity{}, err
	}

	return domain.Identity{ID: newID, Username: username}, nil
}

// GetByID resolves a numeric user id to its identity.
// Returns ErrUserNotFound for ids that were never issued.
func (u *UserRepository) GetByID(id int64) (domain.Identity, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &user)
		})
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return domain.Identity{}, errors.ErrUserNotFound
		}
		return domain.Identity{}, err
	}
	return domain.Identity{ID: user.ID, Username: user.Username}, nil
}

// GetByUsername resolves a handle through the username index.
func (u *UserRepository) GetByUsername(username string) (domain.Identity, error) {
	var id int64
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("user:name:" + username))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = int64(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return domain.Identity{}, errors.ErrUserNotFound
		}
		return domain.Identity{}, err
	}
	return u.GetByID(id)
}

func idKey(id int64) []byte {
	return []byte(fmt.Sprintf("user:id:%d", id))
}

func idBytes(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

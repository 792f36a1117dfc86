//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
)

// Connection is one open transport-level session. It is created by a
// successful handshake and owned by the registry once registered.
//
// Principal reports the identity bound on the first connect frame; the second
// return value is false while the connection is still unbound. Deliver pushes
// a persisted message towards the client and must never block the caller: a
// connection that cannot accept the frame returns an error and is treated as
// dead by the router.
type Connection interface {
	ID() string
	Principal() (domain.Identity, bool)
	Deliver(destination string, msg domain.Message) error
}

// IRegistry is the process-wide table mapping an identity to the set of its
// currently open connections.
type IRegistry interface {
	Register(identity domain.Identity, conn Connection)
	Unregister(conn Connection)
	ConnectionsFor(id int64) []Connection
}

package domain

// Identity describes an account as the relay sees it: the opaque numeric key
// used for routing and storage, plus the human-readable handle shown to peers.
// Identities are resolved externally and never mutated here.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

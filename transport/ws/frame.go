package ws

import "chat-relay/domain"

// Frame types exchanged over one socket. "connect" is the protocol-level
// control frame that establishes the logical session, distinct from the
// transport upgrade that preceded it.
const (
	FrameConnect   = "connect"
	FrameConnected = "connected"
	FrameSend      = "send"
	FrameMessage   = "message"
	FrameError     = "error"
)

// RouteChatSend is the only application route of the relay.
const RouteChatSend = "chat.send"

// Error codes carried by error frames.
const (
	CodeUnauthenticated  = "unauthenticated"
	CodeInvalidPayload   = "invalid_payload"
	CodeUnknownRecipient = "unknown_recipient"
	CodeStoreFailure     = "store_failure"
	CodeUnknownRoute     = "unknown_route"
)

// Frame is the JSON envelope for every message on the wire, client and
// server side alike. Only the fields relevant to the frame type are set.
type Frame struct {
	Type        string              `json:"frame"`
	Route       string              `json:"route,omitempty"`
	Destination string              `json:"destination,omitempty"`
	User        string              `json:"user,omitempty"`
	Payload     *domain.SendCommand `json:"payload,omitempty"`
	Message     *domain.Message     `json:"message,omitempty"`
	Code        string              `json:"code,omitempty"`
	Detail      string              `json:"detail,omitempty"`
}

func errorFrame(code, detail string) Frame {
	return Frame{Type: FrameError, Code: code, Detail: detail}
}

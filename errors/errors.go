package errors

import "fmt"

var (
	ErrInvalidToken     = fmt.Errorf("invalid or expired token")
	ErrUnboundPrincipal = fmt.Errorf("no principal bound to connection")
	ErrUnknownRecipient = fmt.Errorf("recipient does not exist")
	ErrSelfAddressed    = fmt.Errorf("sender and recipient must differ")
	ErrStoreFailure     = fmt.Errorf("message could not be persisted")

	ErrUserAlreadyExists = fmt.Errorf("username already taken")
	ErrUserNotFound      = fmt.Errorf("user not found")
	ErrInvalidPassword   = fmt.Errorf("password does not meet complexity rules")
	ErrTokenGeneration   = fmt.Errorf("token generation failed")
)

package model

import "errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrQuestionBankUnavailable = errors.New("question bank unavailable")
	ErrInvitationVerification  = errors.New("email does not match the inviter's address")
	ErrInvitationConsumed      = errors.New("invitation already used by another partner")
	ErrRendezvousIncomplete    = errors.New("partner answers could not be located")
	ErrInvalidTransition       = errors.New("operation not allowed in current state")
	ErrInvalidInput            = errors.New("invalid input")
	ErrSessionClosed           = errors.New("session is closed")
	ErrUnknownQuestion         = errors.New("unknown question")
	ErrNotTwoParty             = errors.New("test does not support invitations")
	ErrInvalidEmail            = errors.New("invalid email address")
	ErrNotificationSuppressed  = errors.New("notification suppressed by cooldown")
)

package domain

import (
	"errors"
	"fmt"
)

// Failure kinds of the invoice lifecycle, settlement and dunning paths. Each
// error built below wraps exactly one of them, so callers branch with
// errors.Is whatever the Op or Message.
var (
	// ErrInvalidTransition: the invoice is left unchanged.
	ErrInvalidTransition = &Error{Code: ECONFLICT, Message: "invalid invoice state transition"}

	// ErrReconciliation: the payment event was parked as an issue.
	ErrReconciliation = &Error{Code: EUNPROCESSABLE, Message: "payment could not be reconciled"}

	// ErrAuthentication: webhook signature rejected.
	ErrAuthentication = &Error{Code: EUNAUTHORIZED, Message: "invalid signature"}

	ErrDelivery = &Error{Code: EUNAVAILABLE, Message: "notification delivery failed"}

	// ErrCascade: deactivation rolled back.
	ErrCascade = &Error{Code: ECONFLICT, Message: "customer cascade cancellation failed"}
)

func kindError(kind *Error, op, message string, causes ...error) error {
	return &Error{
		Code:    kind.Code,
		Op:      op,
		Message: message,
		Err:     errors.Join(append([]error{kind}, causes...)...),
	}
}

// InvalidTransition reports that invoice number cannot move from one status to another.
func InvalidTransition(op, number string, from, to Status) error {
	return kindError(ErrInvalidTransition, op, fmt.Sprintf("invoice %s cannot move from %s to %s", number, from, to))
}

// SettlementConflict reports a second, different settlement of a paid invoice.
func SettlementConflict(op, number, existingRef string) error {
	return kindError(ErrInvalidTransition, op,
		fmt.Sprintf("invoice %s is already paid by %s", number, existingRef), ErrSettlementRefConflict)
}

func ReconciliationFailure(op string, reason IssueReason, detail string) error {
	return kindError(ErrReconciliation, op, fmt.Sprintf("%s: %s", reason, detail))
}

// AuthenticationFailure keeps cause for the logs; the message stays generic.
func AuthenticationFailure(op string, cause error) error {
	return kindError(ErrAuthentication, op, ErrAuthentication.Message, cause)
}

func DeliveryFailure(op, number string, cause error) error {
	return kindError(ErrDelivery, op, fmt.Sprintf("reminder for invoice %s not delivered", number), cause)
}

func CascadeFailure(op, customerID string, cause error) error {
	return kindError(ErrCascade, op,
		fmt.Sprintf("cancelling open invoices of customer %s failed, nothing was changed", customerID), cause)
}

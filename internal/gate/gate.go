// Package gate decides whether a request may reach a role-protected view.
package gate

import (
	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/internal/session"
)

type Decision string

const (
	// Pending means a sign-in round-trip has started but not finished.
	Pending         Decision = "pending"
	Unauthenticated Decision = "unauthenticated"
	Denied          Decision = "denied"
	Allowed         Decision = "allowed"
	// Error means the identity provider reported a failure for the session.
	Error Decision = "error"
)

// Evaluate maps a session status and the caller's roles onto a decision. An
// empty status means there is no session. A request is allowed when its
// roles intersect allowed; an empty allowed set admits nobody.
func Evaluate(status session.Status, roles []string, allowed []model.Role) Decision {
	switch status {
	case session.StatusPending:
		return Pending
	case session.StatusError:
		return Error
	case session.StatusAuthenticated:
	default:
		return Unauthenticated
	}

	for _, r := range allowed {
		if model.HasRole(roles, r) {
			return Allowed
		}
	}
	return Denied
}

package auth

import (
	"slices"

	"github.com/cimillas/ticket-ledger/internal/domain"
)

// Action names a gated operation.
type Action string

const (
	ActionManageEvents  Action = "manage_events"
	ActionRedeemTickets Action = "redeem_tickets"
)

const RoleAdmin = "admin"

// Principal is the authenticated caller. The zero value is anonymous.
type Principal struct {
	Subject string
	Roles   []string
}

func (p Principal) Anonymous() bool {
	return p.Subject == ""
}

func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// Policy maps each gated action to the roles allowed to perform it.
type Policy struct {
	allowed map[Action][]string
}

// NewPolicy returns a policy that grants every action to adminRole only.
func NewPolicy(adminRole string) Policy {
	if adminRole == "" {
		adminRole = RoleAdmin
	}
	return Policy{allowed: map[Action][]string{
		ActionManageEvents:  {adminRole},
		ActionRedeemTickets: {adminRole},
	}}
}

// Allow returns a copy of the policy that also grants action to roles.
func (p Policy) Allow(action Action, roles ...string) Policy {
	next := make(map[Action][]string, len(p.allowed))
	for a, r := range p.allowed {
		next[a] = slices.Clone(r)
	}
	for _, role := range roles {
		if role != "" && !slices.Contains(next[action], role) {
			next[action] = append(next[action], role)
		}
	}
	return Policy{allowed: next}
}

// Authorize returns domain.ErrUnauthorized unless the principal holds a role allowed for action.
func (p Policy) Authorize(principal Principal, action Action) error {
	if principal.Anonymous() {
		return domain.ErrUnauthorized
	}
	for _, role := range p.allowed[action] {
		if principal.HasRole(role) {
			return nil
		}
	}
	return domain.ErrUnauthorized
}

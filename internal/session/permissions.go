package session

import "github.com/agis/agenda/internal/contract"

// satisfies reports whether a user holding current may act with the required
// capability. Admin is a superset of professional only; patient is exclusive.
func satisfies(current, required contract.Role) bool {
	switch required {
	case contract.RoleAdmin:
		return current == contract.RoleAdmin
	case contract.RoleProfessional:
		return current == contract.RoleProfessional || current == contract.RoleAdmin
	case contract.RolePatient:
		return current == contract.RolePatient
	default:
		return false
	}
}

func satisfiesAny(current contract.Role, required []contract.Role) bool {
	for _, r := range required {
		if satisfies(current, r) {
			return true
		}
	}
	return false
}

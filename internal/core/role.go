package core

import "fmt"

// Role identifies which side of a conversation a user belongs to.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// ParseRole validates a role string coming from a token or request body.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePatient, RoleDoctor:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

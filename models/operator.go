package models

const (
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

// Operator is a staff account allowed to sign in at the gate.
type Operator struct {
	ID           string `json:"id" yaml:"id"`
	Email        string `json:"email" yaml:"email"`
	Name         string `json:"name" yaml:"name"`
	Role         string `json:"role" yaml:"role"`
	PasswordHash string `json:"-" yaml:"-"`
}

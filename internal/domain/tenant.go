package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxTenantNameLen = 200

// Tenant owns every record, job and document created with its API key.
type Tenant struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NormalizeTenantName trims and collapses whitespace in a tenant name.
func NormalizeTenantName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len(name) > maxTenantNameLen {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrValidation, maxTenantNameLen)
	}
	return name, nil
}

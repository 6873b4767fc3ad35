package users

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
)

// ContactDTO is the buyer contact used to prefill the gateway checkout form.
type ContactDTO struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Phone *string   `json:"phone,omitempty"`
}

func ContactFromModel(u *models.User) *ContactDTO {
	if u == nil {
		return nil
	}
	return &ContactDTO{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Phone: u.Phone,
	}
}

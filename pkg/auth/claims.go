package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
)

// Principal is the authenticated caller as far as fulfillment cares: a buyer,
// or a seller acting for one seller account.
type Principal struct {
	UserID   uuid.UUID
	Role     enums.Role
	SellerID *uuid.UUID
}

func (p Principal) validate() error {
	if p.UserID == uuid.Nil {
		return errors.New("user_id is required")
	}
	if !p.Role.IsValid() {
		return fmt.Errorf("invalid role %q", p.Role)
	}
	if p.Role == enums.RoleSeller && p.SellerID == nil {
		return errors.New("seller tokens require seller_id")
	}
	return nil
}

// Claims is the access token body shared with the identity service.
type Claims struct {
	UserID   uuid.UUID  `json:"user_id"`
	SellerID *uuid.UUID `json:"seller_id,omitempty"`
	Role     enums.Role `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) principal() Principal {
	return Principal{UserID: c.UserID, Role: c.Role, SellerID: c.SellerID}
}

package controllers

import (
	"net/http"

	"github.com/angelmondragon/marketplace-fulfillment/api/middleware"
	"github.com/angelmondragon/marketplace-fulfillment/internal/orders"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

func actorFromRequest(r *http.Request) (orders.Actor, error) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return orders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return orders.Actor{UserID: p.UserID, Role: p.Role, SellerID: p.SellerID}, nil
}

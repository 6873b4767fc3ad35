package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-fulfillment/api/middleware"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/auth"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
)

func authedRequest(method, target string, body io.Reader, userID uuid.UUID, role enums.Role, sellerID *uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, body)
	return req.WithContext(middleware.WithPrincipal(req.Context(), auth.Principal{
		UserID:   userID,
		Role:     role,
		SellerID: sellerID,
	}))
}

func withOrderID(req *http.Request, orderID string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add("orderId", orderID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

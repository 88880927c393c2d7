package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAuthJWTRoundTrip(t *testing.T) {
	const secret = "test-secret"

	token, err := SignJWT(secret, TokenClaims{
		Sub: "owner-42",
		Exp: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("SignJWT returned error: %v", err)
	}

	var gotUser string
	handler := AuthJWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/streams/abc", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotUser != "owner-42" {
		t.Fatalf("user id = %q, want %q", gotUser, "owner-42")
	}
}

func TestAuthJWTRejections(t *testing.T) {
	const secret = "test-secret"

	expired, _ := SignJWT(secret, TokenClaims{Sub: "owner-42", Exp: time.Now().Add(-time.Hour).Unix()})
	foreign, _ := SignJWT("other-secret", TokenClaims{Sub: "owner-42", Exp: time.Now().Add(time.Hour).Unix()})

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "malformed token", header: "Bearer not.a"},
		{name: "wrong secret", header: "Bearer " + foreign},
		{name: "expired", header: "Bearer " + expired},
	}

	handler := AuthJWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler reached with bad credentials")
	}))

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/streams/abc", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

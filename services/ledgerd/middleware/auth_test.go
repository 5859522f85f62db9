package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"arrayledger/crypto"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func testCaller(t *testing.T) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key.PubKey().Address()
}

func callerEcho(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := CallerFromContext(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(caller.String()))
	})
}

func TestAuthenticatorAcceptsValidToken(t *testing.T) {
	caller := testCaller(t)
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "array", Audience: "ledgerd"}, nil)
	handler := auth.Middleware()(callerEcho(t))

	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": caller.String(),
		"iss": "array",
		"aud": []interface{}{"other", "ledgerd"},
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/users/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if res.Body.String() != caller.String() {
		t.Fatalf("expected caller %s in context, got %q", caller, res.Body.String())
	}
}

func TestAuthenticatorRejections(t *testing.T) {
	caller := testCaller(t)
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "array", Audience: "ledgerd"}, nil)
	handler := auth.Middleware()(callerEcho(t))

	cases := map[string]string{
		"missing":      "",
		"wrong secret": signToken(t, "ffffffffffffffffffffffffffffffff", jwt.MapClaims{"sub": caller.String(), "iss": "array", "aud": "ledgerd"}),
		"wrong issuer": signToken(t, testSecret, jwt.MapClaims{"sub": caller.String(), "iss": "other", "aud": "ledgerd"}),
		"no audience":  signToken(t, testSecret, jwt.MapClaims{"sub": caller.String(), "iss": "array"}),
		"expired":      signToken(t, testSecret, jwt.MapClaims{"sub": caller.String(), "iss": "array", "aud": "ledgerd", "exp": time.Now().Add(-time.Hour).Unix()}),
		"bad subject":  signToken(t, testSecret, jwt.MapClaims{"sub": "not-an-address", "iss": "array", "aud": "ledgerd"}),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/users/x", nil)
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			if res.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", res.Code)
			}
		})
	}
}

func TestAuthenticatorScopes(t *testing.T) {
	caller := testCaller(t)
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)
	handler := auth.Middleware("admin")(callerEcho(t))

	plain := signToken(t, testSecret, jwt.MapClaims{"sub": caller.String()})
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/vaults", nil)
	req.Header.Set("Authorization", "Bearer "+plain)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without scope, got %d", res.Code)
	}

	scoped := signToken(t, testSecret, jwt.MapClaims{"sub": caller.String(), "scope": "read admin"})
	req.Header.Set("Authorization", "Bearer "+scoped)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 with scope, got %d", res.Code)
	}
}

func TestAuthenticatorOptionalPaths(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret, OptionalPaths: []string{"/v1/vaults"}}, nil)
	handler := auth.Middleware()(callerEcho(t))

	req := httptest.NewRequest(http.MethodGet, "/v1/vaults/0", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected anonymous access, got %d", res.Code)
	}

	req.Header.Set("Authorization", "Bearer garbage")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected a presented token to be verified, got %d", res.Code)
	}
}

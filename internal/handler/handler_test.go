package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/push-engine/internal/auth"
	"github.com/kursadbilgin/push-engine/internal/transport"
	"go.uber.org/zap"
)

const (
	testUser  = "ada@example.com"
	testAdmin = "root@example.com"
)

func newTestTokens(t *testing.T) *auth.TokenService {
	t.Helper()

	tokens, err := auth.NewTokenService(auth.Config{
		Secret: "handler-test-secret",
		Issuer: "push-engine-test",
	})
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	return tokens
}

func issueToken(t *testing.T, tokens *auth.TokenService, userID string, admin bool) string {
	t.Helper()

	token, err := tokens.Issue(auth.Session{UserID: userID, Username: "Ada", Admin: admin}, time.Now())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return token
}

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
}

type testRequest struct {
	method    string
	path      string
	body      string
	token     string
	userAgent string
}

func performRequest(t *testing.T, app *fiber.App, r testRequest) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(r.method, r.path, bytes.NewBufferString(r.body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if r.token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+r.token)
	}
	if r.userAgent != "" {
		req.Header.Set(fiber.HeaderUserAgent, r.userAgent)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func decodeBody(t *testing.T, body []byte, dest any) {
	t.Helper()

	if err := json.Unmarshal(body, dest); err != nil {
		t.Fatalf("failed to decode body %s: %v", string(body), err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, body []byte, want int) {
	t.Helper()

	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, want, string(body))
	}
}

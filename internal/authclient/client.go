// Package authclient verifies end-user credentials against the external
// auth service. It is the only implementation of interfaces.Verifier the
// service ships; the gate never sees HTTP details.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/PetaTalenta/notification-service/pkg/interfaces"
)

const verifyPath = "/auth/token/verify"

// Client calls the auth service over HTTP. Every call is bounded by the
// caller's context; a down or slow verifier surfaces as
// ErrVerifierUnreachable, never as an indefinite stall.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Success bool `json:"success"`
	Data    struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// New creates an auth service client.
func New(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		log:        log.With().Str("component", "auth_client").Logger(),
	}
}

// Verify resolves a credential to an identity. Error values discriminate
// the failure: invalid, expired, or verifier unreachable.
func (c *Client) Verify(ctx context.Context, credential string) (*interfaces.Identity, error) {
	if credential == "" {
		return nil, interfaces.ErrCredentialMissing
	}

	body, err := json.Marshal(verifyRequest{Token: credential})
	if err != nil {
		return nil, fmt.Errorf("encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+verifyPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrVerifierUnreachable, err)
	}
	defer resp.Body.Close()

	var decoded verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: undecodable response: %v", interfaces.ErrVerifierUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK && decoded.Success:
		if decoded.Data.ID == "" {
			return nil, fmt.Errorf("%w: response missing user id", interfaces.ErrVerifierUnreachable)
		}
		return &interfaces.Identity{UserID: decoded.Data.ID, Email: decoded.Data.Email}, nil

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusNotFound:
		if decoded.Error.Code == "TOKEN_EXPIRED" {
			return nil, interfaces.ErrCredentialExpired
		}
		return nil, interfaces.ErrCredentialInvalid

	default:
		return nil, fmt.Errorf("%w: unexpected status %d", interfaces.ErrVerifierUnreachable, resp.StatusCode)
	}
}

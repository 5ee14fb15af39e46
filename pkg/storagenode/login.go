package storagenode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nodebroker/pkg/log"

	"github.com/hashicorp/go-retryablehttp"
)

const loginPath = "/nodes/login"

// Credentials identify the node to the broker.
type Credentials struct {
	UserID   string `json:"user_id"`
	Name     string `json:"node_name"`
	Password string `json:"password"`
	Endpoint string `json:"endpoint"`
}

type loginResponse struct {
	NodeID string `json:"node_id"`
	Token  string `json:"token"`
}

// Login authenticates with the broker and installs the issued token.
// Connection errors are retried; a rejected login is not.
func (s *Server) Login(ctx context.Context, brokerURL string, creds Credentials) (string, error) {
	body, err := json.Marshal(creds)
	if err != nil {
		return "", err
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 5
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(brokerURL, "/")+loginPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close login response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: broker returned status %d", ErrLoginFailed, resp.StatusCode)
	}

	var result loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if result.Token == "" {
		return "", fmt.Errorf("%w: empty token", ErrLoginFailed)
	}

	s.SetToken(result.Token)
	log.Info().Str("node_id", result.NodeID).Msg("Logged in to broker")
	return result.NodeID, nil
}

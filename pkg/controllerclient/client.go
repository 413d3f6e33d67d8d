/**
 * @description
 * Client for communicating with the strategy controller. The keeper uses it
 * to relay bridge deliveries into confirmation calls and to push periodic
 * mark-to-market reports.
 */
package controllerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vaultra/treasury-service/internal/domain"
)

// Replay outcomes the keeper treats as success: the controller has already
// applied (or deliberately rejected) this relay, so redelivering it again is
// pointless.
var (
	ErrTransferNotFound     = errors.New("controller: transfer not found")
	ErrInvalidTransferState = errors.New("controller: transfer not in expected state")
)

// Client is a client for the strategy controller.
type Client struct {
	baseURL    string
	apiKey     string
	keeperID   string
	httpClient *http.Client
}

// NewClient creates a new controller client bound to one keeper identity.
func NewClient(baseURL, apiKey, keeperID string) *Client {
	normalizedURL := strings.TrimSuffix(baseURL, "/")
	return &Client{
		baseURL:    normalizedURL,
		apiKey:     apiKey,
		keeperID:   keeperID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// ConfirmDeposit relays a delivered deposit to the controller.
func (c *Client) ConfirmDeposit(ctx context.Context, transferID domain.TransferID, remoteShares int64) error {
	payload := map[string]interface{}{
		"transfer_id":   string(transferID),
		"remote_shares": remoteShares,
	}
	return c.post(ctx, "/keeper/confirm-deposit", payload)
}

// ReceiveWithdrawal relays a settled return leg to the controller.
func (c *Client) ReceiveWithdrawal(ctx context.Context, transferID domain.TransferID, amountReturned int64) error {
	payload := map[string]interface{}{
		"transfer_id":     string(transferID),
		"amount_returned": amountReturned,
	}
	return c.post(ctx, "/keeper/receive-withdrawal", payload)
}

// UpdateValue pushes a mark-to-market report to the controller.
func (c *Client) UpdateValue(ctx context.Context, value int64) error {
	payload := map[string]interface{}{"value": value}
	return c.post(ctx, "/keeper/update-value", payload)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("controller service base URL is not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Api-Key", c.apiKey)
	req.Header.Set("X-Keeper-ID", c.keeperID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to controller service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrTransferNotFound
	case resp.StatusCode == http.StatusConflict:
		return ErrInvalidTransferState
	default:
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("controller service returned status %d: %s", resp.StatusCode, errBody.Error)
		}
		return fmt.Errorf("controller service returned error status %d", resp.StatusCode)
	}
}

/**
 * @description
 * This package provides the client for the cross-domain bridge provider: the
 * transport that moves value between the home domain and the remote execution
 * domain. Two provider flavors exist, a burn-and-mint transport and a
 * swap-and-route transport, but both satisfy the one `Transport` interface
 * the controller and agent depend on. The provider's only contract obligation
 * is that every initiate call returns a caller-unforgeable transfer id that
 * later correlates with exactly one delivery.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, log, net/http, time: Standard Go libraries.
 * - internal/domain: Transfer identifier newtype.
 */
package bridgeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/vaultra/treasury-service/internal/domain"
)

// Transport kinds supported by the provider API.
const (
	KindBurnMint  = "burn_mint"
	KindSwapRoute = "swap_route"
)

// Transport is the adapter contract the settlement engine depends on.
//
// InitiateDeposit may fail synchronously (for example below the provider's
// minimum). InitiateWithdrawal always succeeds synchronously by recording the
// intent; the actual value movement happens later, off the critical path.
// ReturnFunds is the symmetric return-leg primitive used on the remote side.
type Transport interface {
	InitiateDeposit(ctx context.Context, amount int64) (domain.TransferID, error)
	InitiateWithdrawal(ctx context.Context, amount int64) (domain.TransferID, error)
	ReturnFunds(ctx context.Context, transferID domain.TransferID, amount int64) error
}

// Client is an HTTP client against a bridge provider.
type Client struct {
	BaseURL    string
	APIKey     string
	Kind       string
	HTTPClient *http.Client
}

// NewClient creates a bridge provider client of the given transport kind.
func NewClient(baseURL, apiKey, kind string) *Client {
	if kind != KindBurnMint && kind != KindSwapRoute {
		kind = KindBurnMint
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Kind:    kind,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// TransferRequest is the payload for the provider's initiate endpoints.
type TransferRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Asset     string `json:"asset"`
			Amount    int64  `json:"amount"`
			Direction string `json:"direction"`
		} `json:"attributes"`
	} `json:"data"`
}

// ReturnRequest is the payload for the remote-side return leg.
type ReturnRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			TransferID string `json:"transfer_id"`
			Asset      string `json:"asset"`
			Amount     int64  `json:"amount"`
		} `json:"attributes"`
	} `json:"data"`
}

// TransferResponse is the expected response from the provider's endpoints.
type TransferResponse struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Status string `json:"status"`
		} `json:"attributes"`
	} `json:"data"`
}

// ErrorResponse represents an error from the bridge provider API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("bridge api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown bridge api error"
}

func (c *Client) transferType(direction string) string {
	// The two provider flavors use different resource types but the same
	// request shape, which is what lets one client serve both.
	if c.Kind == KindSwapRoute {
		if direction == "outbound" {
			return "SwapRouteTransfer"
		}
		return "SwapRouteIntent"
	}
	if direction == "outbound" {
		return "BurnMintTransfer"
	}
	return "BurnMintIntent"
}

// InitiateDeposit asks the provider to move `amount` to the remote domain.
func (c *Client) InitiateDeposit(ctx context.Context, amount int64) (domain.TransferID, error) {
	reqPayload := TransferRequest{}
	reqPayload.Data.Type = c.transferType("outbound")
	reqPayload.Data.Attributes.Asset = string(domain.AssetUSDM)
	reqPayload.Data.Attributes.Amount = amount
	reqPayload.Data.Attributes.Direction = "outbound"

	resp, err := c.doTransfer(ctx, "/api/v1/transfers", reqPayload)
	if err != nil {
		return "", err
	}
	return domain.TransferID(resp.Data.ID), nil
}

// InitiateWithdrawal records a withdrawal intent with the provider. No funds
// move synchronously; the keeper drives the remote redemption afterwards.
func (c *Client) InitiateWithdrawal(ctx context.Context, amount int64) (domain.TransferID, error) {
	reqPayload := TransferRequest{}
	reqPayload.Data.Type = c.transferType("return")
	reqPayload.Data.Attributes.Asset = string(domain.AssetUSDM)
	reqPayload.Data.Attributes.Amount = amount
	reqPayload.Data.Attributes.Direction = "return"

	resp, err := c.doTransfer(ctx, "/api/v1/intents", reqPayload)
	if err != nil {
		return "", err
	}
	return domain.TransferID(resp.Data.ID), nil
}

// ReturnFunds hands redeemed value to the provider's return leg against a
// previously recorded intent.
func (c *Client) ReturnFunds(ctx context.Context, transferID domain.TransferID, amount int64) error {
	reqPayload := ReturnRequest{}
	reqPayload.Data.Type = c.transferType("return")
	reqPayload.Data.Attributes.TransferID = string(transferID)
	reqPayload.Data.Attributes.Asset = string(domain.AssetUSDM)
	reqPayload.Data.Attributes.Amount = amount

	_, err := c.doTransfer(ctx, "/api/v1/returns", reqPayload)
	return err
}

// doTransfer is a generic helper function to execute provider requests.
func (c *Client) doTransfer(ctx context.Context, path string, payload interface{}) (*TransferResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bridge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-bridge-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute bridge request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read bridge response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=bridge_client kind=%s path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", c.Kind, path, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=bridge_client kind=%s path=%s status=%d title=%q", c.Kind, path, resp.StatusCode, firstErrorTitle(errResp))
		return nil, &errResp
	}

	var successResp TransferResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode success response: %w", err)
	}
	if successResp.Data.ID == "" {
		return nil, fmt.Errorf("bridge response missing transfer id")
	}

	return &successResp, nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}

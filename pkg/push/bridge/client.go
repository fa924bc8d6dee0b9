// Package bridge implements the HTTP client for the relay service's
// push bridge interface. Each method maps 1:1 to a relay endpoint and
// reports failures as *push.CommunicationError with a classification
// the manager branches on.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ylogx/application-services/pkg/push"
)

const defaultTimeout = 30 * time.Second

// Client talks to a relay service bridge over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a bridge client for the relay at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// NewClientWithHTTP creates a bridge client using a caller-provided
// HTTP client, e.g. to control timeouts.
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

type registerRequest struct {
	SenderID   string `json:"sender_id"`
	BridgeType string `json:"bridge_type"`
	Token      string `json:"token"`
}

type registerResponse struct {
	UAID string `json:"uaid"`
}

type subscribeRequest struct {
	ChannelID string `json:"channel_id"`
	Key       string `json:"key,omitempty"`
}

type subscribeResponse struct {
	ChannelID string `json:"channel_id"`
	Endpoint  string `json:"endpoint"`
}

type updateTokenRequest struct {
	Token string `json:"token"`
}

type channelListResponse struct {
	UAID       string   `json:"uaid"`
	ChannelIDs []string `json:"channel_ids"`
}

// RegisterInstance registers this application instance with the relay
// and returns the assigned connection id.
func (c *Client) RegisterInstance(ctx context.Context, senderID, bridgeType, token string) (string, error) {
	var resp registerResponse
	err := c.do(ctx, "register instance", http.MethodPost, "/registration",
		&registerRequest{SenderID: senderID, BridgeType: bridgeType, Token: token}, &resp)
	if err != nil {
		return "", err
	}
	if resp.UAID == "" {
		return "", &push.CommunicationError{
			Op: "register instance", Status: http.StatusOK, Class: push.CommPermanent,
			Err: fmt.Errorf("relay returned no uaid"),
		}
	}
	return resp.UAID, nil
}

// CreateChannel creates a subscription channel and returns its
// delivery endpoint.
func (c *Client) CreateChannel(ctx context.Context, uaid, channelID, appServerKey string) (string, error) {
	var resp subscribeResponse
	err := c.do(ctx, "create channel", http.MethodPost,
		fmt.Sprintf("/registration/%s/subscription", uaid),
		&subscribeRequest{ChannelID: channelID, Key: appServerKey}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Endpoint == "" {
		return "", &push.CommunicationError{
			Op: "create channel", Status: http.StatusOK, Class: push.CommPermanent,
			Err: fmt.Errorf("relay returned no endpoint"),
		}
	}
	return resp.Endpoint, nil
}

// DeleteChannel removes a single channel.
func (c *Client) DeleteChannel(ctx context.Context, uaid, channelID string) error {
	return c.do(ctx, "delete channel", http.MethodDelete,
		fmt.Sprintf("/registration/%s/subscription/%s", uaid, channelID), nil, nil)
}

// DeleteRegistration removes the instance and all of its channels.
func (c *Client) DeleteRegistration(ctx context.Context, uaid string) error {
	return c.do(ctx, "delete registration", http.MethodDelete,
		fmt.Sprintf("/registration/%s", uaid), nil, nil)
}

// UpdateToken informs the relay that the native transport token
// changed.
func (c *Client) UpdateToken(ctx context.Context, uaid, token string) error {
	return c.do(ctx, "update token", http.MethodPut,
		fmt.Sprintf("/registration/%s", uaid), &updateTokenRequest{Token: token}, nil)
}

// ListChannels returns the channel ids the relay currently holds for
// the instance.
func (c *Client) ListChannels(ctx context.Context, uaid string) ([]string, error) {
	var resp channelListResponse
	err := c.do(ctx, "list channels", http.MethodGet,
		fmt.Sprintf("/registration/%s/channels", uaid), nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.ChannelIDs, nil
}

// do runs one relay request. Transport failures are transient; non-2xx
// statuses are classified by classify.
func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return &push.CommunicationError{Op: op, Class: push.CommPermanent,
				Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
		reader = bytes.NewBuffer(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &push.CommunicationError{Op: op, Class: push.CommPermanent,
			Err: fmt.Errorf("failed to create request: %w", err)}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &push.CommunicationError{Op: op, Class: push.CommTransient,
			Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return &push.CommunicationError{
			Op:     op,
			Status: resp.StatusCode,
			Class:  classify(resp.StatusCode),
			Err:    fmt.Errorf("relay returned status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &push.CommunicationError{Op: op, Status: resp.StatusCode, Class: push.CommPermanent,
				Err: fmt.Errorf("failed to decode response: %w", err)}
		}
	}
	return nil
}

// classify maps an HTTP status to a communication error class. 401 and
// 410 mean the relay has forgotten this instance or channel; 5xx is
// retryable at a higher layer; remaining 4xx are permanent.
func classify(status int) push.CommClass {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusGone:
		return push.CommIdentityInvalid
	case status >= 500:
		return push.CommTransient
	default:
		return push.CommPermanent
	}
}

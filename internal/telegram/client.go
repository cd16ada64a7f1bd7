// Package telegram is the outbound Bot API transport: a thin raw client
// plus the resilient send wrapper every business path goes through.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client performs single Bot API calls with no retry policy. Business code
// never uses it directly; it exists for the safe wrapper and for operator
// alerts, which must not recurse through the wrapper.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: baseURL,
		token:   token,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Call performs one API method call. Failures come back as *APIError with
// the classification already applied.
func (c *Client) Call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	var api apiResponse
	if err := json.Unmarshal(raw, &api); err != nil {
		// The API answers JSON even for errors; a non-JSON body means an
		// intermediary replied instead.
		if resp.StatusCode >= 500 {
			return nil, &APIError{Class: ClassServerError, Code: resp.StatusCode}
		}
		return nil, &APIError{Class: ClassUnknown, Code: resp.StatusCode, Description: "malformed response"}
	}
	if !api.OK {
		code := api.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		retryAfter := 0
		if api.Parameters != nil {
			retryAfter = api.Parameters.RetryAfter
		}
		return nil, classifyResponse(code, api.Description, retryAfter)
	}
	return api.Result, nil
}

// SendMessage sends a plain text message. This is the raw path used by
// operator alerting.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	_, err := c.Call(ctx, "sendMessage", SendMessageParams{ChatID: chatID, Text: text})
	return err
}

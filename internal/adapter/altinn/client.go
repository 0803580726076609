// Package altinn is the HTTP implementation of the dispatch adapter
// contract against the Altinn notification gateway.
package altinn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/adapter"
	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/domain"
)

type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func New(endpoint, apiKey string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type sendRequest struct {
	VarselID     string     `json:"varsel_id"`
	Channel      string     `json:"channel"`
	Address      string     `json:"address"`
	RecipientRef string     `json:"recipient_ref"`
	Content      string     `json:"content"`
	SendTime     *time.Time `json:"send_time,omitempty"`
}

type sendResponse struct {
	Sent         bool   `json:"sent"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func (c *Client) Send(ctx context.Context, notice *domain.ExternalNotice) (*adapter.Response, error) {
	payload, err := json.Marshal(sendRequest{
		VarselID:     notice.VarselID.String(),
		Channel:      string(notice.Channel),
		Address:      notice.Address,
		RecipientRef: notice.RecipientRef,
		Content:      notice.Content,
		SendTime:     notice.SendTime,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	// 5xx means the gateway itself is struggling; treat like transport.
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, body)
	}

	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unparseable gateway response (%d): %w", resp.StatusCode, err)
	}

	return &adapter.Response{
		Sent:         parsed.Sent,
		Raw:          json.RawMessage(body),
		ErrorCode:    parsed.ErrorCode,
		ErrorMessage: parsed.ErrorMessage,
	}, nil
}

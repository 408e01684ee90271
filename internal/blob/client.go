package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Profile selects the blob service's validation and naming rules.
type Profile string

const (
	ProfileImage Profile = "image"
	ProfileVoice Profile = "voice"
)

// Client calls the blob microservice. The contract is
// upload(bytes, profile) -> durable URL or failure; any failure means the
// message is not persisted and the sender gets an upload_failed ack.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Upload posts raw bytes and returns the durable URL for the stored object.
func (c *Client) Upload(ctx context.Context, data []byte, contentType string, profile Profile) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("blob upload: no service configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/upload?profile="+string(profile), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("blob upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("blob upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("blob upload: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("blob upload decode: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("blob upload: empty url in response")
	}
	return out.URL, nil
}

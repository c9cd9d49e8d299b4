package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const linuxDoBase = "https://linux.do"

// LinuxDoProfile is the public forum profile of a connect-registered user.
type LinuxDoProfile struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Name       string `json:"name,omitempty"`
	TrustLevel int    `json:"trust_level"`
}

// LinuxDoClient looks up public linux.do profiles. The forum sits behind
// Cloudflare and rejects most datacenter IPs, so lookups go through the
// configured proxy mirror when one is set.
type LinuxDoClient struct {
	base   string
	client *http.Client
}

func NewLinuxDoClient(proxyURL string) *LinuxDoClient {
	base := linuxDoBase
	if proxyURL != "" {
		base = strings.TrimRight(proxyURL, "/")
	}
	return &LinuxDoClient{base: base, client: &http.Client{Timeout: 10 * time.Second}}
}

// Profile fetches /u/<username>.json and unwraps the user object.
func (c *LinuxDoClient) Profile(ctx context.Context, username string) (*LinuxDoProfile, error) {
	if username == "" {
		return nil, fmt.Errorf("empty linux.do username")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/u/%s.json", c.base, url.PathEscape(username)), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("linux.do lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("linux.do lookup: status %d", resp.StatusCode)
	}

	var payload struct {
		User LinuxDoProfile `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("linux.do response: %w", err)
	}
	if payload.User.ID == 0 && payload.User.Username == "" {
		return nil, fmt.Errorf("linux.do profile missing")
	}
	return &payload.User, nil
}

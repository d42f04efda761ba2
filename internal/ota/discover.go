package ota

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Discoverer queries the update server for the latest release on a
// channel and downloads packages + detached signatures.
type Discoverer struct {
	client          *http.Client
	updateServerURL string
}

func NewDiscoverer(client *http.Client, updateServerURL string) *Discoverer {
	return &Discoverer{client: client, updateServerURL: updateServerURL}
}

// Latest fetches the latest release descriptor for channel.
func (d *Discoverer) Latest(ctx context.Context, channel string) (Release, error) {
	url := fmt.Sprintf("%s/releases/%s/latest.json", strings.TrimRight(d.updateServerURL, "/"), channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Release{}, fmt.Errorf("ota: build discovery request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return Release{}, fmt.Errorf("ota: discovery request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Release{}, fmt.Errorf("ota: discovery returned status %d", resp.StatusCode)
	}

	var info UpdateInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Release{}, fmt.Errorf("ota: decode discovery response: %w", err)
	}
	return info.Latest, nil
}

// Fetch downloads url and returns its bytes.
func (d *Discoverer) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ota: build fetch request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ota: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ota: fetch %s returned status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ota: read fetch body %s: %w", url, err)
	}
	return body, nil
}

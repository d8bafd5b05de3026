// Package crm is the HTTP client for the platform's CRM service. It is the
// production implementation of protocol.CRMClient; the engine itself never
// holds CRM data shapes.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/atlas-fitness/automations/pkg/protocol"
)

const requestTimeout = 10 * time.Second

// Client talks to the CRM service over HTTP with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ protocol.CRMClient = (*Client)(nil)

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// FormExists reports whether the builder form is known to the CRM.
func (c *Client) FormExists(ctx context.Context, formID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/forms/"+formID, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("CRM returned status %d for form %s", resp.StatusCode, formID)
	}
}

// RecordNote attaches a note to a lead or client record.
func (c *Client) RecordNote(ctx context.Context, subjectID, note string) error {
	payload, err := json.Marshal(map[string]string{
		"subject_id": subjectID,
		"body":       note,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/notes", bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return fmt.Errorf("CRM returned status %d recording note for %s: %s",
			resp.StatusCode, subjectID, string(body))
	}

	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	return c.httpClient.Do(req)
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Contact is the profile pushed to the CRM.
type Contact struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Source  string `json:"source"`
}

// Purchase is the activity logged against a CRM contact.
type Purchase struct {
	OrderID       int    `json:"order_id"`
	InvoiceNumber string `json:"invoice_number"`
	Product       string `json:"product"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

type CRMClient interface {
	// UpsertContact creates or updates the contact keyed by email and returns its id.
	UpsertContact(ctx context.Context, c Contact) (string, error)
	LogPurchase(ctx context.Context, contactID string, p Purchase) error
}

// HTTPCRMClient talks to the CRM's JSON API with a bearer token.
type HTTPCRMClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPCRMClient builds a client. A nil httpClient gets a default with a 15s timeout.
func NewHTTPCRMClient(baseURL, token string, httpClient *http.Client) *HTTPCRMClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPCRMClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  httpClient,
	}
}

type upsertContactResponse struct {
	ID string `json:"id"`
}

func (c *HTTPCRMClient) UpsertContact(ctx context.Context, contact Contact) (string, error) {
	if contact.Email == "" {
		return "", errors.New("crm contact requires an email")
	}
	var resp upsertContactResponse
	if err := c.do(ctx, http.MethodPut, "/contacts", contact, &resp); err != nil {
		return "", fmt.Errorf("failed to upsert crm contact: %w", err)
	}
	if resp.ID == "" {
		return "", errors.New("crm returned no contact id")
	}
	return resp.ID, nil
}

func (c *HTTPCRMClient) LogPurchase(ctx context.Context, contactID string, p Purchase) error {
	path := "/contacts/" + url.PathEscape(contactID) + "/purchases"
	if err := c.do(ctx, http.MethodPost, path, p, nil); err != nil {
		return fmt.Errorf("failed to log crm purchase: %w", err)
	}
	return nil
}

func (c *HTTPCRMClient) do(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("crm %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode crm response: %w", err)
	}
	return nil
}

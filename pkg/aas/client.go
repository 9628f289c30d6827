// Package aas is a minimal client for writing property values to an Asset
// Administration Shell (AAS v3) submodel-element endpoint.
package aas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client writes submodel elements to a fixed AAS endpoint URL.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for the given submodel-element URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Property is an AAS v3 Property submodel element. Value is always a string
// on the wire, even for numeric value types.
type Property struct {
	ModelType   string       `json:"modelType"`
	SemanticID  *Reference   `json:"semanticId,omitempty"`
	Value       string       `json:"value"`
	ValueType   string       `json:"valueType"`
	Description []LangString `json:"description,omitempty"`
	IDShort     string       `json:"idShort"`
}

// Reference is an AAS reference.
type Reference struct {
	Keys []Key  `json:"keys"`
	Type string `json:"type"`
}

// Key is one element of a reference chain.
type Key struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// LangString is a language-tagged text.
type LangString struct {
	Language string `json:"language"`
	Text     string `json:"text"`
}

// PutProperty replaces the submodel element with the given property.
func (c *Client) PutProperty(ctx context.Context, p Property) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.BaseURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to put property: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("aas endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

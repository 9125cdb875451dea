package crowdsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPCatalogWriter writes records through a catalog gateway that accepts
// PUT {base}/catalogs/{catalog}/records/{name} with a JSON object of fields.
type HTTPCatalogWriter struct {
	BaseURL string
	Client  *http.Client
}

// UpdateRecord writes the record's crowd fields. Writing the same fields
// twice leaves the catalog unchanged.
func (c *HTTPCatalogWriter) UpdateRecord(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	endpoint := fmt.Sprintf("%s/catalogs/%s/records/%s",
		strings.TrimSuffix(c.BaseURL, "/"), url.PathEscape(rec.Catalog), url.PathEscape(rec.Name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build catalog request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to update record %q: %w", rec.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("catalog returned status %d for record %q: %s",
			resp.StatusCode, rec.Name, strings.TrimSpace(string(msg)))
	}
	return nil
}

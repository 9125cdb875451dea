package crowdsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SolrSource queries a Solr core for documents modified within a window
type SolrSource struct {
	BaseURL       string // e.g. http://solr:8983/solr/crowd
	ModifiedField string // Default: last_modified
	Filter        string // Optional extra fq, e.g. collection:"Billeder"
	PageSize      int    // Default: 100
	Client        *http.Client
}

type solrResponse struct {
	Response struct {
		NumFound int                      `json:"numFound"`
		Start    int                      `json:"start"`
		Docs     []map[string]interface{} `json:"docs"`
	} `json:"response"`
}

// ChangedSince pages through all documents modified at or after since
func (s *SolrSource) ChangedSince(ctx context.Context, since time.Time) ([]map[string]interface{}, error) {
	field := s.ModifiedField
	if field == "" {
		field = "last_modified"
	}
	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	var docs []map[string]interface{}
	for start := 0; ; start += pageSize {
		params := url.Values{}
		params.Set("q", "*:*")
		params.Set("wt", "json")
		params.Set("sort", RecordNameField+" asc")
		params.Set("start", strconv.Itoa(start))
		params.Set("rows", strconv.Itoa(pageSize))
		params.Add("fq", fmt.Sprintf("%s:[%s TO NOW]", field, since.UTC().Format(time.RFC3339)))
		if s.Filter != "" {
			params.Add("fq", s.Filter)
		}

		page, err := s.query(ctx, client, params)
		if err != nil {
			return nil, err
		}
		docs = append(docs, page.Response.Docs...)
		if len(page.Response.Docs) == 0 || start+pageSize >= page.Response.NumFound {
			return docs, nil
		}
	}
}

func (s *SolrSource) query(ctx context.Context, client *http.Client, params url.Values) (*solrResponse, error) {
	endpoint := strings.TrimSuffix(s.BaseURL, "/") + "/select?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build solr request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query solr: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("solr returned status %d", resp.StatusCode)
	}

	var out solrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode solr response: %w", err)
	}
	return &out, nil
}

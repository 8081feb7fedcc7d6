package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/scality/log-analytics/pkg/store"
)

const (
	// DefaultTimeout bounds one catalog request
	DefaultTimeout = 10 * time.Second

	// maxResponseSize bounds the catalog documents read
	maxResponseSize = 4 << 20
)

// ErrNotFound is returned when the catalog has no entry for an accession
var ErrNotFound = errors.New("not found in catalog")

// CatalogConfig configures a CatalogClient
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type CatalogConfig struct {
	BaseURL string

	// Timeout bounds each request; 0 uses DefaultTimeout
	Timeout time.Duration

	// RequestsPerSecond throttles the requests; 0 disables throttling
	RequestsPerSecond float64

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// CatalogClient finds object metadata in the public catalog. The accession of
// an object is its file name without extensions: the file document names the
// dataset, and experiment datasets carry the assay and funding details.
type CatalogClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	timeout    time.Duration
}

var _ Enricher = (*CatalogClient)(nil)

// NewCatalogClient creates a catalog client
func NewCatalogClient(cfg CatalogConfig) (*CatalogClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("a catalog base URL is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid catalog base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid catalog base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests per second must not be negative, got %v", cfg.RequestsPerSecond)
	}

	c := &CatalogClient{
		baseURL:    base,
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		logger:     cfg.Logger,
		timeout:    cfg.Timeout,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

type fileDocument struct {
	Dataset        string `json:"dataset"`
	FileFormat     string `json:"file_format"`
	FileFormatType string `json:"file_format_type"`
	FileType       string `json:"file_type"`
}

type experimentDocument struct {
	AssayTitle string `json:"assay_title"`
	Award      *struct {
		Name string `json:"name"`
		PI   *struct {
			Lab *struct {
				Name string `json:"name"`
			} `json:"lab"`
		} `json:"pi"`
	} `json:"award"`
	Lab *struct {
		Name string `json:"name"`
	} `json:"lab"`
}

// Accession returns the catalog accession of an object key
func Accession(key string) string {
	name := store.DisplayName(key)
	accession, _, _ := strings.Cut(name, ".")
	return accession
}

// Lookup fetches the file document of key, then the experiment it belongs to.
// Every failure is an *EnrichmentUnavailableError.
func (c *CatalogClient) Lookup(ctx context.Context, key string) (*Metadata, error) {
	accession := Accession(key)
	if accession == "" || accession == "/" {
		return nil, &EnrichmentUnavailableError{Key: key, Err: fmt.Errorf("no accession in key")}
	}

	var file fileDocument
	if err := c.get(ctx, "files", accession, &file); err != nil {
		return nil, &EnrichmentUnavailableError{Key: key, Err: err}
	}

	meta := &Metadata{
		FileFormat: nonEmpty(file.FileFormat),
		FileType:   nonEmpty(file.FileType),
	}
	if meta.FileType == nil {
		meta.FileType = nonEmpty(file.FileFormatType)
	}

	// The dataset is a path like /experiments/ENCSR000AAA/
	parts := strings.Split(strings.Trim(file.Dataset, "/"), "/")
	if len(parts) != 2 {
		return meta, nil
	}
	datasetType, dataset := parts[0], parts[1]
	meta.DatasetType = nonEmpty(datasetType)
	meta.Dataset = nonEmpty(dataset)
	if datasetType != "experiments" {
		return meta, nil
	}
	meta.Experiment = meta.Dataset

	var experiment experimentDocument
	if err := c.get(ctx, "experiments", dataset, &experiment); err != nil {
		return nil, &EnrichmentUnavailableError{Key: key, Err: err}
	}
	meta.AssayTitle = nonEmpty(experiment.AssayTitle)
	if experiment.Award != nil {
		meta.Award = nonEmpty(experiment.Award.Name)
		if experiment.Award.PI != nil && experiment.Award.PI.Lab != nil {
			meta.Lab = nonEmpty(experiment.Award.PI.Lab.Name)
		}
	}
	if meta.Lab == nil && experiment.Lab != nil {
		meta.Lab = nonEmpty(experiment.Lab.Name)
	}

	c.logger.Debug("enriched item",
		"key", key,
		"accession", accession,
		"experiment", dataset)

	return meta, nil
}

// get decodes the JSON document {base}/{collection}/{name}/?format=json
func (c *CatalogClient) get(ctx context.Context, collection, name string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL.JoinPath(collection, name) // JoinPath drops the trailing slash
	u.Path += "/"
	u.RawQuery = "format=json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to get %s/%s: %w", collection, name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s/%s: %w", collection, name, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("failed to get %s/%s: unexpected status %s", collection, name, resp.Status)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", collection, name, err)
	}
	return nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

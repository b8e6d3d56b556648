package ebird

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/tphakala/birdid/internal/checklist"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/httpclient"
	"github.com/tphakala/birdid/internal/logger"
	"github.com/tphakala/birdid/internal/observability/metrics"
	"github.com/tphakala/birdid/internal/region"
)

const (
	// RecentDays is the look-back window for nearby observations.
	RecentDays = 30
	// MaxNearbyResults caps the observations returned for one point query.
	MaxNearbyResults = 10000
	// MaxRadiusKm is the largest search radius the geo endpoints accept.
	MaxRadiusKm = 50

	maxResponseSize    = 64 << 20 // taxonomy is several megabytes
	responsePreviewLen = 500
	defaultRetryDelay  = 500 * time.Millisecond
)

// Metric endpoint labels.
const (
	endpointSpeciesList  = "spplist"
	endpointRecentNearby = "obs_geo_recent"
	endpointCountries    = "ref_country"
	endpointSubdivisions = "ref_subnational1"
	endpointTaxonomy     = "taxonomy"
)

// Client provides methods for interacting with the eBird API
type Client struct {
	config      Config
	httpClient  *httpclient.Client
	memo        *cache.Cache
	limiter     *rate.Limiter
	metrics     *metrics.EBirdMetrics
	log         logger.Logger
	retryDelay  time.Duration
	firstCallMu sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *httpclient.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithMetrics records request metrics into m.
func WithMetrics(m *metrics.EBirdMetrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// NewClient creates a new eBird API client
func NewClient(config Config, opts ...Option) (*Client, error) {
	if config.APIKey == "" {
		return nil, errors.Newf("eBird API key is required").
			Category(errors.CategoryConfiguration).
			Component("ebird").
			Build()
	}

	// Use defaults for missing config values
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.RateLimitMS <= 0 {
		config.RateLimitMS = defaults.RateLimitMS
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.ReferenceTTL <= 0 {
		config.ReferenceTTL = defaults.ReferenceTTL
	}
	if config.Locale == "" {
		config.Locale = defaults.Locale
	}

	client := &Client{
		config:     config,
		memo:       cache.New(config.ReferenceTTL, config.ReferenceTTL*2),
		limiter:    rate.NewLimiter(rate.Every(time.Duration(config.RateLimitMS)*time.Millisecond), 1),
		log:        GetLogger(),
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = httpclient.New(&httpclient.Config{DefaultTimeout: config.Timeout})
	}

	client.log.Info("eBird client initialized",
		logger.String("base_url", config.BaseURL),
		logger.Duration("reference_ttl", config.ReferenceTTL),
		logger.Int("rate_limit_ms", config.RateLimitMS),
		logger.Int("max_retries", config.MaxRetries))

	return client, nil
}

// Close releases idle connections and the reference memo.
func (c *Client) Close() {
	c.memo.Flush()
	c.httpClient.Close()
	c.log.Debug("eBird client closed")
}

// SpeciesList returns every species code ever reported in a region.
// An empty slice is a valid answer distinct from an error.
func (c *Client) SpeciesList(ctx context.Context, id region.ID) ([]checklist.SpeciesCode, error) {
	if id.IsZero() {
		return nil, errors.ValidationError("region code is required")
	}

	reqURL := fmt.Sprintf("%s/product/spplist/%s", c.config.BaseURL, url.PathEscape(id.String()))

	var codes []checklist.SpeciesCode
	if err := c.doRequestWithRetry(ctx, endpointSpeciesList, reqURL, &codes); err != nil {
		return nil, err
	}
	if codes == nil {
		codes = []checklist.SpeciesCode{}
	}

	c.log.Debug("fetched regional species list",
		logger.String("region", id.String()),
		logger.Int("species_count", len(codes)))
	return codes, nil
}

// RecentNearby returns the distinct species observed within radiusKm of a
// point over the last RecentDays days.
func (c *Client) RecentNearby(ctx context.Context, lat, lon float64, radiusKm int) (NearbyResult, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return NearbyResult{}, errors.Newf("coordinates out of range: %f,%f", lat, lon).
			Category(errors.CategoryValidation).
			Component("ebird").
			Build()
	}
	if radiusKm < 1 || radiusKm > MaxRadiusKm {
		return NearbyResult{}, errors.Newf("radius %d km outside 1..%d", radiusKm, MaxRadiusKm).
			Category(errors.CategoryValidation).
			Component("ebird").
			Build()
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("lng", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("dist", strconv.Itoa(radiusKm))
	q.Set("back", strconv.Itoa(RecentDays))
	q.Set("maxResults", strconv.Itoa(MaxNearbyResults))
	reqURL := c.config.BaseURL + "/data/obs/geo/recent?" + q.Encode()

	var observations []Observation
	if err := c.doRequestWithRetry(ctx, endpointRecentNearby, reqURL, &observations); err != nil {
		return NearbyResult{}, err
	}

	codes := make([]checklist.SpeciesCode, 0, len(observations))
	for i := range observations {
		codes = append(codes, observations[i].SpeciesCode)
	}
	result := NearbyResult{
		Species:          checklist.NewSet(codes...),
		ObservationCount: len(observations),
	}

	c.log.Debug("fetched nearby observations",
		logger.Int("observations", result.ObservationCount),
		logger.Int("species_count", result.Species.Len()),
		logger.Int("radius_km", radiusKm))
	return result, nil
}

// Countries returns the world country list.
func (c *Client) Countries(ctx context.Context) ([]RegionInfo, error) {
	return c.regionList(ctx, "countries", endpointCountries, c.config.BaseURL+"/ref/region/list/country/world")
}

// Subdivisions returns the first-level subdivisions of a country.
func (c *Client) Subdivisions(ctx context.Context, countryCode string) ([]RegionInfo, error) {
	country, err := region.NewCountry(countryCode)
	if err != nil {
		return nil, err
	}
	cc := country.CountryCode()
	return c.regionList(ctx, "subnational1:"+cc, endpointSubdivisions,
		fmt.Sprintf("%s/ref/region/list/subnational1/%s", c.config.BaseURL, cc))
}

func (c *Client) regionList(ctx context.Context, cacheKey, endpoint, reqURL string) ([]RegionInfo, error) {
	if cached, found := c.memo.Get(cacheKey); found {
		if list, ok := cached.([]RegionInfo); ok {
			c.metrics.RecordMemo(endpoint, true)
			return list, nil
		}
	}
	c.metrics.RecordMemo(endpoint, false)

	var list []RegionInfo
	if err := c.doRequestWithRetry(ctx, endpoint, reqURL, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []RegionInfo{}
	}
	c.memo.Set(cacheKey, list, cache.DefaultExpiration)
	return list, nil
}

// Taxonomy retrieves the complete eBird taxonomy with common names in locale.
// An empty locale uses the configured default.
func (c *Client) Taxonomy(ctx context.Context, locale string) ([]TaxonomyEntry, error) {
	if locale == "" {
		locale = c.config.Locale
	}
	cacheKey := "taxonomy:" + locale

	if cached, found := c.memo.Get(cacheKey); found {
		if taxonomy, ok := cached.([]TaxonomyEntry); ok {
			c.metrics.RecordMemo(endpointTaxonomy, true)
			return taxonomy, nil
		}
	}
	c.metrics.RecordMemo(endpointTaxonomy, false)

	q := url.Values{}
	q.Set("fmt", "json")
	q.Set("locale", locale)
	reqURL := c.config.BaseURL + "/ref/taxonomy/ebird?" + q.Encode()

	var taxonomy []TaxonomyEntry
	if err := c.doRequestWithRetry(ctx, endpointTaxonomy, reqURL, &taxonomy); err != nil {
		return nil, err
	}

	c.memo.Set(cacheKey, taxonomy, cache.DefaultExpiration)
	c.log.Info("fetched eBird taxonomy",
		logger.String("locale", locale),
		logger.Int("entries", len(taxonomy)))
	return taxonomy, nil
}

// ClearCache clears the reference data memo
func (c *Client) ClearCache() {
	c.memo.Flush()
	c.log.Info("eBird reference cache cleared")
}

// doRequest performs one rate-limited GET and decodes a JSON body into result.
func (c *Client) doRequest(ctx context.Context, endpoint, reqURL string, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return contextError(ctx, err, reqURL)
	}

	start := time.Now()
	status := metrics.StatusSuccess
	defer func() {
		c.metrics.RecordRequest(endpoint, status, time.Since(start).Seconds())
	}()

	header := http.Header{}
	header.Set("X-eBirdApiToken", c.config.APIKey)
	header.Set("Accept", "application/json")

	resp, cancel, err := c.httpClient.Get(ctx, reqURL, header)
	if err != nil {
		if ctx.Err() != nil {
			status = string(errors.CategoryTimeout)
			return contextError(ctx, err, reqURL)
		}
		status = string(errors.CategoryNetwork)
		c.log.Warn("eBird API request failed",
			logger.Error(err),
			logger.String("endpoint", endpoint))
		return errors.Newf("HTTP request failed: %w", err).
			Category(errors.CategoryNetwork).
			Context("url", reqURL).
			Component("ebird").
			Build()
	}
	defer cancel()
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		status = string(errors.CategoryNetwork)
		return errors.Newf("failed to read response body: %w", err).
			Category(errors.CategoryNetwork).
			Context("url", reqURL).
			Context("status_code", resp.StatusCode).
			Component("ebird").
			Build()
	}

	if resp.StatusCode >= http.StatusBadRequest {
		category := getErrorCategory(resp.StatusCode)
		status = string(category)
		return c.apiError(resp.StatusCode, category, bodyBytes, reqURL)
	}

	// Check content type for non-error responses
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "application/json") {
		status = string(errors.CategoryNetwork)
		c.log.Error("eBird API returned non-JSON response",
			logger.Int("status_code", resp.StatusCode),
			logger.String("content_type", contentType),
			logger.String("endpoint", endpoint),
			logger.String("response_preview", preview(bodyBytes)))
		return errors.Newf("eBird API returned non-JSON response (Content-Type: %s)", contentType).
			Category(errors.CategoryNetwork).
			Context("status_code", resp.StatusCode).
			Context("content_type", contentType).
			Context("url", reqURL).
			Component("ebird").
			Build()
	}

	if result != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, result); err != nil {
			status = string(errors.CategoryFileParsing)
			c.log.Error("failed to parse eBird API response",
				logger.Error(err),
				logger.String("endpoint", endpoint),
				logger.Int("response_size", len(bodyBytes)),
				logger.String("response_preview", preview(bodyBytes)))
			return errors.Newf("failed to parse response: %w", err).
				Category(errors.CategoryFileParsing).
				Context("url", reqURL).
				Context("response_size", len(bodyBytes)).
				Component("ebird").
				Build()
		}
	}

	c.firstCallMu.Do(func() {
		c.log.Info("eBird API authentication successful",
			logger.String("endpoint", endpoint))
	})
	c.log.Debug("eBird API request successful",
		logger.String("endpoint", endpoint),
		logger.Int64("duration_ms", time.Since(start).Milliseconds()),
		logger.Int("response_size", len(bodyBytes)))

	return nil
}

// apiError converts an error status into an EnhancedError, preferring the
// detail from the API's error body.
func (c *Client) apiError(statusCode int, category errors.ErrorCategory, body []byte, reqURL string) error {
	apiErr := parseAPIError(body)
	apiErr.Status = statusCode

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		c.log.Error("eBird API authentication failed",
			logger.Int("status_code", statusCode),
			logger.String("error_title", apiErr.Title),
			logger.String("error_detail", apiErr.Detail),
			logger.String("message", "Check your eBird API key in the configuration"))
	case http.StatusNotFound, http.StatusTooManyRequests:
		// Expected outcomes; the pipeline falls through to the next tier.
		c.log.Debug("eBird API error response",
			logger.Int("status_code", statusCode),
			logger.String("error_category", string(category)))
	default:
		c.log.Warn("eBird API error response",
			logger.Int("status_code", statusCode),
			logger.String("error_title", apiErr.Title),
			logger.String("error_detail", apiErr.Detail))
	}

	detail := apiErr.Detail
	if detail == "" {
		detail = preview(body)
	}
	return errors.Newf("eBird API error (status %d): %s", statusCode, detail).
		Category(category).
		Context("status_code", statusCode).
		Context("error_title", apiErr.Title).
		Context("url", reqURL).
		Component("ebird").
		Build()
}

// doRequestWithRetry wraps doRequest with retry logic for transient failures
func (c *Client) doRequestWithRetry(ctx context.Context, endpoint, reqURL string, result any) error {
	maxRetries := c.config.MaxRetries
	var lastErr error

	for attempt := range maxRetries {
		err := c.doRequest(ctx, endpoint, reqURL, result)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err

		// Don't retry if context is cancelled
		if ctx.Err() != nil {
			return lastErr
		}

		if attempt < maxRetries-1 {
			delay := time.Duration(attempt+1) * c.retryDelay
			c.metrics.RecordRetry(endpoint)
			c.log.Warn("eBird API request failed, retrying",
				logger.Int("attempt", attempt+1),
				logger.Int("max_retries", maxRetries),
				logger.Int64("delay_ms", delay.Milliseconds()),
				logger.String("endpoint", endpoint),
				logger.Error(err))

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return contextError(ctx, ctx.Err(), reqURL)
			}
		}
	}

	return lastErr
}

// retryable reports whether a failed request may succeed on a later attempt.
func retryable(err error) bool {
	var enhancedErr *errors.EnhancedError
	if !errors.As(err, &enhancedErr) {
		return true
	}
	switch enhancedErr.Category {
	case errors.CategoryConfiguration, errors.CategoryNotFound, errors.CategoryValidation,
		errors.CategoryTimeout, errors.CategoryCancellation, errors.CategoryFileParsing:
		return false
	}
	if statusCode, ok := enhancedErr.Context["status_code"].(int); ok {
		// Don't retry client errors except 429
		if statusCode >= 400 && statusCode < 500 && statusCode != http.StatusTooManyRequests {
			return false
		}
	}
	return true
}

// getErrorCategory determines the appropriate error category based on HTTP status code
func getErrorCategory(statusCode int) errors.ErrorCategory {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.CategoryConfiguration
	case http.StatusTooManyRequests:
		return errors.CategoryLimit
	case http.StatusNotFound:
		return errors.CategoryNotFound
	default:
		return errors.CategoryNetwork
	}
}

func contextError(ctx context.Context, err error, reqURL string) error {
	category := errors.CategoryTimeout
	if errors.Is(ctx.Err(), context.Canceled) {
		category = errors.CategoryCancellation
	}
	return errors.Newf("eBird request aborted: %w", err).
		Category(category).
		Context("url", reqURL).
		Component("ebird").
		Build()
}

func parseAPIError(body []byte) Error {
	var apiErr Error
	if json.Unmarshal(body, &apiErr) == nil && (apiErr.Detail != "" || apiErr.Title != "") {
		return apiErr
	}
	var envelope errorEnvelope
	if json.Unmarshal(body, &envelope) == nil && len(envelope.Errors) > 0 {
		return envelope.Errors[0]
	}
	return Error{}
}

func preview(body []byte) string {
	if len(body) > responsePreviewLen {
		return string(body[:responsePreviewLen]) + "..."
	}
	return string(body)
}

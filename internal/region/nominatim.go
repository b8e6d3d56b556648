package region

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/httpclient"
	"github.com/tphakala/birdid/internal/logger"
)

const (
	// DefaultGeocodeTimeout bounds a single reverse-geocoding request.
	DefaultGeocodeTimeout = 10 * time.Second

	// zoomState asks Nominatim for state/province level detail.
	zoomState = 5

	maxGeocodeBody = 1 << 20
)

// Address is the part of a reverse-geocoding response the resolver needs.
type Address struct {
	CountryCode string // ISO 3166-1 alpha-2, upper case
	Country     string
	Subdivision string // first-level subdivision name, "" when absent
}

// Geocoder reverse-geocodes a coordinate.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (Address, error)
}

// NominatimConfig configures a Nominatim-compatible reverse geocoder.
type NominatimConfig struct {
	Endpoint  string
	UserAgent string
	Timeout   time.Duration
	RateLimit float64 // requests per second; Nominatim's public policy is 1
	Language  string
}

// Nominatim calls a Nominatim /reverse endpoint.
type Nominatim struct {
	cfg     NominatimConfig
	client  *httpclient.Client
	limiter *rate.Limiter
	log     logger.Logger
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
	Address     struct {
		CountryCode string `json:"country_code"`
		Country     string `json:"country"`
		State       string `json:"state"`
		Province    string `json:"province"`
		Region      string `json:"region"`
	} `json:"address"`
}

// NewNominatim creates a geocoder client. A nil client gets a fresh one using cfg's User-Agent.
func NewNominatim(cfg NominatimConfig, client *httpclient.Client) *Nominatim {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGeocodeTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if client == nil {
		client = httpclient.New(&httpclient.Config{DefaultTimeout: cfg.Timeout, UserAgent: cfg.UserAgent})
	}
	return &Nominatim{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		log:     GetLogger().Module("nominatim"),
	}
}

// Reverse resolves lat/lon to an address.
func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (Address, error) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	if err := n.limiter.Wait(ctx); err != nil {
		return Address{}, geocodeError(err, errors.CategoryTimeout, "rate_limit_wait")
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("format", "json")
	q.Set("addressdetails", "1")
	q.Set("zoom", strconv.Itoa(zoomState))
	q.Set("accept-language", n.cfg.Language)
	reqURL := n.cfg.Endpoint + "?" + q.Encode()

	header := http.Header{}
	if n.cfg.UserAgent != "" {
		header.Set("User-Agent", n.cfg.UserAgent)
	}

	start := time.Now()
	resp, release, err := n.client.Get(ctx, reqURL, header)
	if err != nil {
		category := errors.CategoryNetwork
		if ctx.Err() != nil {
			category = errors.CategoryTimeout
		}
		return Address{}, geocodeError(err, category, "request")
	}
	defer release()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxGeocodeBody))
		category := errors.CategoryNetwork
		if resp.StatusCode == http.StatusTooManyRequests {
			category = errors.CategoryLimit
		}
		return Address{}, errors.Newf("geocoder returned status %d", resp.StatusCode).
			Component("region").
			Category(category).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var body nominatimResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxGeocodeBody)).Decode(&body); err != nil {
		return Address{}, geocodeError(err, errors.CategoryFileParsing, "decode")
	}
	if body.Error != "" {
		return Address{}, errors.Newf("geocoder: %s", body.Error).
			Component("region").
			Category(errors.CategoryNotFound).
			Build()
	}

	addr := Address{
		CountryCode: strings.ToUpper(strings.TrimSpace(body.Address.CountryCode)),
		Country:     body.Address.Country,
		Subdivision: firstNonEmpty(body.Address.State, body.Address.Province, body.Address.Region),
	}
	n.log.Debug("reverse geocoded",
		logger.String("country_code", addr.CountryCode),
		logger.String("subdivision", addr.Subdivision),
		logger.Duration("elapsed", time.Since(start)))
	return addr, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func geocodeError(err error, category errors.ErrorCategory, op string) error {
	return errors.New(fmt.Errorf("reverse geocoding failed: %w", err)).
		Component("region").
		Category(category).
		Context("operation", op).
		Build()
}

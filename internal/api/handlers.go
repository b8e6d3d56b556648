package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/birdid/internal/checklist"
	"github.com/tphakala/birdid/internal/ebird"
	"github.com/tphakala/birdid/internal/errors"
	"github.com/tphakala/birdid/internal/locate"
	"github.com/tphakala/birdid/internal/logger"
	"github.com/tphakala/birdid/internal/reconcile"
	"github.com/tphakala/birdid/internal/region"
)

// provenanceNone is reported when no tier produced a list.
const provenanceNone = "NONE"

// SpeciesResponse describes a resolved species list. Available is false when
// every tier failed and results should be shown unfiltered.
type SpeciesResponse struct {
	Available        bool                    `json:"available"`
	Provenance       string                  `json:"provenance"`
	Label            string                  `json:"label,omitempty"`
	Region           string                  `json:"region,omitempty"`
	Country          string                  `json:"country,omitempty"`
	SpeciesCount     int                     `json:"speciesCount"`
	ObservationCount int                     `json:"observationCount,omitempty"`
	Species          []checklist.SpeciesCode `json:"species"`
	CachedAt         *time.Time              `json:"cachedAt,omitempty"`
	FromCache        bool                    `json:"fromCache"`
	TraceID          string                  `json:"traceId,omitempty"`
}

// ReconcileRequest carries classifier output plus an optional location.
// Global, or no location at all, reconciles without a filter. Predictions
// are accepted in place of Candidates as raw probabilities.
type ReconcileRequest struct {
	Lat         *float64               `json:"lat,omitempty"`
	Lon         *float64               `json:"lon,omitempty"`
	RadiusKm    int                    `json:"radiusKm,omitempty"`
	Region      string                 `json:"region,omitempty"`
	Global      bool                   `json:"global,omitempty"`
	Candidates  []reconcile.Candidate  `json:"candidates,omitempty"`
	Predictions []reconcile.Prediction `json:"predictions,omitempty"`
}

// ReconcileResponse is the reconciled list plus the filter that produced it.
type ReconcileResponse struct {
	reconcile.Outcome
	Filter *SpeciesResponse `json:"filter,omitempty"`
}

// RegionListResponse lists eBird regions.
type RegionListResponse struct {
	Regions []ebird.RegionInfo `json:"regions"`
	Count   int                `json:"count"`
}

// getSpecies handles GET /api/v1/species?lat=&lon=[&radius=] or ?region=.
func (s *Server) getSpecies(c echo.Context) error {
	ctx := c.Request().Context()

	var (
		res *locate.Resolution
		err error
	)
	if code := strings.TrimSpace(c.QueryParam("region")); code != "" {
		id, perr := region.Parse(code)
		if perr != nil {
			return s.handleError(c, perr, "Invalid region code")
		}
		res, err = s.deps.Resolver.ResolveRegion(ctx, id)
	} else {
		q, perr := s.queryFromParams(c)
		if perr != nil {
			return s.handleError(c, perr, "Invalid location")
		}
		res, err = s.deps.Resolver.Resolve(ctx, q)
	}
	if err != nil {
		return s.handleError(c, err, "Failed to resolve species list")
	}
	return c.JSON(http.StatusOK, speciesResponse(res))
}

// postReconcile handles POST /api/v1/reconcile.
func (s *Server) postReconcile(c echo.Context) error {
	ctx := c.Request().Context()

	var req ReconcileRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, errors.ValidationError("malformed request body"), "Invalid request body")
	}

	candidates := req.Candidates
	if len(candidates) == 0 && len(req.Predictions) > 0 {
		converted, err := reconcile.CandidatesFromPredictions(req.Predictions)
		if err != nil {
			return s.handleError(c, err, "Invalid predictions")
		}
		candidates = converted
	}

	filter, err := s.filterFor(c, &req)
	if err != nil {
		return s.handleError(c, err, "Failed to resolve species list")
	}

	outcome := s.deps.Reconciler.Reconcile(ctx, candidates, filter, s.deps.Lookup)
	resp := ReconcileResponse{Outcome: outcome}
	if outcome.Filter != nil {
		resp.Filter = speciesResponse(outcome.Filter)
		resp.Filter.Species = nil
	}
	return c.JSON(http.StatusOK, resp)
}

// filterFor resolves the request's location. nil means unfiltered.
func (s *Server) filterFor(c echo.Context, req *ReconcileRequest) (*locate.Resolution, error) {
	if req.Global {
		return nil, nil
	}
	ctx := c.Request().Context()
	if req.Region != "" {
		id, err := region.Parse(req.Region)
		if err != nil {
			return nil, err
		}
		return s.deps.Resolver.ResolveRegion(ctx, id)
	}
	if req.Lat == nil || req.Lon == nil {
		return nil, nil
	}
	radius := req.RadiusKm
	if radius == 0 {
		radius = s.deps.RadiusKm
	}
	return s.deps.Resolver.Resolve(ctx, locate.Query{Lat: *req.Lat, Lon: *req.Lon, RadiusKm: radius})
}

// getCountries handles GET /api/v1/countries.
func (s *Server) getCountries(c echo.Context) error {
	if s.deps.Reference == nil {
		return s.referenceUnavailable(c)
	}
	list, err := s.deps.Reference.Countries(c.Request().Context())
	if err != nil {
		return s.handleError(c, err, "Failed to list countries")
	}
	return c.JSON(http.StatusOK, RegionListResponse{Regions: list, Count: len(list)})
}

// getSubdivisions handles GET /api/v1/countries/:code/subdivisions.
func (s *Server) getSubdivisions(c echo.Context) error {
	if s.deps.Reference == nil {
		return s.referenceUnavailable(c)
	}
	id, err := region.NewCountry(c.Param("code"))
	if err != nil {
		return s.handleError(c, err, "Invalid country code")
	}
	list, err := s.deps.Reference.Subdivisions(c.Request().Context(), id.CountryCode())
	if err != nil {
		return s.handleError(c, err, "Failed to list subdivisions")
	}
	return c.JSON(http.StatusOK, RegionListResponse{Regions: list, Count: len(list)})
}

func (s *Server) referenceUnavailable(c echo.Context) error {
	err := errors.Newf("eBird API key not configured").
		Component("api").
		Category(errors.CategoryConfiguration).
		Build()
	return s.handleError(c, err, "Region listing unavailable")
}

func (s *Server) queryFromParams(c echo.Context) (locate.Query, error) {
	lat, err := floatParam(c, "lat")
	if err != nil {
		return locate.Query{}, err
	}
	lon, err := floatParam(c, "lon")
	if err != nil {
		return locate.Query{}, err
	}
	q := locate.Query{Lat: lat, Lon: lon, RadiusKm: s.deps.RadiusKm}
	if raw := c.QueryParam("radius"); raw != "" {
		r, err := strconv.Atoi(raw)
		if err != nil {
			return locate.Query{}, errors.ValidationError("radius must be an integer")
		}
		q.RadiusKm = r
	}
	return q, q.Validate()
}

func floatParam(c echo.Context, name string) (float64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, errors.ValidationError(name + " is required")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.ValidationError(name + " must be a number")
	}
	return v, nil
}

func speciesResponse(res *locate.Resolution) *SpeciesResponse {
	if res == nil {
		return &SpeciesResponse{Provenance: provenanceNone, Species: []checklist.SpeciesCode{}}
	}
	resp := &SpeciesResponse{
		Available:        true,
		Provenance:       string(res.Source()),
		Label:            res.Source().Label(),
		Country:          res.Country,
		SpeciesCount:     res.Entry.SpeciesCount,
		ObservationCount: res.Entry.ObservationCount,
		Species:          res.Species().Sorted(),
		FromCache:        res.FromCache,
		TraceID:          res.TraceID,
	}
	if !res.Region.IsZero() {
		resp.Region = res.Region.String()
	}
	if !res.Entry.CachedAt.IsZero() {
		cachedAt := res.Entry.CachedAt
		resp.CachedAt = &cachedAt
	}
	return resp
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// handleError maps err's category to a status code and writes an ErrorResponse.
func (s *Server) handleError(c echo.Context, err error, message string) error {
	code := statusFor(err)
	resp := ErrorResponse{
		Error:         err.Error(),
		Message:       message,
		Code:          code,
		CorrelationID: c.Response().Header().Get(echo.HeaderXRequestID),
	}

	log := s.log.WithContext(c.Request().Context())
	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("path", c.Path()),
		logger.Int("status", code),
		logger.String("category", string(errors.CategoryOf(err))),
		logger.Error(err),
	}
	if code >= http.StatusInternalServerError {
		log.Warn(message, fields...)
	} else {
		log.Debug(message, fields...)
	}
	return c.JSON(code, resp)
}

func statusFor(err error) int {
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryLimit:
		return http.StatusTooManyRequests
	case errors.CategoryConfiguration:
		return http.StatusServiceUnavailable
	case errors.CategoryTimeout, errors.CategoryCancellation:
		return http.StatusGatewayTimeout
	case errors.CategoryNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package http

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/iso-visibility-service/internal/domain"
	"github.com/couchcryptid/iso-visibility-service/internal/forecast"
	"github.com/couchcryptid/iso-visibility-service/internal/notify"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
)

const defaultDays = 30

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("query"); name != "" {
			return name
		}
		if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
			return name
		}
		return f.Name
	})
	return v
}

type visibilityParams struct {
	ObjectID  string     `query:"id" validate:"required,max=64"`
	Lat       *float64   `query:"lat" validate:"required,gte=-90,lte=90"`
	Lon       *float64   `query:"lon" validate:"required,gte=-180,lte=180"`
	Elevation float64    `query:"elevation" validate:"gte=-500,lte=10000"`
	Start     *time.Time `query:"start"`
	Days      int        `query:"days" validate:"gte=1,lte=90"`
}

type period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  int       `json:"days"`
}

type visibilityResponse struct {
	ObjectID       string                    `json:"object_id"`
	Designation    string                    `json:"designation"`
	Name           string                    `json:"name,omitempty"`
	Observer       domain.ObserverLocation   `json:"observer"`
	Period         period                    `json:"period"`
	SampleCount    int                       `json:"sample_count"`
	Source         string                    `json:"source"`
	UsedStaleCache bool                      `json:"used_stale_cache"`
	Forecast       domain.VisibilityForecast `json:"forecast"`
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	params, err := parseVisibilityParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	req := forecast.Request{
		ObjectID: params.ObjectID,
		Observer: domain.ObserverLocation{Latitude: *params.Lat, Longitude: *params.Lon, ElevationMeters: params.Elevation},
		Days:     params.Days,
	}
	if params.Start != nil {
		req.Start = *params.Start
	}

	res, err := s.deps.Forecasts.GetForecast(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	f := res.Forecast
	sharedobs.WriteJSON(w, http.StatusOK, visibilityResponse{
		ObjectID:       res.Object.ID,
		Designation:    res.Object.Designation,
		Name:           res.Object.Name,
		Observer:       f.Observer,
		Period:         period{Start: f.PeriodStart, End: f.PeriodEnd, Days: params.Days},
		SampleCount:    res.SampleCount,
		Source:         res.Source,
		UsedStaleCache: f.UsedStaleCache,
		Forecast:       f,
	})
}

func parseVisibilityParams(r *http.Request) (visibilityParams, error) {
	q := r.URL.Query()
	p := visibilityParams{ObjectID: r.PathValue("id"), Days: defaultDays}

	var err error
	if p.Lat, err = optionalFloat(q.Get("lat"), "lat"); err != nil {
		return p, err
	}
	if p.Lon, err = optionalFloat(q.Get("lon"), "lon"); err != nil {
		return p, err
	}
	if v := q.Get("elevation"); v != "" {
		if p.Elevation, err = strconv.ParseFloat(v, 64); err != nil {
			return p, fmt.Errorf("%w: elevation must be a number", domain.ErrInvalidInput)
		}
	}
	if v := q.Get("days"); v != "" {
		if p.Days, err = strconv.Atoi(v); err != nil {
			return p, fmt.Errorf("%w: days must be an integer", domain.ErrInvalidInput)
		}
	}
	if v := q.Get("start"); v != "" {
		t, err := parseStart(v)
		if err != nil {
			return p, err
		}
		p.Start = &t
	}

	if err := validate.Struct(p); err != nil {
		return p, validationError(err)
	}
	return p, nil
}

func optionalFloat(v, name string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", domain.ErrInvalidInput, name)
	}
	return &f, nil
}

// parseStart accepts RFC 3339 timestamps and plain dates (midnight UTC).
func parseStart(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: start must be an RFC 3339 timestamp or YYYY-MM-DD date", domain.ErrInvalidInput)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		case "lte", "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(msgs, "; "))
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	objects, err := s.deps.Objects.Objects(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if objects == nil {
		objects = []domain.Object{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"objects": objects})
}

func (s *Server) handleCanSend(w http.ResponseWriter, r *http.Request) {
	category, err := notify.ParseCategory(r.PathValue("category"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.deps.Notifications.CanSend(r.Context(), r.PathValue("userID"), category)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, d)
}

func (s *Server) handleRecordSend(w http.ResponseWriter, r *http.Request) {
	category, err := notify.ParseCategory(r.PathValue("category"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.deps.Notifications.RecordSend(r.Context(), r.PathValue("userID"), category)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"category": category, "sent_today": n})
}

type preferencesBody struct {
	Tier              string `json:"tier" validate:"omitempty,max=64"`
	Unsubscribed      bool   `json:"unsubscribed"`
	Reply             bool   `json:"reply"`
	Evidence          bool   `json:"evidence"`
	ObservationWindow bool   `json:"observation_window"`
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Preferences.Preferences(r.Context(), r.PathValue("userID"))
	if errors.Is(err, notify.ErrNoPreferences) {
		writeErrorBody(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var body preferencesBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: decode preferences: %w", domain.ErrInvalidInput, err))
		return
	}
	if err := validate.Struct(body); err != nil {
		s.writeError(w, r, validationError(err))
		return
	}

	p := notify.Preferences{
		UserID:            r.PathValue("userID"),
		Tier:              body.Tier,
		Unsubscribed:      body.Unsubscribed,
		Reply:             body.Reply,
		Evidence:          body.Evidence,
		ObservationWindow: body.ObservationWindow,
	}
	if err := s.deps.Preferences.UpsertPreferences(r.Context(), p, s.deps.Clock.Now()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleGetPreferences(w, r)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Cache.ClearAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("cache cleared", "removed", n)
	sharedobs.WriteJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleSweepCache(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Cache.ClearStale(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// writeError maps domain errors to HTTP statuses. Upstream failures win over
// anything they wrap. Unclassified errors are logged and reported as 500
// without their detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		writeErrorBody(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeErrorBody(w, http.StatusBadRequest, err.Error())
	case domain.IsNotFound(err):
		writeErrorBody(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()), "error", err)
		writeErrorBody(w, http.StatusInternalServerError, "internal error")
	}
}

func writeErrorBody(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}

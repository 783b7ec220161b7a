// Package api exposes HTTP handlers for the steps service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"example.com/steps/internal/chart"
	"example.com/steps/internal/domain"
	"example.com/steps/internal/observability"
)

const (
	// TrendsPath serves the weekly, monthly and yearly step charts.
	TrendsPath = "/metrics/steps"

	defaultMaxUploadBytes = 256 << 20
	uploadPrefix          = "uploads/"
	uploadExtension       = ".xml"
)

// BlobPutter stores uploaded bytes under a key.
type BlobPutter interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// Notifier announces stored uploads to the ingestion consumer.
type Notifier interface {
	PublishUpload(ctx context.Context, key string) error
}

// TrendReader computes trend aggregates.
type TrendReader interface {
	Today() time.Time
	Trends(ctx context.Context, today time.Time) (domain.Trends, error)
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMaxUploadBytes caps the request body accepted by the upload endpoint.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// Handler coordinates HTTP requests with the blob store, notifier and trend service.
type Handler struct {
	blobs          BlobPutter
	notifier       Notifier
	trends         TrendReader
	maxUploadBytes int64
	logger         *slog.Logger
	newKey         func() string
}

// NewHandler builds a Handler.
func NewHandler(blobs BlobPutter, notifier Notifier, trends TrendReader, opts ...Option) *Handler {
	h := &Handler{
		blobs:          blobs,
		notifier:       notifier,
		trends:         trends,
		maxUploadBytes: defaultMaxUploadBytes,
		logger:         slog.Default().With("component", "api"),
		newKey: func() string {
			return uploadPrefix + uuid.NewString() + uploadExtension
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", healthz)
	r.Post("/upload", h.upload)
	r.Get(TrendsPath, h.stepTrends)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		observability.RecordUpload("rejected")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "missing file field")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(header.Filename, uploadExtension) {
		observability.RecordUpload("rejected")
		writeError(w, http.StatusBadRequest, "invalid_file_format", "Invalid file format!")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		observability.RecordUpload("rejected")
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to read file")
		return
	}

	key, err := h.blobs.Put(r.Context(), h.newKey(), data)
	if err != nil {
		observability.RecordUpload("failed")
		h.logger.Error("store upload failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "server_error", "unable to store file")
		return
	}

	if err := h.notifier.PublishUpload(r.Context(), key); err != nil {
		observability.RecordUpload("failed")
		h.logger.Error("publish upload failed", slog.String("file", key), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "publish_failed", "file stored but processing could not be scheduled")
		return
	}

	observability.RecordUpload("accepted")
	h.logger.Info("upload accepted", slog.String("file", key), slog.Int("bytes", len(data)))
	http.Redirect(w, r, TrendsPath, http.StatusSeeOther)
}

func (h *Handler) stepTrends(w http.ResponseWriter, r *http.Request) {
	today := h.trends.Today()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "date must be YYYY-MM-DD")
			return
		}
		today = parsed
	}

	trends, err := h.trends.Trends(r.Context(), today)
	if err != nil {
		h.logger.Error("compute trends failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "server_error", "unable to compute step trends")
		return
	}

	writeJSON(w, http.StatusOK, NewTrendsResponse(trends))
}

// PointView is a labelled value in API responses.
type PointView struct {
	Label string `json:"label"`
	Value int64  `json:"value"`
}

// WindowView describes which calendar slice a chart covers.
type WindowView struct {
	Kind               string `json:"kind"`
	Year               int    `json:"year"`
	SubPeriod          int    `json:"sub_period,omitempty"`
	UsesPreviousPeriod bool   `json:"uses_previous_period"`
	From               string `json:"from"`
	To                 string `json:"to"`
}

// TrendsResponse carries the three charts and best-day/month highlights.
type TrendsResponse struct {
	Today          string     `json:"today"`
	WeeklyChart    chart.Spec `json:"weekly_chart"`
	MonthlyChart   chart.Spec `json:"monthly_chart"`
	YearlyChart    chart.Spec `json:"yearly_chart"`
	WeeklyWindow   WindowView `json:"weekly_window"`
	MonthlyWindow  WindowView `json:"monthly_window"`
	YearlyWindow   WindowView `json:"yearly_window"`
	WeeklyAverage  float64    `json:"weekly_average"`
	MonthlyAverage float64    `json:"monthly_average"`
	YearlyAverage  float64    `json:"yearly_average"`
	BestWeekDay    *PointView `json:"best_week_day"`
	BestMonthDay   *PointView `json:"best_month_day"`
	BestYearMonth  *PointView `json:"best_year_month"`
}

// NewTrendsResponse renders trends into chart specs and highlights.
func NewTrendsResponse(t domain.Trends) TrendsResponse {
	return TrendsResponse{
		Today:          t.Today.Format(domain.DateLayout),
		WeeklyChart:    chart.Build(t.Weekly.Series, t.Weekly.Average, "Current Week Steps Trend", "Date", "Steps"),
		MonthlyChart:   chart.Build(t.Monthly.Series, t.Monthly.Average, "Current Month Steps Trend", "Day", "Steps"),
		YearlyChart:    chart.Build(t.Yearly.Series, t.Yearly.Average, "Current Year Steps Trend", "Month", "Steps"),
		WeeklyWindow:   toWindowView(t.Weekly.Window),
		MonthlyWindow:  toWindowView(t.Monthly.Window),
		YearlyWindow:   toWindowView(t.Yearly.Window),
		WeeklyAverage:  t.Weekly.Average,
		MonthlyAverage: t.Monthly.Average,
		YearlyAverage:  t.Yearly.Average,
		BestWeekDay:    toPointView(t.Weekly.Best),
		BestMonthDay:   toPointView(t.Monthly.Best),
		BestYearMonth:  toPointView(t.Yearly.Best),
	}
}

func toWindowView(w domain.Window) WindowView {
	return WindowView{
		Kind:               string(w.Kind),
		Year:               w.Year,
		SubPeriod:          w.SubPeriod,
		UsesPreviousPeriod: w.UsesPreviousPeriod,
		From:               w.From.Format(domain.DateLayout),
		To:                 w.To.Format(domain.DateLayout),
	}
}

func toPointView(p *domain.Point) *PointView {
	if p == nil {
		return nil
	}
	return &PointView{Label: p.Label, Value: p.Value}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"example.com/steps/internal/domain"
	"example.com/steps/internal/persistence/memory"
)

type fakeBlobs struct {
	stored map[string][]byte
	err    error
}

func (f *fakeBlobs) Put(_ context.Context, key string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.stored == nil {
		f.stored = make(map[string][]byte)
	}
	f.stored[key] = data
	return key, nil
}

type fakeNotifier struct {
	keys []string
	err  error
}

func (f *fakeNotifier) PublishUpload(_ context.Context, key string) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	return nil
}

func newTestRouter(t *testing.T, blobs BlobPutter, notifier Notifier, trends TrendReader) http.Handler {
	t.Helper()
	h := NewHandler(blobs, notifier, trends, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	h.newKey = func() string { return "uploads/fixed.xml" }
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func multipartUpload(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func fixedTrends(store domain.TotalsReader, today time.Time) *domain.TrendService {
	return domain.NewTrendService(store, domain.WithClock(func() time.Time { return today }))
}

func TestUploadStoresAndNotifies(t *testing.T) {
	blobs := &fakeBlobs{}
	notifier := &fakeNotifier{}
	router := newTestRouter(t, blobs, notifier, fixedTrends(memory.New(), time.Now()))

	payload := []byte(`<HealthData/>`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartUpload(t, "export.xml", payload))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, TrendsPath, rec.Header().Get("Location"))
	require.Equal(t, payload, blobs.stored["uploads/fixed.xml"])
	require.Equal(t, []string{"uploads/fixed.xml"}, notifier.keys)
}

func TestUploadRejectsNonXML(t *testing.T) {
	for _, name := range []string{"export.zip", "export.XML", "export"} {
		t.Run(name, func(t *testing.T) {
			blobs := &fakeBlobs{}
			notifier := &fakeNotifier{}
			router := newTestRouter(t, blobs, notifier, fixedTrends(memory.New(), time.Now()))

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, multipartUpload(t, name, []byte("data")))

			require.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, "invalid_file_format", body["type"])
			require.Equal(t, "Invalid file format!", body["detail"])
			require.Empty(t, blobs.stored)
			require.Empty(t, notifier.keys)
		})
	}
}

func TestUploadMissingFileField(t *testing.T) {
	router := newTestRouter(t, &fakeBlobs{}, &fakeNotifier{}, fixedTrends(memory.New(), time.Now()))
	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewBufferString("nothing"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadFailures(t *testing.T) {
	t.Run("blob store", func(t *testing.T) {
		notifier := &fakeNotifier{}
		router := newTestRouter(t, &fakeBlobs{err: errors.New("disk full")}, notifier, fixedTrends(memory.New(), time.Now()))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, multipartUpload(t, "export.xml", []byte("<a/>")))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.Empty(t, notifier.keys)
	})

	t.Run("too large", func(t *testing.T) {
		blobs := &fakeBlobs{}
		h := NewHandler(blobs, &fakeNotifier{}, fixedTrends(memory.New(), time.Now()),
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			WithMaxUploadBytes(1024),
		)
		router := chi.NewRouter()
		h.RegisterRoutes(router)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, multipartUpload(t, "export.xml", bytes.Repeat([]byte("x"), 10<<10)))
		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "payload_too_large", body["type"])
		require.Empty(t, blobs.stored)
	})

	t.Run("publish", func(t *testing.T) {
		blobs := &fakeBlobs{}
		router := newTestRouter(t, blobs, &fakeNotifier{err: errors.New("broker down")}, fixedTrends(memory.New(), time.Now()))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, multipartUpload(t, "export.xml", []byte("<a/>")))
		require.Equal(t, http.StatusBadGateway, rec.Code)
		require.Contains(t, blobs.stored, "uploads/fixed.xml")
	})
}

func TestStepTrends(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.InsertRecords(ctx, []domain.StoredRecord{
		{Date: time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC), StepCount: 800},
		{Date: time.Date(2024, time.June, 4, 0, 0, 0, 0, time.UTC), StepCount: 1000},
	}))
	router := newTestRouter(t, &fakeBlobs{}, &fakeNotifier{}, fixedTrends(store, time.Now()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, TrendsPath+"?date=2024-06-05", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp TrendsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "2024-06-05", resp.Today)
	require.Equal(t, "week", resp.WeeklyWindow.Kind)
	require.InDelta(t, 900, resp.WeeklyAverage, 1e-9)
	require.NotNil(t, resp.BestWeekDay)
	require.Equal(t, PointView{Label: "2024-06-04", Value: 1000}, *resp.BestWeekDay)
	require.Equal(t, []string{"2024-06-03", "2024-06-04"}, resp.WeeklyChart.Data[0].X)
	require.Equal(t, "Current Week Steps Trend", resp.WeeklyChart.Layout.Title)
	require.NotNil(t, resp.BestYearMonth)
	require.Equal(t, "Jun", resp.BestYearMonth.Label)
}

func TestStepTrendsEmptyStore(t *testing.T) {
	router := newTestRouter(t, &fakeBlobs{}, &fakeNotifier{}, fixedTrends(memory.New(), time.Date(2024, time.June, 5, 12, 0, 0, 0, time.UTC)))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, TrendsPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.JSONEq(t, `"2024-06-05"`, string(raw["today"]))
	require.JSONEq(t, `null`, string(raw["best_week_day"]))
	require.JSONEq(t, `0`, string(raw["weekly_average"]))
}

func TestStepTrendsRejectsBadDate(t *testing.T) {
	router := newTestRouter(t, &fakeBlobs{}, &fakeNotifier{}, fixedTrends(memory.New(), time.Now()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, TrendsPath+"?date=06/05/2024", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type failingTrends struct{}

func (failingTrends) Today() time.Time { return time.Date(2024, time.June, 5, 0, 0, 0, 0, time.UTC) }

func (failingTrends) Trends(context.Context, time.Time) (domain.Trends, error) {
	return domain.Trends{}, errors.New(`pq: relation "steps_data" does not exist`)
}

func TestStepTrendsHidesStoreErrors(t *testing.T) {
	router := newTestRouter(t, &fakeBlobs{}, &fakeNotifier{}, failingTrends{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, TrendsPath, nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "server_error", body["type"])
	require.Equal(t, "unable to compute step trends", body["detail"])
	require.NotContains(t, rec.Body.String(), "steps_data")
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, &fakeBlobs{}, &fakeNotifier{}, fixedTrends(memory.New(), time.Now()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

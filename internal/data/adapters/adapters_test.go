package adapters

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/i474232898/data-aggregator/internal/data"
	"github.com/i474232898/data-aggregator/pkg/logger"
)

var fastBackoff = BackoffConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func newTestFactory(opts ...Option) *Factory {
	base := []Option{WithBackoff(fastBackoff), WithLogger(logger.Nop())}
	return NewFactory(append(base, opts...)...)
}

func serveJSON(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func mustBuild(t *testing.T, f *Factory, class, name string, cfg Config) data.Adapter {
	t.Helper()
	a, err := f.Build(class, name, cfg)
	if err != nil {
		t.Fatalf("build %s: %v", class, err)
	}
	return a
}

func TestOpenMeteoTransformsColumns(t *testing.T) {
	srv := serveJSON(t, `{
		"hourly": {
			"time": ["2025-10-07T10:00:00Z", "2025-10-07T11:00"],
			"temperature_2m": [20.5, 21.0],
			"wind_speed_10m": [5.0, 6.0]
		}
	}`)

	a := mustBuild(t, newTestFactory(), OpenMeteoClass, "openmeteo", Config{
		BaseURL: srv.URL,
		FieldMapping: map[string]string{
			"temperature_2m": "temperature",
			"wind_speed_10m": "wind_speed",
		},
	})

	points, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if v, _ := points[0].Get("temperature"); !data.Equal(v, data.Number(20.5)) {
		t.Errorf("temperature = %s, want 20.5", data.Canonical(v))
	}
	if v, _ := points[1].Get("wind_speed"); !data.Equal(v, data.Number(6)) {
		t.Errorf("wind_speed = %s, want 6", data.Canonical(v))
	}
	want := time.Date(2025, 10, 7, 11, 0, 0, 0, time.UTC)
	if !points[1].Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", points[1].Timestamp, want)
	}
	if keys := points[0].Fields.Keys(); len(keys) != 2 || keys[0] != "temperature" {
		t.Errorf("unexpected field order %v", keys)
	}
}

func TestOpenMeteoShortColumnsAndBadRows(t *testing.T) {
	a := &OpenMeteoAdapter{base: newBase("openmeteo", data.DataTypeHourly, Config{}, Deps{Logger: logger.Nop()})}

	var root data.Object
	if err := root.UnmarshalJSON([]byte(`{"hourly": {"time": ["bogus", "2025-10-07T10:00", "2025-10-07T11:00"], "t": [1, 2]}}`)); err != nil {
		t.Fatal(err)
	}
	points, err := a.transform(context.Background(), &root)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected the unparseable row to be dropped, got %d points", len(points))
	}
	if v, _ := points[1].Get("t"); !v.IsNull() {
		t.Errorf("short column should yield null, got %s", data.Canonical(v))
	}
}

func TestOpenMeteoShapeErrors(t *testing.T) {
	a := &OpenMeteoAdapter{base: newBase("openmeteo", data.DataTypeHourly, Config{}, Deps{Logger: logger.Nop()})}

	cases := map[string]string{
		"missing hourly": `{"daily": {}}`,
		"missing time":   `{"hourly": {"t": [1]}}`,
		"scalar column":  `{"hourly": {"time": ["2025-10-07T10:00"], "t": 1}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var root data.Object
			if err := root.UnmarshalJSON([]byte(body)); err != nil {
				t.Fatal(err)
			}
			_, err := a.transform(context.Background(), &root)
			var te *data.TransformError
			if !errors.As(err, &te) {
				t.Fatalf("expected TransformError, got %v", err)
			}
		})
	}
}

func TestCoinCapTransformsAssets(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		if r.URL.Query().Get("limit") != "2" {
			t.Errorf("limit param not forwarded: %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{
			"data": [
				{"id": "bitcoin", "rank": "1", "symbol": "BTC", "name": "Bitcoin", "priceUsd": "64000.5", "explorer": "https://blockchain.info/"},
				{"id": "ethereum", "rank": "2", "symbol": "ETH", "name": "Ethereum", "priceUsd": "3100.25", "vwap24Hr": null}
			],
			"timestamp": 1759831200000
		}`))
	}))
	t.Cleanup(srv.Close)

	a := mustBuild(t, newTestFactory(), CoinCapClass, "coincap", Config{
		BaseURL:      srv.URL,
		Params:       map[string]string{"limit": "2"},
		FieldMapping: map[string]string{"priceUsd": "price_usd"},
		APIKey:       "secret",
		UniqueKey:    "asset_id,timestamp",
	})

	points, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if got := auth.Load(); got != "Bearer secret" {
		t.Errorf("authorization header = %v", got)
	}

	want := time.UnixMilli(1759831200000).UTC()
	for _, p := range points {
		if !p.Timestamp.Equal(want) {
			t.Errorf("timestamp = %v, want %v", p.Timestamp, want)
		}
	}

	btc := points[0]
	keys := btc.Fields.Keys()
	if keys[0] != "asset_id" || keys[1] != "asset_name" || keys[2] != "symbol" {
		t.Errorf("identity fields should come first, got %v", keys)
	}
	if _, ok := btc.Get("rank"); ok {
		t.Error("rank must not be copied")
	}
	if v, _ := btc.Get("price_usd"); !data.Equal(v, data.Number(64000.5)) {
		t.Errorf("price_usd = %s", data.Canonical(v))
	}
	if v, _ := btc.Get("explorer"); !data.Equal(v, data.String("https://blockchain.info/")) {
		t.Errorf("non-numeric values must pass through, got %s", data.Canonical(v))
	}
	if v, ok := points[1].Get("vwap24Hr"); !ok || !v.IsNull() {
		t.Errorf("null values must be kept as null")
	}
	if a.UniqueKey() != "asset_id,timestamp" {
		t.Errorf("unique key = %q", a.UniqueKey())
	}
}

func TestCoinCapUsesClockWithoutPayloadTimestamp(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 600, time.FixedZone("CET", 3600))
	a := &CoinCapAdapter{base: newBase("coincap", data.DataTypeHourly, Config{}, Deps{Logger: logger.Nop(), Now: func() time.Time { return now }})}

	var root data.Object
	if err := root.UnmarshalJSON([]byte(`{"data": [{"id": "bitcoin"}]}`)); err != nil {
		t.Fatal(err)
	}
	points, err := a.transform(&root)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2025, 1, 2, 2, 4, 5, 0, time.UTC); !points[0].Timestamp.Equal(want) || points[0].Timestamp.Location() != time.UTC {
		t.Errorf("timestamp = %v, want %v", points[0].Timestamp, want)
	}

	if err := root.UnmarshalJSON([]byte(`{"data": ["bitcoin"]}`)); err != nil {
		t.Fatal(err)
	}
	var te *data.TransformError
	if _, err := a.transform(&root); !errors.As(err, &te) {
		t.Errorf("expected TransformError for non-object asset, got %v", err)
	}
}

func TestFetchErrorOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	a := mustBuild(t, newTestFactory(), OpenMeteoClass, "openmeteo", Config{BaseURL: srv.URL})
	_, err := a.Fetch(context.Background())

	var fe *data.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Source != "openmeteo" {
		t.Errorf("source = %q", fe.Source)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("4xx must not be retried, got %d calls", n)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"hourly": {"time": ["2025-10-07T10:00"], "t": [1]}}`))
	}))
	t.Cleanup(srv.Close)

	a := mustBuild(t, newTestFactory(), OpenMeteoClass, "openmeteo", Config{BaseURL: srv.URL})
	points, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(points) != 1 || calls.Load() != 3 {
		t.Errorf("points = %d, calls = %d", len(points), calls.Load())
	}
}

func TestNonJSONBodyIsTransformError(t *testing.T) {
	srv := serveJSON(t, `[1, 2, 3]`)
	a := mustBuild(t, newTestFactory(), CoinCapClass, "coincap", Config{BaseURL: srv.URL})

	_, err := a.Fetch(context.Background())
	var te *data.TransformError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransformError, got %v", err)
	}
}

func TestFactoryUnknownClass(t *testing.T) {
	_, err := newTestFactory().Build("NopeAdapter", "nope", Config{})
	if !errors.Is(err, data.ErrUnknownAdapter) {
		t.Fatalf("expected ErrUnknownAdapter, got %v", err)
	}
}

func TestFactoryGeocodesCity(t *testing.T) {
	var gotCity string
	f := newTestFactory(WithGeocodeFunc(func(city, country string) (float64, float64, error) {
		gotCity = city + "/" + country
		return 48.2082, 16.3738, nil
	}))

	a := mustBuild(t, f, OpenMeteoClass, "vienna", Config{
		BaseURL: "http://example.test",
		City:    "Vienna",
		Country: "AT",
		Params:  map[string]string{"hourly": "temperature_2m"},
	})
	om := a.(*OpenMeteoAdapter)

	if gotCity != "Vienna/AT" {
		t.Errorf("geocoder called with %q", gotCity)
	}
	if om.cfg.Params["latitude"] != "48.2082" || om.cfg.Params["longitude"] != "16.3738" {
		t.Errorf("params = %v", om.cfg.Params)
	}
	coords, ok := a.Metadata().Get("location_coords")
	if !ok || !data.Equal(coords, data.ValueOf(map[string]any{"latitude": 48.2082, "longitude": 16.3738})) {
		t.Errorf("location_coords = %s", data.Canonical(coords))
	}
}

func TestMetadataCopiedVerbatim(t *testing.T) {
	a := mustBuild(t, newTestFactory(), OpenMeteoClass, "openmeteo", Config{
		BaseURL:  "http://example.test",
		Location: map[string]any{"city": "Vienna"},
		Fields: map[string]any{
			"temperature": map[string]any{"unit": "°C", "aggregates": []any{"avg", "max"}},
		},
	})

	meta := a.Metadata()
	if got := meta.Keys(); len(got) != 2 || got[0] != "location" || got[1] != "fields" {
		t.Fatalf("metadata keys = %v", got)
	}
	opts := data.ParseFieldOptions(meta)
	if opts["temperature"].Unit != "°C" || len(opts["temperature"].Aggregates) != 2 {
		t.Errorf("field options = %+v", opts["temperature"])
	}

	bare := mustBuild(t, newTestFactory(), CoinCapClass, "coincap", Config{BaseURL: "http://example.test"})
	if bare.Metadata() != nil {
		t.Error("adapter without metadata should return nil")
	}
}

package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/data-aggregator/internal/data"
	"github.com/i474232898/data-aggregator/pkg/logger"
)

// Deps are the shared collaborators handed to every adapter constructor.
type Deps struct {
	Client  *http.Client
	Backoff BackoffConfig
	Logger  logger.Logger
	Now     func() time.Time
}

// Constructor builds one adapter instance for a source.
type Constructor func(name string, cfg Config, deps Deps) (data.Adapter, error)

// GeocodeFunc resolves a city to coordinates.
type GeocodeFunc func(city, country string) (lat, lon float64, err error)

// Factory creates adapters by class name.
type Factory struct {
	mu      sync.RWMutex
	ctors   map[string]Constructor
	deps    Deps
	geocode GeocodeFunc
	log     logger.Logger
}

// Option configures a Factory.
type Option func(*Factory)

// WithHTTPClient shares client between all adapters instead of one client per source.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Factory) { f.deps.Client = client }
}

func WithBackoff(b BackoffConfig) Option {
	return func(f *Factory) { f.deps.Backoff = b }
}

func WithLogger(l logger.Logger) Option {
	return func(f *Factory) {
		if l != nil {
			f.log = l
			f.deps.Logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Factory) { f.deps.Now = now }
}

// WithGeocoder enables Google geocoding of sources that name a city but no coordinates.
// An empty apiKey leaves geocoding disabled.
func WithGeocoder(apiKey string) Option {
	return func(f *Factory) {
		if apiKey == "" {
			return
		}
		geocoder.ApiKey = apiKey
		f.geocode = func(city, country string) (float64, float64, error) {
			loc, err := geocoder.Geocoding(geocoder.Address{City: city, Country: country})
			if err != nil {
				return 0, 0, err
			}
			return loc.Latitude, loc.Longitude, nil
		}
	}
}

// WithGeocodeFunc installs a custom geocoder.
func WithGeocodeFunc(fn GeocodeFunc) Option {
	return func(f *Factory) { f.geocode = fn }
}

// NewFactory returns a factory with the built-in adapter classes registered.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		ctors: map[string]Constructor{
			OpenMeteoClass: NewOpenMeteoAdapter,
			CoinCapClass:   NewCoinCapAdapter,
		},
		log: logger.Named("adapters"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register adds or replaces an adapter class.
func (f *Factory) Register(class string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[class] = ctor
}

// Classes returns the registered class names, sorted.
func (f *Factory) Classes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.ctors))
	for class := range f.ctors {
		out = append(out, class)
	}
	sort.Strings(out)
	return out
}

// Build creates the adapter for source name. An unknown class fails with data.ErrUnknownAdapter.
func (f *Factory) Build(class, name string, cfg Config) (data.Adapter, error) {
	f.mu.RLock()
	ctor, ok := f.ctors[class]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", data.ErrUnknownAdapter, class, strings.Join(f.Classes(), ", "))
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("adapter source name is required")
	}

	cfg, err := f.locate(cfg)
	if err != nil {
		return nil, fmt.Errorf("geocode %s: %w", name, err)
	}
	return ctor(name, cfg, f.deps)
}

// locate fills latitude/longitude parameters from the configured city.
func (f *Factory) locate(cfg Config) (Config, error) {
	if f.geocode == nil || cfg.City == "" {
		return cfg, nil
	}
	if cfg.Params["latitude"] != "" && cfg.Params["longitude"] != "" {
		return cfg, nil
	}

	lat, lon, err := f.geocode(cfg.City, cfg.Country)
	if err != nil {
		return cfg, err
	}

	params := make(map[string]string, len(cfg.Params)+2)
	for k, v := range cfg.Params {
		params[k] = v
	}
	params["latitude"] = strconv.FormatFloat(lat, 'f', -1, 64)
	params["longitude"] = strconv.FormatFloat(lon, 'f', -1, 64)
	cfg.Params = params
	if cfg.LocationCoords == nil {
		cfg.LocationCoords = map[string]any{"latitude": lat, "longitude": lon}
	}
	f.log.Info(context.Background(), "geocoded source location",
		logger.String("city", cfg.City),
		logger.Float64("latitude", lat),
		logger.Float64("longitude", lon))
	return cfg, nil
}

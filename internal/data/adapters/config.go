package adapters

import (
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/data-aggregator/internal/data"
	"github.com/i474232898/data-aggregator/pkg/logger"
)

// DefaultTimeout bounds one fetch, retries included.
const DefaultTimeout = 30 * time.Second

// Config is the per-source adapter configuration block.
type Config struct {
	BaseURL        string            `koanf:"base_url" validate:"required,url"`
	Params         map[string]string `koanf:"params"`
	FieldMapping   map[string]string `koanf:"field_mapping"`
	NumericFields  []string          `koanf:"numeric_fields"`
	Location       any               `koanf:"location"`
	LocationCoords any               `koanf:"location_coords"`
	Fields         map[string]any    `koanf:"fields"`
	UniqueKey      string            `koanf:"unique_key"`
	APIKey         string            `koanf:"api_key"`
	City           string            `koanf:"city"`
	Country        string            `koanf:"country"`
	Timeout        time.Duration     `koanf:"timeout"`
	Description    string            `koanf:"description"`
	DataType       data.DataType     `koanf:"data_type" validate:"omitempty,oneof=hourly daily"`
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c Config) dataType(def data.DataType) data.DataType {
	if c.DataType == "" {
		return def
	}
	return c.DataType
}

// metadata copies location, location_coords and fields verbatim. It returns nil
// when none is configured.
func (c Config) metadata() *data.Object {
	meta := data.NewObject()
	if c.Location != nil {
		meta.Set("location", data.ValueOf(c.Location))
	}
	if c.LocationCoords != nil {
		meta.Set("location_coords", data.ValueOf(c.LocationCoords))
	}
	if c.Fields != nil {
		meta.Set("fields", data.ValueOf(c.Fields))
	}
	if meta.Len() == 0 {
		return nil
	}
	return meta
}

func (c Config) mapField(name string) string {
	if mapped, ok := c.FieldMapping[name]; ok && mapped != "" {
		return mapped
	}
	return name
}

// base carries what every built-in adapter shares: identity, configuration,
// the resilient HTTP setup and a logger.
type base struct {
	name     string
	dataType data.DataType
	cfg      Config
	http     HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
	log      logger.Logger
	now      func() time.Time
}

func newBase(name string, def data.DataType, cfg Config, deps Deps) base {
	client := deps.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout()}
	}
	backoff := deps.Backoff
	if backoff == (BackoffConfig{}) {
		backoff = DefaultBackoff
	}
	log := deps.Logger
	if log == nil {
		log = logger.Named("adapter")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return base{
		name:     name,
		dataType: cfg.dataType(def),
		cfg:      cfg,
		http:     HTTPClientConfig{Client: client, Backoff: backoff},
		circuit:  newBreaker(name),
		log:      log.With(logger.String("source", name)),
		now:      now,
	}
}

func (b *base) SourceName() string      { return b.name }
func (b *base) DataType() data.DataType { return b.dataType }
func (b *base) Description() string     { return b.cfg.Description }
func (b *base) Metadata() *data.Object  { return b.cfg.metadata() }
func (b *base) UniqueKey() string       { return b.cfg.UniqueKey }

func (b *base) NumericFields() []string {
	out := make([]string, len(b.cfg.NumericFields))
	copy(out, b.cfg.NumericFields)
	return out
}

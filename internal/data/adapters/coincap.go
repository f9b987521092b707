package adapters

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/i474232898/data-aggregator/internal/data"
)

// CoinCapClass is the adapter class name used in source configuration.
const CoinCapClass = "CoinCapAdapter"

// identity fields of a CoinCap asset; they are emitted as asset_id, asset_name and symbol.
var coinCapIdentity = map[string]bool{"id": true, "name": true, "symbol": true, "rank": true}

// CoinCapAdapter reads the CoinCap asset list. All assets of one response share a timestamp.
type CoinCapAdapter struct {
	base
}

var _ data.Adapter = (*CoinCapAdapter)(nil)

// NewCoinCapAdapter builds an adapter for source name.
func NewCoinCapAdapter(name string, cfg Config, deps Deps) (data.Adapter, error) {
	return &CoinCapAdapter{base: newBase(name, data.DataTypeHourly, cfg, deps)}, nil
}

func (a *CoinCapAdapter) Fetch(ctx context.Context) ([]data.Point, error) {
	var header http.Header
	if a.cfg.APIKey != "" {
		header = http.Header{"Authorization": []string{"Bearer " + a.cfg.APIKey}}
	}
	root, err := a.getJSON(ctx, queryParams(a.cfg.Params), header)
	if err != nil {
		return nil, err
	}
	return a.transform(root)
}

func (a *CoinCapAdapter) transform(root *data.Object) ([]data.Point, error) {
	dataVal, ok := root.Get("data")
	if !ok {
		return nil, &data.TransformError{Source: a.name, Reason: `missing "data" array`}
	}
	assets, ok := dataVal.AsArray()
	if !ok {
		return nil, &data.TransformError{Source: a.name, Reason: `"data" is not an array`}
	}

	ts := data.NormalizeTimestamp(a.now())
	if tv, ok := root.Get("timestamp"); ok {
		if ms, ok := tv.Float(); ok && ms > 0 {
			ts = data.NormalizeTimestamp(time.UnixMilli(int64(ms)))
		}
	}

	points := make([]data.Point, 0, len(assets))
	for i, item := range assets {
		asset, ok := item.AsObject()
		if !ok {
			return nil, &data.TransformError{Source: a.name, Reason: fmt.Sprintf("data[%d] is not an object", i)}
		}
		p := data.NewPoint(ts)
		p.Fields.Set("asset_id", field(asset, "id"))
		p.Fields.Set("asset_name", field(asset, "name"))
		p.Fields.Set("symbol", field(asset, "symbol"))
		asset.Range(func(key string, v data.Value) bool {
			if !coinCapIdentity[key] {
				p.Fields.Set(a.cfg.mapField(key), data.Coerce(v))
			}
			return true
		})
		points = append(points, p)
	}
	return points, nil
}

func field(o *data.Object, key string) data.Value {
	v, _ := o.Get(key)
	return v
}

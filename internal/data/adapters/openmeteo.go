package adapters

import (
	"context"
	"fmt"

	"github.com/i474232898/data-aggregator/internal/data"
	"github.com/i474232898/data-aggregator/pkg/logger"
)

// OpenMeteoClass is the adapter class name used in source configuration.
const OpenMeteoClass = "OpenMeteoAdapter"

// OpenMeteoAdapter reads the hourly forecast of the Open-Meteo API. The upstream
// returns columns ("hourly": {"time": [...], "temperature_2m": [...]}) which are
// turned into one point per time entry.
type OpenMeteoAdapter struct {
	base
}

var _ data.Adapter = (*OpenMeteoAdapter)(nil)

// NewOpenMeteoAdapter builds an adapter for source name.
func NewOpenMeteoAdapter(name string, cfg Config, deps Deps) (data.Adapter, error) {
	return &OpenMeteoAdapter{base: newBase(name, data.DataTypeHourly, cfg, deps)}, nil
}

func (a *OpenMeteoAdapter) Fetch(ctx context.Context) ([]data.Point, error) {
	root, err := a.getJSON(ctx, queryParams(a.cfg.Params), nil)
	if err != nil {
		return nil, err
	}
	return a.transform(ctx, root)
}

func (a *OpenMeteoAdapter) transform(ctx context.Context, root *data.Object) ([]data.Point, error) {
	hourlyVal, ok := root.Get("hourly")
	if !ok {
		return nil, &data.TransformError{Source: a.name, Reason: `missing "hourly" block`}
	}
	hourly, ok := hourlyVal.AsObject()
	if !ok {
		return nil, &data.TransformError{Source: a.name, Reason: `"hourly" is not an object`}
	}
	timeVal, ok := hourly.Get("time")
	if !ok {
		return nil, &data.TransformError{Source: a.name, Reason: `missing "hourly.time"`}
	}
	times, ok := timeVal.AsArray()
	if !ok {
		return nil, &data.TransformError{Source: a.name, Reason: `"hourly.time" is not an array`}
	}

	type column struct {
		name   string
		values []data.Value
	}
	var columns []column
	var shapeErr error
	hourly.Range(func(key string, v data.Value) bool {
		if key == "time" {
			return true
		}
		values, ok := v.AsArray()
		if !ok {
			shapeErr = &data.TransformError{Source: a.name, Reason: fmt.Sprintf("column %q is not an array", key)}
			return false
		}
		columns = append(columns, column{name: a.cfg.mapField(key), values: values})
		return true
	})
	if shapeErr != nil {
		return nil, shapeErr
	}

	points := make([]data.Point, 0, len(times))
	for i, tv := range times {
		ts, ok := data.TimestampOf(tv)
		if !ok {
			a.log.Debug(ctx, "dropping row with unparseable time", logger.Int("index", i), logger.Any("time", tv.Interface()))
			continue
		}
		p := data.NewPoint(ts)
		for _, col := range columns {
			v := data.Null()
			if i < len(col.values) {
				v = data.Coerce(col.values[i])
			}
			p.Fields.Set(col.name, v)
		}
		points = append(points, p)
	}
	return points, nil
}

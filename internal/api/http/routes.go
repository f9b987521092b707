package httpapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/data-aggregator/internal/data"
	"github.com/i474232898/data-aggregator/internal/store"
)

var validate = validator.New()

const defaultLimit = 100

// RegisterRoutes wires the HTTP handlers into the Fiber app under prefix (e.g. "/api").
func RegisterRoutes(app *fiber.App, service *data.Service, prefix string) {
	api := app.Group(prefix)

	api.Get("/sources", func(c *fiber.Ctx) error {
		sources, err := service.Sources(c.UserContext(), c.QueryBool("enabled_only", false))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to list sources")
		}
		return c.JSON(sources)
	})

	api.Get("/data/:source", func(c *fiber.Ctx) error {
		var req dataQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		name := c.Params("source")
		view, err := service.Query(c.UserContext(), name, req.options())
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("Source '%s' not found", name))
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query data")
		}
		return c.JSON(view)
	})

	api.Post("/fetch/:source", func(c *fiber.Ctx) error {
		name := c.Params("source")
		adapter, ok := service.Registry().Get(name)
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("Source '%s' not found or not registered", name))
		}

		res := service.FetchAndStore(c.UserContext(), adapter)
		return c.JSON(fiber.Map{
			"message":   "Data fetch triggered for " + name,
			"timestamp": time.Now().UTC(),
			"result":    newCycleResponse(res),
		})
	})

	api.Post("/fetch-all", func(c *fiber.Ctx) error {
		results := service.FetchAll(c.UserContext())
		out := make([]cycleResponse, len(results))
		for i, res := range results {
			out[i] = newCycleResponse(res)
		}
		return c.JSON(fiber.Map{
			"message":   "Data fetch triggered for all sources",
			"sources":   service.Registry().Names(),
			"timestamp": time.Now().UTC(),
			"results":   out,
		})
	})
}

// ErrorHandler renders every error as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// dataQuery holds query parameters for the data endpoint.
type dataQuery struct {
	Limit  int  `query:"limit" validate:"gte=1,lte=10000"`
	Offset int  `query:"offset" validate:"gte=0"`
	Hours  *int `query:"hours" validate:"omitempty,gte=1"`
}

func (q *dataQuery) bind(c *fiber.Ctx) error {
	q.Limit = defaultLimit
	if err := c.QueryParser(q); err != nil {
		return errors.New("limit, offset and hours must be integers")
	}
	return nil
}

func (q dataQuery) options() data.QueryOptions {
	opts := data.QueryOptions{Limit: q.Limit, Offset: q.Offset}
	if q.Hours != nil {
		opts.Hours = *q.Hours
	}
	return opts
}

type cycleResponse struct {
	Source     string  `json:"source"`
	RunID      string  `json:"run_id"`
	Fetched    int     `json:"fetched"`
	Saved      int     `json:"saved"`
	DurationMS float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

func newCycleResponse(res data.CycleResult) cycleResponse {
	out := cycleResponse{
		Source:     res.Source,
		RunID:      res.RunID,
		Fetched:    res.Fetched,
		Saved:      res.Saved,
		DurationMS: float64(res.Duration) / float64(time.Millisecond),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

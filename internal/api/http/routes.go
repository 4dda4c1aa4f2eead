package httpapi

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/air-quality-proxy/internal/airquality"
)

var validate = validator.New()

const (
	headerCache     = "X-Cache"
	headerFetchedAt = "X-Fetched-At"
	headerWarning   = "Warning"
	staleWarning    = `110 - "Response is Stale"`
)

// RegisterRoutes wires the HTTP handlers into the Fiber app. Station routes
// are served both under /api (with CORS) and at the root.
func RegisterRoutes(app *fiber.App, service *airquality.Service) {
	h := &handlers{service: service}

	api := app.Group("/api", cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,HEAD,OPTIONS",
	}))
	api.Get("/stations", h.listStations)
	api.Get("/stations/:id", h.getStation)

	app.Get("/stations", h.listStations)
	app.Get("/stations/:id", h.getStation)
}

type handlers struct {
	service *airquality.Service
}

func (h *handlers) listStations(c *fiber.Ctx) error {
	res, err := h.service.ListStations(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}

	stations := res.Payload
	if stations == nil {
		stations = []airquality.StationSummary{}
	}

	setCacheHeaders(c, res.Status, res.FetchedAt)
	return c.JSON(stations)
}

func (h *handlers) getStation(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := validate.Var(id, "required,max=128"); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid station id")
	}

	res, err := h.service.GetStation(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	setCacheHeaders(c, res.Status, res.FetchedAt)
	return c.JSON(res.Payload)
}

func setCacheHeaders(c *fiber.Ctx, status airquality.CacheStatus, fetchedAt time.Time) {
	c.Set(headerCache, string(status))
	c.Set(headerFetchedAt, fetchedAt.UTC().Format(time.RFC3339))
	if status == airquality.StatusStale {
		c.Set(headerWarning, staleWarning)
	}
}

// toHTTPError maps service errors onto status codes.
func toHTTPError(err error) error {
	var statusErr *airquality.StatusError

	switch {
	case errors.Is(err, airquality.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "station not found")
	case errors.As(err, &statusErr):
		return fiber.NewError(statusErr.Code, statusErr.Error())
	case isTimeout(err):
		log.Error().Err(err).Msg("http: upstream timed out")
		return fiber.NewError(fiber.StatusGatewayTimeout, "upstream timed out")
	case errors.Is(err, airquality.ErrUnavailable):
		log.Error().Err(err).Msg("http: upstream unavailable")
		return fiber.NewError(fiber.StatusBadGateway, "upstream unavailable")
	case errors.Is(err, airquality.ErrMalformedPayload):
		log.Error().Err(err).Msg("http: malformed upstream payload")
		return fiber.NewError(fiber.StatusBadGateway, "malformed upstream payload")
	default:
		log.Error().Err(err).Msg("http: unexpected error")
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch air quality data")
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ErrorHandler renders errors as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

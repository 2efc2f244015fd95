package httpapi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-quilt/internal/common"
	"github.com/i474232898/weather-quilt/internal/weather"
)

var validate = validator.New()

const defaultStartYear = 2000

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *weather.Service) {
	app.Get("/healthcheck", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"message": "Healthy!"})
	})
	w := app.Group("/weather")

	w.Get("/day/:day", func(c *fiber.Ctx) error {
		day, err := common.ParseDay(c.Params("day"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		obs, err := service.GetDay(c.UserContext(), c.Query("city"), day)
		if err != nil {
			return toHTTPError(err, "day doesn't exist")
		}
		return c.JSON(obs)
	})

	w.Get("/month/:year/:month", func(c *fiber.Ctx) error {
		var p monthParams
		if err := p.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		obs, err := service.GetMonth(c.UserContext(), c.Query("city"), p.Year, time.Month(p.Month))
		if err != nil {
			return toHTTPError(err, "No data found for this month")
		}
		return c.JSON(obs)
	})

	w.Get("/year/:year", func(c *fiber.Ctx) error {
		year, err := parseYear(c.Params("year"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		obs, err := service.GetYear(c.UserContext(), c.Query("city"), year)
		if err != nil {
			return toHTTPError(err, "No data found for this year")
		}
		return c.JSON(obs)
	})

	w.Get("/range", func(c *fiber.Ctx) error {
		var q rangeQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		obs, err := service.GetRange(c.UserContext(), q.City, q.From, q.To)
		if err != nil {
			return toHTTPError(err, "")
		}
		if obs == nil {
			obs = []weather.Observation{}
		}
		return c.JSON(fiber.Map{
			"city":         cityOrDefault(q.City, service),
			"from":         common.FormatDay(q.From),
			"to":           common.FormatDay(q.To),
			"observations": obs,
		})
	})

	w.Get("/cities", func(c *fiber.Ctx) error {
		cities, err := service.Cities(c.UserContext())
		if err != nil {
			return toHTTPError(err, "")
		}
		return c.JSON(fiber.Map{"cities": cities})
	})

	w.Get("/stations", func(c *fiber.Ctx) error {
		var q stationsQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		stations, err := service.ListStations(c.UserContext(), weather.StationQuery{BBox: q.BBox, State: q.State})
		if err != nil {
			return toHTTPError(err, "")
		}
		if stations == nil {
			stations = []weather.StationCandidate{}
		}
		return c.JSON(fiber.Map{
			"count":    len(stations),
			"stations": stations,
		})
	})

	w.Get("/find-stations", func(c *fiber.Ctx) error {
		return c.JSON(service.FindStations(c.UserContext()))
	})

	syncForward := func(c *fiber.Ctx) error {
		res, err := service.SyncForward(c.UserContext(), c.Query("city"))
		if err != nil {
			return toHTTPError(err, "")
		}
		return c.JSON(res)
	}
	w.Post("/fetch-latest", syncForward)

	fullResync := func(c *fiber.Ctx) error {
		res, err := service.FullResync(c.UserContext(), c.Query("city"))
		if err != nil {
			return toHTTPError(err, "")
		}
		return c.JSON(res)
	}
	w.Get("/fetch-all", fullResync)
	w.Post("/fetch-all", fullResync)

	w.Post("/fetch-city", func(c *fiber.Ctx) error {
		var q fetchCityQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		res, err := service.FetchCity(c.UserContext(), q.City, q.StartYear)
		if err != nil {
			return toHTTPError(err, "")
		}
		return c.JSON(res)
	})

	w.Post("/fetch-all-cities", func(c *fiber.Ctx) error {
		startYear, err := startYearQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.JSON(service.FetchAllCities(c.UserContext(), startYear))
	})
}

// toHTTPError maps not-found style conditions to 404 and everything else to 500.
// notFound replaces the message of a plain ErrNotFound.
func toHTTPError(err error, notFound string) error {
	if weather.IsClientError(err) {
		msg := err.Error()
		if notFound != "" && errors.Is(err, weather.ErrNotFound) {
			msg = notFound
		}
		return fiber.NewError(fiber.StatusNotFound, msg)
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}

func cityOrDefault(city string, service *weather.Service) string {
	if city == "" {
		return service.DefaultCity()
	}
	return city
}

func parseYear(s string) (int, error) {
	year, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid year %q", s)
	}
	if err := validate.Var(year, "gte=1,lte=9999"); err != nil {
		return 0, fmt.Errorf("invalid year %q", s)
	}
	return year, nil
}

func startYearQuery(c *fiber.Ctx) (int, error) {
	raw := c.Query("start_year")
	if raw == "" {
		return defaultStartYear, nil
	}
	return parseYear(raw)
}

// monthParams holds path parameters for the month endpoint.
type monthParams struct {
	Year  int `validate:"gte=1,lte=9999"`
	Month int `validate:"gte=1,lte=12"`
}

func (p *monthParams) bind(c *fiber.Ctx) error {
	year, err := parseYear(c.Params("year"))
	if err != nil {
		return err
	}
	month, err := strconv.Atoi(c.Params("month"))
	if err != nil {
		return fmt.Errorf("invalid month %q", c.Params("month"))
	}
	p.Year, p.Month = year, month

	if err := validate.Struct(p); err != nil {
		return errors.New("Month must be between 1 and 12")
	}
	return nil
}

// rangeQuery holds query parameters for the range endpoint.
type rangeQuery struct {
	City string
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (q *rangeQuery) bind(c *fiber.Ctx) error {
	q.City = c.Query("city")

	fromStr, toStr := c.Query("from"), c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}
	from, err := common.ParseDay(fromStr)
	if err != nil {
		return err
	}
	to, err := common.ParseDay(toStr)
	if err != nil {
		return err
	}
	q.From, q.To = from, to

	if err := validate.Struct(q); err != nil {
		return errors.New("to must not be before from")
	}
	return nil
}

// stationsQuery holds query parameters for the station listing.
type stationsQuery struct {
	State string `validate:"omitempty,len=2,alpha"`
	BBox  string
}

func (q *stationsQuery) bind(c *fiber.Ctx) error {
	q.State = strings.ToUpper(strings.TrimSpace(c.Query("state")))
	q.BBox = strings.TrimSpace(c.Query("bbox"))

	if err := validate.Struct(q); err != nil {
		return errors.New("state must be a two-letter code")
	}
	if q.BBox != "" {
		parts := strings.Split(q.BBox, ",")
		if len(parts) != 4 {
			return errors.New(`bbox must be "west,south,east,north"`)
		}
		for _, p := range parts {
			if _, err := strconv.ParseFloat(strings.TrimSpace(p), 64); err != nil {
				return fmt.Errorf("invalid bbox coordinate %q", p)
			}
		}
	}
	return nil
}

// fetchCityQuery holds query parameters for the single-city fetch.
type fetchCityQuery struct {
	City      string `validate:"required"`
	StartYear int
}

func (q *fetchCityQuery) bind(c *fiber.Ctx) error {
	q.City = strings.TrimSpace(c.Query("city"))
	if err := validate.Struct(q); err != nil {
		return errors.New("city query parameter is required")
	}
	year, err := startYearQuery(c)
	if err != nil {
		return err
	}
	q.StartYear = year
	return nil
}

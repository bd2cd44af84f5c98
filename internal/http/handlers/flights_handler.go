// Flight log HTTP handlers.
package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mwestcott/skyfolio/internal/domain"
	"github.com/mwestcott/skyfolio/internal/repo"
)

// CreateFlightRequest is the JSON payload for logging a flight.
type CreateFlightRequest struct {
	Date            string `json:"date" binding:"required" example:"2026-03-14"`
	Origin          string `json:"origin" binding:"required,len=4" example:"EGLL"`
	Destination     string `json:"destination" binding:"required,len=4" example:"EHAM"`
	AircraftType    string `json:"aircraft_type" binding:"required,max=32" example:"DA40"`
	Registration    string `json:"registration" binding:"required,max=16" example:"G-ABCD"`
	DurationMinutes int    `json:"duration_minutes" binding:"required,min=1"`
	DistanceNM      int    `json:"distance_nm" binding:"min=0"`
	Notes           string `json:"notes"`
}

// ListFlightsResponse wraps a page of flights and pagination information.
type ListFlightsResponse struct {
	Flights    []domain.Flight `json:"flights"`
	Pagination Pagination      `json:"pagination"`
}

// ListFlights godoc
// @ID          listFlights
// @Summary     List logbook entries (paginated)
// @Description Returns a page of flights, most recent date first. Supports weak ETag via If-None-Match.
// @Tags        Flights
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"    minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page" minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListFlightsResponse
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /flights [get]
func (h *Handlers) ListFlights(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	count, maxTS, err := repo.FlightsStats(ctx, h.db)
	if err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"flights:%d:%d"`, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, err := repo.ListFlights(ctx, h.db, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	total, err := repo.CountFlights(ctx, h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListFlightsResponse{Flights: items, Pagination: paginationFor(page, pageSize, total)})
}

// FlightStats godoc
// @ID          flightStats
// @Summary     Yearly logbook totals
// @Description Aggregates flights, hours, and distance per calendar year, newest first.
// @Tags        Flights
// @Produce     json
//
// @Success     200  {array}  repo.YearStats
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /flights/stats [get]
func (h *Handlers) FlightStats(c *gin.Context) {
	stats, err := repo.FlightYearStats(c.Request.Context(), h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, stats)
}

// CreateFlight logs a flight (admin). ICAO codes are upcased; the date must
// be a plain calendar day (YYYY-MM-DD).
func (h *Handlers) CreateFlight(c *gin.Context) {
	var req CreateFlightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	day, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "date must be YYYY-MM-DD")
		return
	}

	f, err := repo.CreateFlight(c.Request.Context(), h.db, &domain.Flight{
		Date:            day.UTC(),
		Origin:          strings.ToUpper(req.Origin),
		Destination:     strings.ToUpper(req.Destination),
		AircraftType:    strings.TrimSpace(req.AircraftType),
		Registration:    strings.ToUpper(strings.TrimSpace(req.Registration)),
		DurationMinutes: req.DurationMinutes,
		DistanceNM:      req.DistanceNM,
		Notes:           req.Notes,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, f)
}

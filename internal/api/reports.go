package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/leafscan/leafscan/internal/aggregate"
)

func (s *Server) farmHealth(c echo.Context) error {
	farms := aggregate.FarmHealthReport(s.store.Snapshot(), s.userID)
	return c.JSON(http.StatusOK, map[string]any{
		"farms":   farms,
		"overall": aggregate.OverallHealth(farms),
	})
}

func (s *Server) monthlyStats(c echo.Context) error {
	fromStr, toStr := c.QueryParam("from"), c.QueryParam("to")
	if fromStr == "" || toStr == "" {
		return badRequest("from and to are required (YYYY-MM-DD)")
	}
	from, err := aggregate.ParseDate(fromStr)
	if err != nil {
		return err
	}
	to, err := aggregate.ParseDate(toStr)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, aggregate.MonthlyStats(s.store.Snapshot(), s.userID, from, to))
}

func (s *Server) recentTrees(c echo.Context) error {
	n, err := limitParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, aggregate.RecentTrees(s.store.Snapshot(), s.userID, n))
}

func (s *Server) recentImages(c echo.Context) error {
	n, err := limitParam(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, aggregate.RecentImages(s.store.Snapshot(), s.userID, n))
}

// limitParam reads ?n=, defaulting to 10.
func limitParam(c echo.Context) (int, error) {
	raw := c.QueryParam("n")
	if raw == "" {
		return 10, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("n must be a non-negative integer")
	}
	return n, nil
}

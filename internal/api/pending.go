package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/leafscan/leafscan/internal/model"
)

type idsRequest struct {
	IDs []string `json:"ids"`
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

func (s *Server) runScan(c echo.Context) error {
	var req model.ScanRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.UserID == "" {
		req.UserID = s.userID
	}
	out, err := s.scans.Scan(c.Request().Context(), req)
	if err != nil {
		return err
	}
	if out.Pending != nil {
		return c.JSON(http.StatusAccepted, out)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) listPending(c echo.Context) error {
	return c.JSON(http.StatusOK, s.queue.List())
}

// deletePending removes the items named by repeated ?id= parameters.
func (s *Server) deletePending(c echo.Context) error {
	ids := c.QueryParams()["id"]
	if len(ids) == 0 {
		return badRequest("at least one id is required")
	}
	if err := s.queue.Delete(c.Request().Context(), ids...); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// processPending processes the given ids, or drains the queue when none
// are given.
func (s *Server) processPending(c echo.Context) error {
	var req idsRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return err
		}
	}
	ctx := c.Request().Context()
	if len(req.IDs) == 0 {
		sum, err := s.queue.Drain(ctx)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, sum)
	}
	return c.JSON(http.StatusOK, s.queue.BulkProcess(ctx, req.IDs))
}

// processOne answers 200 with the item whether the classifier call
// succeeded or failed; the item status tells which.
func (s *Server) processOne(c echo.Context) error {
	item, err := s.queue.ProcessOne(c.Request().Context(), c.Param("id"))
	if err != nil && item.Status != model.PendingFailed {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

func (s *Server) pendingResult(c echo.Context) error {
	res, ok, err := s.queue.Result(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no result for this item")
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) commitPending(c echo.Context) error {
	if err := s.queue.Commit(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) retryPending(c echo.Context) error {
	item, err := s.queue.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

func (s *Server) setConnectivity(c echo.Context) error {
	var req connectivityRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Online == nil {
		return badRequest("online is required")
	}
	s.queue.SetOnline(*req.Online)
	return c.JSON(http.StatusOK, map[string]bool{"online": s.queue.Online()})
}

package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/leafscan/leafscan/internal/model"
)

type trashRequest struct {
	ItemType model.ItemType `json:"item_type"`
	ItemID   string         `json:"item_id"`
}

func (s *Server) listTrash(c echo.Context) error {
	return c.JSON(http.StatusOK, s.trash.List(s.userID))
}

func (s *Server) moveToTrash(c echo.Context) error {
	var req trashRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	ref, err := model.ParseItemRef(req.ItemType, req.ItemID)
	if err != nil {
		return err
	}
	row, err := s.trash.MoveToTrash(c.Request().Context(), s.userID, ref)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, row)
}

func (s *Server) restoreTrash(c echo.Context) error {
	ids, err := bindIDs(c)
	if err != nil {
		return err
	}
	if err := s.trash.Restore(c.Request().Context(), ids...); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteTrash(c echo.Context) error {
	ids, err := bindIDs(c)
	if err != nil {
		return err
	}
	if err := s.trash.PermanentlyDelete(c.Request().Context(), ids...); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func bindIDs(c echo.Context) ([]string, error) {
	var req idsRequest
	if err := c.Bind(&req); err != nil {
		return nil, err
	}
	if len(req.IDs) == 0 {
		return nil, badRequest("ids is required")
	}
	return req.IDs, nil
}

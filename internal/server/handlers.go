package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"kin-go/internal/kin"
)

const defaultResolvedBy = "api"

type confirmRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

type rejectRequest struct {
	CreateNew  bool   `json:"create_new"`
	ResolvedBy string `json:"resolved_by"`
}

func (s *Server) listPeople(c echo.Context) error {
	q := kin.PeopleQuery{
		Name:       c.QueryParam("name"),
		Email:      c.QueryParam("email"),
		SourceType: kin.SourceType(c.QueryParam("source_type")),
	}
	if v := c.QueryParam("category"); v != "" {
		q.Category = kin.ParseCategory(v)
	}
	var err error
	if q.PendingOnly, err = boolParam(c, "pending"); err != nil {
		return err
	}
	if q.Limit, err = intParam(c, "limit"); err != nil {
		return err
	}
	if q.Offset, err = intParam(c, "offset"); err != nil {
		return err
	}

	people, err := s.service.FindPeople(c.Request().Context(), q)
	if err != nil {
		return err
	}
	if people == nil {
		people = []*kin.PersonEntity{}
	}
	return c.JSON(http.StatusOK, people)
}

func (s *Server) getPerson(c echo.Context) error {
	recent, err := intParam(c, "recent")
	if err != nil {
		return err
	}
	d, err := s.service.GetPersonDetail(c.Request().Context(), c.Param("id"), recent)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) timeline(c echo.Context) error {
	q := kin.InteractionQuery{
		PersonID:   c.Param("id"),
		SourceType: kin.SourceType(c.QueryParam("source_type")),
	}
	var err error
	if q.Since, err = timeParam(c, "since"); err != nil {
		return err
	}
	if q.Until, err = timeParam(c, "until"); err != nil {
		return err
	}
	if q.Limit, err = intParam(c, "limit"); err != nil {
		return err
	}
	if q.Offset, err = intParam(c, "offset"); err != nil {
		return err
	}

	items, err := s.service.Timeline(c.Request().Context(), q)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*kin.Interaction{}
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) refreshPerson(c echo.Context) error {
	res, err := s.orch.RefreshPerson(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) getRelationship(c echo.Context) error {
	d, err := s.service.GetRelationshipDetail(c.Request().Context(), c.Param("a"), c.Param("b"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) stats(c echo.Context) error {
	st, err := s.service.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) listPending(c echo.Context) error {
	q := kin.PendingQuery{
		Status:   kin.PendingStatus(c.QueryParam("status")),
		PersonID: c.QueryParam("person_id"),
	}
	if q.Status == "" {
		q.Status = kin.PendingOpen
	}
	var err error
	if q.Limit, err = intParam(c, "limit"); err != nil {
		return err
	}

	items, err := s.service.ListPending(c.Request().Context(), q)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*kin.PendingDetail{}
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) confirm(c echo.Context) error {
	var req confirmRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}
	out, err := s.orch.Confirm(c.Request().Context(), c.Param("id"), resolvedBy(req.ResolvedBy))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) reject(c echo.Context) error {
	var req rejectRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}
	out, err := s.orch.Reject(c.Request().Context(), c.Param("id"), req.CreateNew, resolvedBy(req.ResolvedBy))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) syncAll(c echo.Context) error {
	report, err := s.orch.Sync(c.Request().Context())
	return s.syncResult(c, report, err)
}

func (s *Server) syncSource(c echo.Context) error {
	report, err := s.orch.Sync(c.Request().Context(), c.Param("name"))
	return s.syncResult(c, report, err)
}

func (s *Server) syncRelationships(c echo.Context) error {
	report, err := s.orch.DiscoverRelationships(c.Request().Context())
	return s.syncResult(c, report, err)
}

func (s *Server) syncStrengths(c echo.Context) error {
	report, err := s.orch.RefreshStrengths(c.Request().Context())
	return s.syncResult(c, report, err)
}

// syncResult returns the run report. Adapter failures are listed in the
// report's errors and do not fail the request.
func (s *Server) syncResult(c echo.Context, report kin.SyncReport, err error) error {
	if err != nil {
		return err
	}
	if report.Errors == nil {
		report.Errors = []kin.ItemError{}
	}
	return c.JSON(http.StatusOK, report)
}

func resolvedBy(v string) string {
	if v == "" {
		return defaultResolvedBy
	}
	return v
}

// bindOptional decodes a JSON body when one is sent.
func bindOptional(c echo.Context, v any) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := (&echo.DefaultBinder{}).BindBody(c, v); err != nil {
		return &kin.InputError{Field: "body", Value: "", Reason: "not valid JSON"}
	}
	return nil
}

func intParam(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &kin.InputError{Field: name, Value: v, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

func boolParam(c echo.Context, name string) (bool, error) {
	v := c.QueryParam(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &kin.InputError{Field: name, Value: v, Reason: "must be true or false"}
	}
	return b, nil
}

// timeParam accepts RFC 3339 timestamps or plain dates (UTC midnight).
func timeParam(c echo.Context, name string) (time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Time{}, &kin.InputError{Field: name, Value: v, Reason: "must be RFC 3339 or YYYY-MM-DD"}
}

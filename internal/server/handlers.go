package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/nao1215/onionfetch/internal/database"
	"github.com/nao1215/onionfetch/internal/download"
	"github.com/nao1215/onionfetch/internal/session"
	"github.com/nao1215/onionfetch/internal/transfer"
)

// defaultHistoryLimit caps GET /api/history without ?limit=.
const defaultHistoryLimit = 50

// ReadyResponse is the body of GET /api/tor/ready.
type ReadyResponse struct {
	Ready bool `json:"ready"`
}

// BootstrapResponse is the body of POST /api/tor/bootstrap.
type BootstrapResponse struct {
	AlreadyReady bool `json:"alreadyReady"`
}

// handleReady reports whether the session can open streams.
// GET /api/tor/ready
func (s *Server) handleReady(c echo.Context) error {
	return c.JSON(http.StatusOK, ReadyResponse{Ready: s.session.IsReady()})
}

// handleBootstrap drives the session to readiness.
// POST /api/tor/bootstrap
func (s *Server) handleBootstrap(c echo.Context) error {
	if s.session.IsReady() {
		return c.JSON(http.StatusOK, BootstrapResponse{AlreadyReady: true})
	}

	err := s.session.Bootstrap(c.Request().Context())
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, BootstrapResponse{AlreadyReady: false})
	case errors.Is(err, session.ErrBootstrap), errors.Is(err, session.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// handleBootstrapEvents streams bootstrap statuses until the feed ends.
// GET /api/tor/events
func (s *Server) handleBootstrapEvents(c echo.Context) error {
	if !isWebSocketRequest(c.Request()) {
		return echo.NewHTTPError(http.StatusBadRequest, "websocket upgrade required")
	}

	sub, err := s.session.SubscribeBootstrapEvents(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer sub.Close()

	ws, err := upgrade(c)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return nil
	}
	defer s.closeQuietly(ws)

	for {
		select {
		case status, ok := <-sub.C():
			if !ok {
				return nil
			}
			if !ws.send(status) {
				return nil
			}
		case <-ws.gone:
			return nil
		}
	}
}

// handleDownload downloads ?url= into the download directory, streaming
// progress events, and a final error frame on failure.
// GET /api/downloads?url=...&name=...
func (s *Server) handleDownload(c echo.Context) error {
	if !isWebSocketRequest(c.Request()) {
		return echo.NewHTTPError(http.StatusBadRequest, "websocket upgrade required")
	}
	req := download.Request{
		URL:  c.QueryParam("url"),
		Name: c.QueryParam("name"),
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing url parameter")
	}
	if _, err := s.downloader.Destination(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ws, err := upgrade(c)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return nil
	}
	defer s.closeQuietly(ws)

	ctx, cancel := ws.context(c.Request().Context())
	defer cancel()

	sink := transfer.ProgressFunc(func(e transfer.ProgressEvent) {
		ws.send(e)
	})

	err = s.session.Bootstrap(ctx)
	if err == nil {
		_, err = s.downloader.Download(ctx, req, sink)
	}
	if err != nil {
		s.logger.Warn("download over API failed", "url", req.URL, "error", err)
		ws.send(newErrorFrame(err))
	}
	return nil
}

// handleHistory lists recorded downloads.
// GET /api/history?limit=N or ?host=H
func (s *Server) handleHistory(c echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusNotFound, "history is not enabled")
	}

	var (
		records []*database.DownloadRecord
		err     error
	)
	if host := c.QueryParam("host"); host != "" {
		records, err = s.history.ListDownloadsByHost(c.Request().Context(), host)
	} else {
		limit := defaultHistoryLimit
		if l := c.QueryParam("limit"); l != "" {
			v, convErr := strconv.Atoi(l)
			if convErr != nil || v <= 0 {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
			}
			limit = v
		}
		records, err = s.history.ListDownloads(c.Request().Context(), limit)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if records == nil {
		records = []*database.DownloadRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) handleHistoryRecord(c echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusNotFound, "history is not enabled")
	}

	record, err := s.history.GetDownload(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if record == nil {
		return echo.NewHTTPError(http.StatusNotFound, "download not found")
	}
	return c.JSON(http.StatusOK, record)
}

// Package admin is the HTTP ops surface: server status, channel creation,
// ban management, and Prometheus metrics. Channel creation lives here rather
// than on the IRC command surface; JOIN only ever enters channels that
// already exist.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ircdb/internal/metrics"
	"ircdb/internal/store"
)

// API is the admin HTTP server.
type API struct {
	echo      *echo.Echo
	store     *store.Store
	metrics   *metrics.Metrics
	log       *slog.Logger
	name      string
	startTime time.Time
	tokens    map[string]bool
}

type payloadValidator struct {
	validate *validator.Validate
}

func (v *payloadValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// New builds the admin API. tokens are bearer tokens granting access to
// everything except /metrics, which stays open for scrapers.
func New(st *store.Store, m *metrics.Metrics, log *slog.Logger, serverName string, tokens []string) *API {
	if log == nil {
		log = slog.Default()
	}

	a := &API{
		echo:      echo.New(),
		store:     st,
		metrics:   m,
		log:       log,
		name:      serverName,
		startTime: time.Now(),
		tokens:    make(map[string]bool, len(tokens)),
	}
	for _, t := range tokens {
		a.tokens[t] = true
	}

	e := a.echo
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &payloadValidator{validate: validator.New()}
	e.Use(middleware.Recover())

	if m != nil {
		e.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	g := e.Group("", a.auth)
	g.GET("/status", a.getStatus)
	g.GET("/channels", a.listChannels)
	g.POST("/channels", a.createChannel)
	g.GET("/bans", a.listBans)
	g.POST("/bans", a.createBan)
	g.DELETE("/bans/:id", a.deleteBan)

	return a
}

// auth enforces the bearer-token list. An empty list locks every protected
// route; running without tokens is a deliberate choice, not a default-open.
func (a *API) auth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		const prefix = "Bearer "
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if len(header) > len(prefix) && header[:len(prefix)] == prefix && a.tokens[header[len(prefix):]] {
			return next(c)
		}
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing bearer token")
	}
}

// Start serves until Stop. It blocks.
func (a *API) Start(addr string) error {
	a.log.Info("admin API listening", "addr", addr)
	err := a.echo.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down.
func (a *API) Stop(ctx context.Context) error {
	return a.echo.Shutdown(ctx)
}

// Echo exposes the router for handler tests.
func (a *API) Echo() *echo.Echo {
	return a.echo
}

func (a *API) getStatus(c echo.Context) error {
	users, err := a.store.CountConnectedUsers()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	channels, err := a.store.ListChannels()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	watchers, err := a.store.CountMemberships()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"server":   a.name,
		"uptime":   time.Since(a.startTime).String(),
		"users":    users,
		"channels": len(channels),
		"watchers": watchers,
	})
}

func (a *API) listChannels(c echo.Context) error {
	channels, err := a.store.ListChannels()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, channels)
}

type createChannelRequest struct {
	Name    string `json:"name" validate:"required,min=1,max=64"`
	Creator string `json:"creator" validate:"required"`
	Topic   string `json:"topic"`
}

func (a *API) createChannel(c echo.Context) error {
	var req createChannelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ch := &store.Channel{Name: req.Name, Creator: req.Creator, Topic: req.Topic}
	if err := a.store.CreateChannel(ch); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	a.log.Info("channel created", "name", ch.Name, "creator", ch.Creator)
	return c.JSON(http.StatusCreated, ch)
}

func (a *API) listBans(c echo.Context) error {
	bans, err := a.store.ListBans()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, bans)
}

type createBanRequest struct {
	IsIP    bool   `json:"is_ip"`
	Content string `json:"content" validate:"required,min=1,max=64"`
}

func (a *API) createBan(c echo.Context) error {
	var req createBanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ban := &store.Ban{IsIP: req.IsIP, Content: req.Content}
	if err := a.store.CreateBan(ban); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	a.log.Info("ban created", "is_ip", ban.IsIP, "content", ban.Content)
	return c.JSON(http.StatusCreated, ban)
}

func (a *API) deleteBan(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bad ban id")
	}
	if err := a.store.DeleteBan(uint(id)); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

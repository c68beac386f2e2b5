// Package api provides a REST API for the connection manager
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fako1024/scalelink/pkg/manager"
	"github.com/fako1024/scalelink/pkg/scale"
	"github.com/gofiber/fiber/v2"
	"github.com/grandcat/zeroconf"
)

const (
	defaultCommandTimeout = 2 * time.Second

	mdnsServiceType = "_scalelink._tcp"
	mdnsDomain      = "local."
)

// Manager denotes the connection manager operations exposed via the API
type Manager interface {
	Status() manager.Status
	Devices() []manager.Discovery
	Do(ctx context.Context, cmd manager.Command) error
}

// API denotes a REST API for a scale
type API struct {
	manager Manager
	router  *fiber.App
	mdns    *zeroconf.Server

	commandTimeout time.Duration
	logger         scale.Logger
}

// New instantiates a new API, executing functional options, if any
func New(m Manager, options ...func(*API)) *API {

	api := &API{
		manager: m,
		router: fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}),
		commandTimeout: defaultCommandTimeout,
		logger:         &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(api)
	}

	// Setup routes
	api.router.Get("/status", api.handleStatus())
	api.router.Get("/devices", api.handleDevices())
	api.router.Post("/tare", api.handleCommand("tare", manager.Tare))
	api.router.Post("/toggle_buzzer", api.handleCommand("toggle_buzzer", manager.ToggleBuzzer))
	api.router.Post("/toggle_precision", api.handleCommand("toggle_precision", manager.TogglePrecision))
	api.router.Post("/timer/start", api.handleCommand("start_timer", manager.StartTimer))
	api.router.Post("/timer/stop", api.handleCommand("stop_timer", manager.StopTimer))
	api.router.Post("/timer/reset", api.handleCommand("reset_timer", manager.ResetTimer))

	return api
}

// Listen serves the API on the given endpoint, blocking until Close() is called
func (api *API) Listen(endpoint string) error {
	api.logger.Infof("serving API on `%s`", endpoint)
	return api.router.Listen(endpoint)
}

// Announce registers the API endpoint as mDNS service on the local network
func (api *API) Announce(instance, endpoint string) error {
	_, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return fmt.Errorf("invalid API endpoint `%s`: %w", endpoint, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid API port `%s`: %w", portStr, err)
	}

	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, []string{"path=/status"}, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	api.mdns = server
	api.logger.Infof("announcing API as `%s` (%s) on port %d", instance, mdnsServiceType, port)

	return nil
}

// Close stops the mDNS announcement (if any) and shuts down the server
func (api *API) Close() error {
	if api.mdns != nil {
		api.mdns.Shutdown()
		api.mdns = nil
	}
	return api.router.Shutdown()
}

////////////////////////////////////////////////////////////////////////////////

func (api *API) handleStatus() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		return c.JSON(api.manager.Status())
	}
}

func (api *API) handleDevices() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		return c.JSON(api.manager.Devices())
	}
}

func (api *API) handleCommand(name string, cmd manager.Command) func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), api.commandTimeout)
		defer cancel()

		if err := api.manager.Do(ctx, cmd); err != nil {
			api.logger.Warnf("failed to execute command `%s`: %s", name, err)
			return fiber.NewError(statusCode(err), err.Error())
		}

		return c.SendStatus(fiber.StatusNoContent)
	}
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, scale.ErrNotConnected), errors.Is(err, manager.ErrUnsupportedCommand):
		return fiber.StatusConflict
	case errors.Is(err, manager.ErrQueueFull):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

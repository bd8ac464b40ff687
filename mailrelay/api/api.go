package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Pandentia/mailrelay/mailrelay"
	"github.com/Pandentia/mailrelay/mailrelay/auth"
	"github.com/Pandentia/mailrelay/mailrelay/dispatch"
	"github.com/Pandentia/mailrelay/mailrelay/fields"
	"github.com/Pandentia/mailrelay/mailrelay/templates"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ShutdownTimeout bounds how long Run waits for in-flight requests.
const ShutdownTimeout = 10 * time.Second

// API describes the mail relay HTTP API.
type API struct {
	Logger    zerolog.Logger
	Config    mailrelay.Config
	Transport dispatch.Transport

	policies   mailrelay.Policies
	authorizer *auth.Authorizer
	resolver   *fields.Resolver
	dispatcher *dispatch.Dispatcher
	engine     *gin.Engine
}

// New initializes the API instance. It should only be called once.
func (api *API) New() error {
	logger := api.Logger.With().Str("module", "initializer").Logger()

	if api.Transport == nil {
		return errors.New("no mail transport configured")
	}
	if api.Config.TransportFailureStatus == 0 {
		api.Config.TransportFailureStatus = http.StatusBadRequest
	}

	renderer, err := templates.NewRenderer(api.Config.ShopName, api.Config.ImageBaseURL)
	if err != nil {
		return err
	}
	logger.Debug().Msg("Templates parsed")

	api.policies = mailrelay.DefaultPolicies(api.Config.OpenRoutes)
	for path, policy := range api.policies {
		logger.Debug().
			Str("route", path).
			Stringer("verifier", policy.Verifier).
			Bool("caller_recipient", policy.Recipient == mailrelay.RecipientCaller).
			Msg("Route policy registered")
	}

	api.authorizer = &auth.Authorizer{
		Keys:   &auth.APIKeyVerifier{Secret: api.Config.APIKey, Logger: api.Logger},
		Tokens: auth.NewTokenVerifier(api.Config.JWTSecret, api.Logger),
		Logger: api.Logger,
	}
	api.resolver = &fields.Resolver{
		DefaultFrom:    api.Config.DefaultFrom,
		DefaultSubject: api.Config.DefaultSubject,
		Renderer:       renderer,
		Logger:         api.Logger,
	}
	api.dispatcher = &dispatch.Dispatcher{
		Transport: api.Transport,
		Timeout:   api.Config.TransportTimeout,
		Logger:    api.Logger,
	}

	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), api.requestLogger())

	r.GET("/", api.statusHandler)
	for _, policy := range api.policies {
		r.POST(policy.Path, api.sendHandler(policy))
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found."})
	})
	api.engine = r

	return nil
}

// Handler returns the HTTP handler of an initialized API.
func (api *API) Handler() http.Handler {
	return api.engine
}

// Run serves the API at a given bind address until ctx is done, then
// drains in-flight requests for up to ShutdownTimeout.
func (api *API) Run(ctx context.Context, bind string) error {
	server := &http.Server{
		Addr:              bind,
		Handler:           api.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		api.Logger.Info().Str("bind", bind).Msg("Running")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	api.Logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

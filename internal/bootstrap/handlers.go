package bootstrap

import (
	"log/slog"
	"os"

	"github.com/flowyoga/coach-backend/internal/catalog"
	"github.com/flowyoga/coach-backend/internal/coach"
	"github.com/flowyoga/coach-backend/internal/progress"
	"github.com/flowyoga/coach-backend/internal/relay"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}

// ProvideCoachFactory builds one upstream coach session manager per browser
// connection. The dialer is constructed per connection so a missing API key
// surfaces as a per-connection failure instead of crashing startup.
func ProvideCoachFactory(cfg *Config, logger *slog.Logger) relay.CoachFactory {
	return func(sink relay.PCMSink, onFatal func(error)) (relay.CoachSession, error) {
		dialer, err := coach.NewGeminiDialer(coach.GeminiConfig{
			APIKey:            cfg.GeminiAPIKey,
			Model:             cfg.CoachModel,
			Voice:             cfg.CoachVoice,
			SystemInstruction: cfg.CoachSystemInstruction,
		}, logger)
		if err != nil {
			return nil, err
		}

		return coach.NewManager(coach.Config{
			Dialer:         dialer,
			Sink:           sink,
			PoseSequence:   func() string { return cfg.CoachPoseSequence },
			PoseInterval:   cfg.CoachPoseInterval,
			SessionCeiling: cfg.CoachSessionCeiling,
			Logger:         logger,
			OnFatal:        onFatal,
		})
	}
}

func ProvideRelayHandler(factory relay.CoachFactory, logger *slog.Logger) *relay.Handler {
	return relay.NewHandler(factory, logger)
}

func ProvideCatalogHandler(store *catalog.Store, logger *slog.Logger) *catalog.Handler {
	return catalog.NewHandler(store, logger.With("handler", "catalog"))
}

func ProvideProgressHandler(store *progress.Store, logger *slog.Logger) *progress.Handler {
	return progress.NewHandler(store, logger.With("handler", "progress"))
}

type HandlerParams struct {
	fx.In

	RelayHandler    *relay.Handler
	CatalogHandler  *catalog.Handler
	ProgressHandler *progress.Handler
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	api := e.Group("/v1")

	params.RelayHandler.RegisterRoutes(api)
	params.CatalogHandler.RegisterRoutes(api)
	params.ProgressHandler.RegisterRoutes(api)
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideCoachFactory,
		ProvideRelayHandler,
		ProvideCatalogHandler,
		ProvideProgressHandler,
	),
	fx.Invoke(RegisterRoutes),
)

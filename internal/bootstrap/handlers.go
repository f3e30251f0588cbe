package bootstrap

import (
	"log/slog"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/otic-labs/vision-backend/internal/bank"
	"github.com/otic-labs/vision-backend/internal/descriptor"
	"github.com/otic-labs/vision-backend/internal/matcher"
	"github.com/otic-labs/vision-backend/internal/recognition"
	"github.com/otic-labs/vision-backend/internal/token"
	echoSwagger "github.com/swaggo/echo-swagger"
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

func ProvideExtractor(cfg *Config) *descriptor.Extractor {
	return descriptor.NewExtractor(descriptor.Config{
		Clusters:   cfg.ClusterCount,
		Iterations: cfg.KMeansPasses,
	})
}

func ProvideMatcher() *matcher.Matcher {
	return matcher.New(matcher.DefaultWeights())
}

func ProvideEncoder() *token.Encoder {
	return token.NewEncoder()
}

func ProvideService(
	b bank.Bank,
	store *bank.Store,
	extractor *descriptor.Extractor,
	m *matcher.Matcher,
	encoder *token.Encoder,
	sessions *recognition.SessionStore,
	cfg *Config,
	logger *slog.Logger,
) *recognition.Service {
	return recognition.NewService(recognition.ServiceConfig{
		Bank:      b,
		Store:     store,
		Extractor: extractor,
		Matcher:   m,
		Encoder:   encoder,
		Sessions:  sessions,
		Thresholds: recognition.Thresholds{
			Confident:       cfg.ConfidentThreshold,
			AmbiguityMargin: cfg.AmbiguityMargin,
			NoMatchFloor:    cfg.NoMatchFloor,
		},
		TopK:            cfg.TopK,
		PrefilterCutoff: cfg.PrefilterCutoff,
		Logger:          logger.With("component", "recognition"),
	})
}

func ProvideManager(logger *slog.Logger) *recognition.Manager {
	return recognition.NewManager(logger.With("component", "stream_manager"))
}

func ProvideRecognitionHandler(
	service *recognition.Service,
	b bank.Bank,
	sessions *recognition.SessionStore,
	frames *recognition.FrameStore,
	logger *slog.Logger,
) *recognition.Handler {
	return recognition.NewHandler(service, b, sessions, frames, logger.With("handler", "recognition"))
}

func ProvideStreamHandler(
	manager *recognition.Manager,
	service *recognition.Service,
	b bank.Bank,
	frames *recognition.FrameStore,
	sessions *recognition.SessionStore,
	cfg *Config,
	logger *slog.Logger,
) *recognition.StreamHandler {
	return recognition.NewStreamHandler(recognition.StreamHandlerConfig{
		Manager:         manager,
		Service:         service,
		Bank:            b,
		Frames:          frames,
		Sessions:        sessions,
		CaptureInterval: cfg.CaptureInterval,
		Logger:          logger.With("handler", "stream"),
	})
}

type HandlerParams struct {
	fx.In

	RecognitionHandler *recognition.Handler
	StreamHandler      *recognition.StreamHandler
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	api := e.Group("/v1")

	params.RecognitionHandler.RegisterRoutes(api)
	params.StreamHandler.RegisterRoutes(api.Group("/recognitions"))

	e.GET("/swagger/*", echoSwagger.EchoWrapHandler())
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideExtractor,
		ProvideMatcher,
		ProvideEncoder,
		ProvideService,
		ProvideManager,
		ProvideRecognitionHandler,
		ProvideStreamHandler,
	),
	fx.Invoke(RegisterRoutes),
)

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/strefethen/bose-hub-go/internal/api"
	"github.com/strefethen/bose-hub-go/internal/apperrors"
	"github.com/strefethen/bose-hub-go/internal/audit"
	"github.com/strefethen/bose-hub-go/internal/auth"
	"github.com/strefethen/bose-hub-go/internal/boseauth"
	"github.com/strefethen/bose-hub-go/internal/config"
	"github.com/strefethen/bose-hub-go/internal/control"
	"github.com/strefethen/bose-hub-go/internal/db"
	"github.com/strefethen/bose-hub-go/internal/openapi"
	"github.com/strefethen/bose-hub-go/internal/session"
	"github.com/strefethen/bose-hub-go/internal/speaker"
	"github.com/strefethen/bose-hub-go/internal/speaker/wsclient"
)

const authRequestTimeout = 15 * time.Second

// responseWriter captures the status code and any error behind the response.
type responseWriter struct {
	http.ResponseWriter
	status int
	appErr *apperrors.AppError
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecordError is called by api.WriteError.
func (rw *responseWriter) RecordError(err *apperrors.AppError) {
	rw.appErr = err
}

// requestLoggerMiddleware logs every request once it completes.
func requestLoggerMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			entry := api.LogEntry(logger, r).WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.status,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if wrapped.appErr != nil {
				entry = entry.WithField("error_code", wrapped.appErr.Code)
				if wrapped.appErr.Err != nil {
					entry = entry.WithError(wrapped.appErr.Err)
				}
			}

			switch {
			case wrapped.status >= http.StatusInternalServerError:
				entry.Error("Request failed")
			case wrapped.status >= http.StatusBadRequest:
				entry.Warn("Request rejected")
			default:
				entry.Info("Request handled")
			}
		})
	}
}

// Options controls server wiring.
type Options struct {
	Logger *logrus.Logger

	// NewAuth and NewClient replace the Bose token client and the WebSocket
	// speaker client. Tests use them to run without a device.
	NewAuth   func() speaker.AuthProvider
	NewClient speaker.ClientFactory

	DisableAutoInitialize bool
}

// NewHandler builds the HTTP handler and returns a shutdown function.
func NewHandler(cfg config.Config, options Options) (http.Handler, func(context.Context) error, error) {
	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	logger.WithField("path", cfg.SQLiteDBPath).Info("Using database")
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}

	auditService := audit.NewService(dbPair, audit.Options{
		RetentionDays: cfg.AuditRetentionDays,
		PruneSchedule: cfg.AuditPruneSchedule,
		Logger:        logger,
	})
	if err := auditService.StartPruneJob(); err != nil {
		_ = dbPair.Close()
		return nil, nil, err
	}
	recordSystemEvent(logger, auditService, audit.EventSystemStartup, audit.EventLevelInfo, "Bose hub started", map[string]any{
		"api_auth":        cfg.APIAuthEnabled(),
		"auto_initialize": cfg.AutoInitialize(),
	})

	newAuth := options.NewAuth
	if newAuth == nil {
		newAuth = func() speaker.AuthProvider {
			return boseauth.NewProvider(cfg.BoseAuthURL, authRequestTimeout)
		}
	}
	newClient := options.NewClient
	if newClient == nil {
		newClient = wsclient.NewFactory(wsclient.Options{
			Port:        cfg.BoseDevicePort,
			InsecureTLS: cfg.BoseInsecureTLS,
			Logger:      logger,
		})
	}

	manager := session.NewManager(session.Options{
		NewAuth:        newAuth,
		NewClient:      newClient,
		Recorder:       auditService,
		Logger:         logger,
		CallTimeout:    time.Duration(cfg.SpeakerCallTimeoutMs) * time.Millisecond,
		ConnectTimeout: time.Duration(cfg.SpeakerConnectTimeoutMs) * time.Millisecond,
	})
	controlService := control.NewService(manager, control.Options{
		Logger:      logger,
		VolumeStep:  cfg.VolumeStep,
		InitiatorID: cfg.PresetInitiatorID,
	})

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(api.RequestIDMiddleware)
	router.Use(requestLoggerMiddleware(logger))
	router.Use(api.RecovererMiddleware(logger))
	router.Use(auth.Middleware(cfg.APIJWTSecret))

	router.NotFound(api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return apperrors.NewNotFoundResource("Route", r.Method+" "+r.URL.Path)
	}).ServeHTTP)

	openapi.RegisterRoutes(router)
	control.RegisterRoutes(router, controlService)
	audit.RegisterRoutes(router, auditService)

	initCtx, cancelInit := context.WithCancel(context.Background())
	var initWG sync.WaitGroup
	if cfg.AutoInitialize() && !options.DisableAutoInitialize {
		initWG.Add(1)
		go func() {
			defer initWG.Done()
			autoInitialize(initCtx, cfg, controlService, auditService, logger)
		}()
	}

	shutdown := func(ctx context.Context) error {
		cancelInit()
		initWG.Wait()
		if ctx == nil {
			ctx = context.Background()
		}

		var errs []error
		if err := manager.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
		recordSystemEvent(logger, auditService, audit.EventSystemShutdown, audit.EventLevelInfo, "Bose hub stopping", nil)
		auditService.StopPruneJob()
		if err := dbPair.Close(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	return router, shutdown, nil
}

// autoInitialize opens the session from configuration. Failure leaves the
// server running without a session.
func autoInitialize(ctx context.Context, cfg config.Config, service *control.Service, auditService *audit.Service, logger *logrus.Logger) {
	entry := logger.WithField("host", cfg.BoseHost)
	entry.Info("Initializing speaker session from configuration")

	result, err := service.Initialize(ctx, session.Params{
		Email:         cfg.BoseUsername,
		Password:      cfg.BosePassword,
		Host:          cfg.BoseHost,
		DeviceID:      cfg.BoseDeviceID,
		Version:       1,
		AutoReconnect: true,
	})
	if err != nil {
		entry.WithError(err).Error("Automatic speaker initialization failed")
		recordSystemEvent(logger, auditService, audit.EventSystemAutoInitFailed, audit.EventLevelError, err.Error(), map[string]any{"host": cfg.BoseHost})
		return
	}

	entry.WithField("device_id", result.DeviceID).Info("Speaker session initialized from configuration")
}

func recordSystemEvent(logger *logrus.Logger, service *audit.Service, eventType audit.EventType, level audit.EventLevel, message string, payload map[string]any) {
	input := audit.WriteEventInput{
		Type:    string(eventType),
		Level:   &level,
		Message: message,
		Payload: payload,
	}
	if host, ok := payload["host"].(string); ok {
		input.Host = &host
	}
	if _, err := service.RecordEvent(input); err != nil {
		logger.WithError(err).WithField("type", eventType).Warn("Failed to record system event")
	}
}

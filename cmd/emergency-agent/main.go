// cmd/emergency-agent/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"maternalhub-agent/internal/common/aws"
	"maternalhub-agent/internal/common/config"
	"maternalhub-agent/internal/common/database"
	stderrors "maternalhub-agent/internal/common/errors"
	"maternalhub-agent/internal/common/logger"
	"maternalhub-agent/internal/emergency"
	"maternalhub-agent/internal/emergency/api"
	"maternalhub-agent/internal/emergency/geo"
	"maternalhub-agent/internal/emergency/notify"
	"maternalhub-agent/internal/emergency/push"
	"maternalhub-agent/internal/emergency/reconcile"
	"maternalhub-agent/internal/emergency/store"
	"maternalhub-agent/internal/models"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")

	zapLog.Info("Starting emergency agent...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	// rebuild with the configured level/format now that config is available
	zapLog = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	ctx := context.Background()

	// --- Init the durable store ---
	var emergencyStore store.Store
	var redisClient *database.RedisClient

	switch cfg.Store.Backend {
	case "redis":
		err = retryWithBackoff(func() error {
			var err error
			redisClient, err = database.NewRedis(cfg.Store.Redis)
			if err != nil {
				return err
			}
			return redisClient.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")

		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redisClient.Close()
		zapLog.Info("Redis connected successfully")

		emergencyStore = store.NewRedisStore(redisClient.Client, cfg.Store.Redis.Key, log)
	default:
		emergencyStore = store.NewFileStore(cfg.Store.Path, log)
	}

	// --- Init the geolocation provider ---
	var locator geo.Provider
	if cfg.Geo.Enabled {
		locator = geo.NewCached(
			geo.Static{Lat: cfg.Geo.HomeLat, Lng: cfg.Geo.HomeLng},
			config.GetDuration(cfg.Geo.Timeout),
			config.GetDuration(cfg.Geo.MaxFixAge),
		)
	}

	// --- Init notification sinks ---
	sinks := []notify.Notifier{notify.NewLog(log)}

	if cfg.Notifications.SMS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		sinks = append(sinks, notify.NewSMS(snsClient, cfg.Notifications.SMS.Phone, log))
		zapLog.Info("SMS notifications enabled", zap.String("phone", cfg.Notifications.SMS.Phone))
	}

	if cfg.Notifications.Email.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client init failed", zap.Error(err))
		}
		sinks = append(sinks, notify.NewEmail(sesClient, cfg.Notifications.Email.FromEmail, cfg.Notifications.Email.ToEmail, log))
		zapLog.Info("Email notifications enabled", zap.String("to", cfg.Notifications.Email.ToEmail))
	}

	// --- Init the hub API client and session ---
	hubClient := api.NewHTTPClient(
		cfg.Hub,
		func() string { return cfg.Hub.AuthToken },
		config.GetDuration(cfg.Hub.RequestTimeout),
		log,
	)

	session := emergency.NewSession(emergency.Options{
		API:      hubClient,
		Store:    emergencyStore,
		Geo:      locator,
		Notifier: notify.Multi(sinks),
		Reconcile: reconcile.Config{
			PollInterval:        config.GetDuration(cfg.Hub.PollInterval),
			RateLimitedInterval: config.GetDuration(cfg.Hub.RateLimitedInterval),
		},
		Logger: log,
	})

	// --- Init the push channel ---
	var consumer *push.Consumer
	if cfg.Hub.WebsocketURL != "" {
		consumer = push.NewConsumer(push.Config{
			URL:               cfg.Hub.WebsocketURL,
			UserID:            cfg.Hub.UserID,
			ReconnectDelay:    config.GetDuration(cfg.Hub.ReconnectDelay),
			ReconnectAttempts: cfg.Hub.ReconnectAttempts,
		}, session.HandlePushEvent, log)
		consumer.Start()
	}

	// --- Resume a persisted emergency ---
	if err := session.Resume(ctx); err != nil {
		zapLog.Error("resume failed, starting idle", zap.Error(err))
	}
	if active := session.Active(); active != nil {
		zapLog.Info("resumed active emergency", zap.String("emergencyId", active.ID))
		if consumer != nil {
			consumer.Subscribe(active.ID)
		}
	}

	// --- Control / Health / Metrics server ---
	handler := &controlHandler{session: session, consumer: consumer, logger: zapLog}

	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/emergency", handler.emergency)
		http.HandleFunc("/emergency/resume-polling", handler.resumePolling)
		if cfg.Metrics.Enabled {
			http.Handle("/metrics", promhttp.Handler())
		}
		zapLog.Info("Control server listening", zap.String("address", cfg.Metrics.Address))
		if err := http.ListenAndServe(cfg.Metrics.Address, nil); err != nil {
			zapLog.Error("Control server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping agent...")

	if consumer != nil {
		consumer.Stop()
	}
	session.Close()

	zapLog.Info("Emergency agent stopped gracefully")
}

// controlHandler exposes the session over the local control port. Cancelling
// here never blocks on the backend: the session clears local state regardless.
type controlHandler struct {
	session  *emergency.Session
	consumer *push.Consumer
	logger   *zap.Logger
}

type sendRequest struct {
	Profile  models.UserProfile `json:"profile"`
	Location *models.Location   `json:"location,omitempty"`
}

func (h *controlHandler) emergency(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		active := h.session.Active()
		if active == nil {
			writeError(w, http.StatusNotFound, "no active emergency")
			return
		}
		json.NewEncoder(w).Encode(active)

	case http.MethodPost:
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		record, err := h.session.Send(r.Context(), req.Profile, req.Location)
		if err != nil {
			h.writeSessionError(w, err)
			return
		}
		if h.consumer != nil {
			h.consumer.Subscribe(record.ID)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(record)

	case http.MethodDelete:
		if h.session.Active() == nil {
			writeError(w, http.StatusNotFound, "no active emergency")
			return
		}
		if err := h.session.Cancel(r.Context()); err != nil {
			h.writeSessionError(w, err)
			return
		}
		if h.consumer != nil {
			h.consumer.Unsubscribe()
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *controlHandler) resumePolling(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.session.ResumePolling()
	w.WriteHeader(http.StatusAccepted)
}

func (h *controlHandler) writeSessionError(w http.ResponseWriter, err error) {
	h.logger.Warn("control request failed", zap.Error(err))

	switch {
	case stderrors.IsValidation(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case stderrors.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	case stderrors.IsAuthExpired(err), stderrors.IsDispatchAuthFailure(err):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

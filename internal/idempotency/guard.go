// Package idempotency — HTTP middleware, гарантирующий, что POST/PATCH запрос
// с заголовком Idempotency-Key выполняется не более одного раза.
//
// Первый запрос под ключом помечается in-progress (SET NX с TTL 5 минут),
// его ответ сохраняется на 24 часа. Повтор с тем же телом получает
// сохранённый ответ, повтор во время выполнения — 409, повтор с другим
// телом — 422.
//
// Ключ в хранилище: {app_env}-{organization}-{Idempotency-Key}.
package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shaiso/Herald/internal/auth"
	"github.com/shaiso/Herald/internal/config"
	"github.com/shaiso/Herald/internal/telemetry"
)

// Заголовки протокола идемпотентности.
const (
	HeaderKey        = "Idempotency-Key"
	HeaderReplay     = "Idempotency-Replay"
	HeaderRetryAfter = "Retry-After"
	HeaderLink       = "Link"
)

// MaxKeyLength — максимальная длина Idempotency-Key.
const MaxKeyLength = 255

// Store — key-value хранилище записей (store.Client).
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// Guard — idempotency middleware.
type Guard struct {
	enabled     bool
	progressTTL time.Duration
	cacheTTL    time.Duration
	docsLink    string
	appEnv      string

	store  Store
	logger *slog.Logger
}

// New создаёт Guard. cfg.Enabled == false — middleware пропускает все запросы.
func New(cfg *config.Idempotency, appEnv string, store Store, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		enabled:     cfg.Enabled,
		progressTTL: cfg.ProgressTTL,
		cacheTTL:    cfg.CacheTTL,
		docsLink:    cfg.DocsLink,
		appEnv:      appEnv,
		store:       store,
		logger:      logger.With("component", "idempotency"),
	}
}

// Middleware оборачивает handler. Должен стоять после аутентификации:
// ключ строится по организации вызывающей стороны.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderKey)

		// 1. Кандидат на идемпотентность
		if !g.enabled || key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPatch) {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > MaxKeyLength {
			g.outcome("rejected")
			writeError(w, http.StatusBadRequest, "BAD_REQUEST",
				fmt.Sprintf("idempotency key %q has exceeded the maximum allowed length of %d characters", key, MaxKeyLength))
			return
		}

		// 2. Ключ хранилища
		identity, ok := auth.FromContext(r.Context())
		if !ok {
			g.logger.Error("cannot build idempotency key without caller identity")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "cannot build idempotency key without caller identity")
			return
		}
		cacheKey := g.appEnv + "-" + identity.OrganizationID + "-" + key
		logger := g.logger.With("idempotency_key", key)

		// 3. Хэш тела
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		bodyHash := hashBody(body)

		// 4. Захват ключа
		progress, _ := record{Status: statusInProgress, BodyHash: bodyHash}.encode()
		created, err := g.store.SetIfAbsent(r.Context(), cacheKey, progress, g.progressTTL)
		if err != nil {
			logger.Warn("idempotency store unavailable, serving request without idempotency", "error", err)
			g.outcome("bypass")
			next.ServeHTTP(w, r)
			return
		}

		if created {
			g.outcome("new")
			g.serveNew(w, r, next, cacheKey, key, bodyHash, logger)
			return
		}

		// 5. Повтор
		g.serveDuplicate(w, r, cacheKey, key, bodyHash, logger)
	})
}

// serveNew выполняет handler и сохраняет его ответ.
func (g *Guard) serveNew(w http.ResponseWriter, r *http.Request, next http.Handler, cacheKey, key, bodyHash string, logger *slog.Logger) {
	rec := newRecorder()

	defer func() {
		if p := recover(); p != nil {
			g.save(r.Context(), cacheKey, record{
				Status:      statusError,
				BodyHash:    bodyHash,
				StatusCode:  http.StatusInternalServerError,
				ContentType: "application/json",
				Data:        errorBody("INTERNAL_ERROR", "internal server error"),
			}, logger)
			panic(p)
		}
	}()

	next.ServeHTTP(rec, r)

	status := rec.statusCode()
	st := statusSuccess
	if status >= http.StatusBadRequest {
		st = statusError
	}
	g.save(r.Context(), cacheKey, record{
		Status:      st,
		BodyHash:    bodyHash,
		StatusCode:  status,
		ContentType: rec.header.Get("Content-Type"),
		Data:        rec.body.String(),
	}, logger)

	rec.header.Set(HeaderKey, key)
	rec.flush(w)
}

// serveDuplicate отвечает на повтор запроса по сохранённой записи.
func (g *Guard) serveDuplicate(w http.ResponseWriter, r *http.Request, cacheKey, key, bodyHash string, logger *slog.Logger) {
	raw, found, err := g.store.Get(r.Context(), cacheKey)
	if err != nil || !found {
		logger.Warn("idempotency record unavailable", "found", found, "error", err)
		g.outcome("unavailable")
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service unavailable")
		return
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		logger.Warn("idempotency record is corrupted", "error", err)
		g.outcome("unavailable")
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service unavailable")
		return
	}

	w.Header().Set(HeaderKey, key)

	if rec.Status == statusInProgress {
		logger.Info("previous request in progress, rejecting")
		g.outcome("conflict")
		w.Header().Set(HeaderRetryAfter, "1")
		w.Header().Set(HeaderLink, g.docsLink)
		writeError(w, http.StatusConflict, "CONFLICT",
			fmt.Sprintf("request with key %q is currently being processed, please retry after 1 second", key))
		return
	}

	if rec.BodyHash != bodyHash {
		logger.Info("idempotency key reused for a different body")
		g.outcome("mismatch")
		w.Header().Set(HeaderLink, g.docsLink)
		writeError(w, http.StatusUnprocessableEntity, "UNPROCESSABLE_ENTITY",
			fmt.Sprintf("request with key %q is being reused for a different body", key))
		return
	}

	g.outcome("replay")
	w.Header().Set(HeaderReplay, "true")
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.WriteHeader(rec.StatusCode)
	io.WriteString(w, rec.Data)
}

func (g *Guard) save(ctx context.Context, cacheKey string, rec record, logger *slog.Logger) {
	value, err := rec.encode()
	if err == nil {
		err = g.store.Set(context.WithoutCancel(ctx), cacheKey, value, g.cacheTTL)
	}
	if err != nil {
		logger.Warn("failed to cache idempotent response", "error", err)
	}
}

func (g *Guard) outcome(name string) {
	telemetry.IdempotencyOutcomes.WithLabelValues(name).Inc()
}

func errorBody(code, message string) string {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
	return string(data)
}

// writeError пишет ошибку в формате API ({"error": {"code", "message"}}).
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, errorBody(code, message))
}

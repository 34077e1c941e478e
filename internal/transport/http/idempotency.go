package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"

	idempotencyKeyPrefix    = "ticket-ledger:idempotency:"
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultProcessingTTL    = 30 * time.Second
	maxIdempotencyKeyLength = 255
)

type idempotencyStatus string

const (
	statusProcessing idempotencyStatus = "processing"
	statusCompleted  idempotencyStatus = "completed"
)

type idempotencyRecord struct {
	Status       idempotencyStatus `json:"status"`
	RequestHash  string            `json:"request_hash"`
	ResponseCode int               `json:"response_code,omitempty"`
	ResponseBody string            `json:"response_body,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// IdempotencyStore is the subset of the Redis client the middleware needs.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

type IdempotencyConfig struct {
	Store IdempotencyStore
	// TTL for completed records.
	TTL time.Duration
	// ProcessingTTL bounds how long an abandoned in-flight record blocks retries.
	ProcessingTTL time.Duration
	Logger        *zap.Logger
}

// Idempotency replays the stored response for a repeated Idempotency-Key. Keys are scoped to the
// authenticated subject, and reusing a key with a different request is refused. Requests without the
// header pass through. Redis failures fail open.
func Idempotency(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultIdempotencyTTL
	}
	if cfg.ProcessingTTL <= 0 {
		cfg.ProcessingTTL = defaultProcessingTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLength {
			writeError(c, http.StatusBadRequest, codeInvalidRequestBody, "idempotency key too long")
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeError(c, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		subject := principalFrom(c).Subject
		hash := requestHash(c.Request.Method, c.Request.URL.Path, subject, body)
		redisKey := idempotencyKeyPrefix + subject + ":" + key
		ctx := c.Request.Context()

		record := idempotencyRecord{Status: statusProcessing, RequestHash: hash, CreatedAt: time.Now().UTC()}
		claimed, err := setRecord(ctx, cfg.Store, redisKey, record, cfg.ProcessingTTL, true)
		if err != nil {
			cfg.Logger.Warn("idempotency store unavailable", zap.Error(err))
			c.Next()
			return
		}

		if !claimed {
			existing, err := getRecord(ctx, cfg.Store, redisKey)
			switch {
			case errors.Is(err, redis.Nil):
				// Expired between SetNX and Get; treat as in flight and let the client retry.
				writeError(c, http.StatusConflict, codeIdempotencyInFlight, "a request with this idempotency key is in progress")
			case err != nil:
				cfg.Logger.Warn("idempotency store unavailable", zap.Error(err))
				c.Next()
			case existing.RequestHash != hash:
				writeError(c, http.StatusUnprocessableEntity, codeIdempotencyReused, "idempotency key already used with a different request")
			case existing.Status == statusProcessing:
				writeError(c, http.StatusConflict, codeIdempotencyInFlight, "a request with this idempotency key is in progress")
			default:
				c.Header("Idempotent-Replayed", "true")
				c.Data(existing.ResponseCode, "application/json; charset=utf-8", []byte(existing.ResponseBody))
				c.Abort()
			}
			return
		}

		rw := &capturingWriter{ResponseWriter: c.Writer}
		c.Writer = rw
		c.Next()

		// Server errors are not final; release the key so the client can retry.
		saveCtx := context.WithoutCancel(ctx)
		if rw.Status() >= http.StatusInternalServerError {
			if err := cfg.Store.Del(saveCtx, redisKey).Err(); err != nil {
				cfg.Logger.Warn("release idempotency key", zap.Error(err))
			}
			return
		}
		record.Status = statusCompleted
		record.ResponseCode = rw.Status()
		record.ResponseBody = rw.body.String()
		if _, err := setRecord(saveCtx, cfg.Store, redisKey, record, cfg.TTL, false); err != nil {
			cfg.Logger.Error("save idempotency record",
				zap.String("idempotency_key", redisKey),
				zap.Int("status", record.ResponseCode),
				zap.Error(err),
			)
			// Keep the processing record for the full TTL so a retry cannot repeat the request.
			if err := cfg.Store.Expire(saveCtx, redisKey, cfg.TTL).Err(); err != nil {
				cfg.Logger.Error("extend idempotency record", zap.String("idempotency_key", redisKey), zap.Error(err))
			}
		}
	}
}

type capturingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func requestHash(method, path, subject string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(subject))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func getRecord(ctx context.Context, store IdempotencyStore, key string) (idempotencyRecord, error) {
	raw, err := store.Get(ctx, key).Result()
	if err != nil {
		return idempotencyRecord{}, err
	}
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return idempotencyRecord{}, err
	}
	return record, nil
}

func setRecord(ctx context.Context, store IdempotencyStore, key string, record idempotencyRecord, ttl time.Duration, onlyIfAbsent bool) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	if onlyIfAbsent {
		return store.SetNX(ctx, key, string(data), ttl).Result()
	}
	return true, store.Set(ctx, key, string(data), ttl).Err()
}

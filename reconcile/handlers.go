package reconcile

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/billing_backend/config"
	"bitbucket.org/mmdatafocus/billing_backend/models"
	"bitbucket.org/mmdatafocus/billing_backend/utils"
	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const sharedSecretHeader = "X-Sync-Secret"

var validate = validator.New()

// TriggerOptions are optional per-invocation overrides carried in the
// request body.
type TriggerOptions struct {
	BatchSize        int     `json:"batchSize" validate:"omitempty,min=1,max=500"`
	ToleranceMinutes float64 `json:"toleranceMinutes" validate:"omitempty,gt=0"`
}

// authorize compares the shared-secret header against SYNC_SHARED_SECRET.
// Exact match only; an unset secret rejects everything. Runs before any
// store read or write.
func authorize(c *gin.Context) bool {
	secret := os.Getenv("SYNC_SHARED_SECRET")
	if secret == "" {
		return false
	}
	provided := c.GetHeader(sharedSecretHeader)
	if provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) == 1
}

func bindOptions(c *gin.Context) (*TriggerOptions, error) {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil, nil
	}
	var opts TriggerOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		return nil, err
	}
	if err := validate.Struct(&opts); err != nil {
		return nil, err
	}
	return &opts, nil
}

func (e *Engine) withOptions(opts *TriggerOptions) *Engine {
	if opts == nil {
		return e
	}
	cfg := e.Config
	if opts.BatchSize > 0 {
		cfg.BatchSize = opts.BatchSize
		cfg.RecoveryBatchSize = opts.BatchSize
	}
	if opts.ToleranceMinutes > 0 {
		cfg.PeriodEndTolerance = time.Duration(opts.ToleranceMinutes * float64(time.Minute))
	}
	return e.WithConfig(cfg)
}

// acquireSweepLock prevents two concurrent sweeps of the same kind. The
// lock is advisory: without Redis the sweep proceeds unguarded, which is
// safe (writes are idempotent) just wasteful.
func acquireSweepLock(c *gin.Context, sweepType string) (*redislock.Lock, bool) {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, true
	}
	lock, err := locker.Obtain(c.Request.Context(), "billing:sweep:"+sweepType, 10*time.Minute, nil)
	if err == redislock.ErrNotObtained {
		c.JSON(http.StatusConflict, gin.H{"error": "a " + sweepType + " sweep is already running"})
		return nil, false
	}
	if err != nil {
		// Lock backend trouble should not block reconciliation.
		return nil, true
	}
	return lock, true
}

func ReconcileHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authorize(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		opts, err := bindOptions(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}

		lock, ok := acquireSweepLock(c, models.SyncRunTypeFullReconciliation)
		if !ok {
			return
		}
		if lock != nil {
			defer func() { _ = lock.Release(c.Request.Context()) }()
		}

		ctx := utils.SetSweepTypeInContext(c.Request.Context(), models.SyncRunTypeFullReconciliation)
		result, runErr := engine.withOptions(opts).RunFullReconciliation(ctx)
		if runErr != nil {
			c.JSON(http.StatusInternalServerError, result)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func RecoverWebhooksHandler(engine *Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authorize(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		opts, err := bindOptions(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}

		lock, ok := acquireSweepLock(c, models.SyncRunTypeWebhookRecovery)
		if !ok {
			return
		}
		if lock != nil {
			defer func() { _ = lock.Release(c.Request.Context()) }()
		}

		ctx := utils.SetSweepTypeInContext(c.Request.Context(), models.SyncRunTypeWebhookRecovery)
		result, runErr := engine.withOptions(opts).RunWebhookRecovery(ctx)
		if runErr != nil {
			c.JSON(http.StatusInternalServerError, result)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// SyncRunsHandler lists recent sweep audit records, newest first.
func SyncRunsHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authorize(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		q := db.WithContext(c.Request.Context()).Order("id desc").Limit(limit)
		if runType := strings.TrimSpace(c.Query("type")); runType != "" {
			q = q.Where("type = ?", runType)
		}

		var runs []models.SyncRun
		if err := q.Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": runs})
	}
}

func SyncRunDetailHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authorize(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		var run models.SyncRun
		if err := db.WithContext(c.Request.Context()).Where("id = ?", id).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

// LastRunHandler serves the cached latest finished run per sweep type,
// falling back to the DB when the cache is cold.
func LastRunHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authorize(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		runType := c.Param("type")
		if runType != models.SyncRunTypeFullReconciliation && runType != models.SyncRunTypeWebhookRecovery {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown sweep type"})
			return
		}

		var cached models.SyncRun
		if ok, err := config.GetRedisObject("SyncRun:last:"+runType, &cached); err == nil && ok {
			c.JSON(http.StatusOK, cached)
			return
		}

		var run models.SyncRun
		err := db.WithContext(c.Request.Context()).
			Where("type = ? AND status <> ?", runType, models.SyncRunStatusRunning).
			Order("id desc").
			Take(&run).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no finished runs"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

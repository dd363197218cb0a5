package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/billing_backend/config"
	"bitbucket.org/mmdatafocus/billing_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SyncRunRecorder is the GORM-backed SyncRunStore. It exclusively owns the
// SyncRun lifecycle: one create at sweep start, one terminal completion.
type SyncRunRecorder struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewSyncRunRecorder(db *gorm.DB, logger *logrus.Logger) *SyncRunRecorder {
	return &SyncRunRecorder{DB: db, Logger: logger}
}

func (r *SyncRunRecorder) Create(ctx context.Context, runType string) (uint, error) {
	now := time.Now().UTC()
	run := models.SyncRun{
		Type:      runType,
		Status:    models.SyncRunStatusRunning,
		StartedAt: &now,
	}
	if err := r.DB.WithContext(ctx).Create(&run).Error; err != nil {
		return 0, err
	}
	return run.ID, nil
}

type runMetadata struct {
	Issues []Issue `json:"issues"`
}

// Complete finalizes the run. It is called from both the success and the
// failure path; its own write errors are logged and swallowed so they never
// mask the error the sweep reports to the caller.
func (r *SyncRunRecorder) Complete(ctx context.Context, id uint, res RunCompletion) {
	now := time.Now().UTC()
	metadataJSON, _ := json.Marshal(runMetadata{Issues: res.Issues})

	err := r.DB.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":              res.Status,
			"records_processed":   res.RecordsProcessed,
			"records_fixed":       res.RecordsFixed,
			"discrepancies_found": res.DiscrepanciesFound,
			"error_message":       res.ErrorMessage,
			"metadata_json":       metadataJSON,
			"completed_at":        &now,
		}).Error
	if err != nil {
		if r.Logger != nil {
			r.Logger.WithFields(logrus.Fields{
				"field":  "SyncRunRecorder",
				"run_id": id,
				"status": res.Status,
			}).Error("failed to finalize sync run: " + err.Error())
		}
		return
	}

	// Best-effort cache of the latest finished run per sweep type for the
	// status endpoint; the DB row stays authoritative.
	var run models.SyncRun
	if qerr := r.DB.WithContext(ctx).Where("id = ?", id).Take(&run).Error; qerr == nil {
		_ = config.SetRedisObject("SyncRun:last:"+run.Type, run, 24*time.Hour)
	}
}

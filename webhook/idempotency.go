package webhook

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/billing_backend/models"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// IdempotencyStore is the durable dedup layer behind the event processor.
// Begin returns skip=true when the message has already been applied.
type IdempotencyStore interface {
	Begin(handlerName, messageID string) (skip bool, err error)
	MarkSucceeded(handlerName, messageID string) error
	MarkFailed(handlerName, messageID string, cause error) error
}

type gormIdempotencyStore struct {
	db *gorm.DB
}

func NewIdempotencyStore(db *gorm.DB) IdempotencyStore {
	return &gormIdempotencyStore{db: db}
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// Begin inserts STARTED. If SUCCEEDED exists, returns (true, nil) meaning "skip safely".
func (s *gormIdempotencyStore) Begin(handlerName, messageID string) (bool, error) {
	key := models.IdempotencyKey{
		HandlerName: handlerName,
		MessageId:   messageID,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := s.db.Create(&key).Error; err == nil {
		return false, nil
	} else if !isDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := s.db.Where("handler_name = ? AND message_id = ?", handlerName, messageID).
		First(&existing).Error; err != nil {
		return false, err
	}

	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return true, nil
	case models.IdempotencyStatusStarted:
		// Another worker may be processing right now; only reclaim stale rows.
		if time.Since(existing.UpdatedAt) < 5*time.Minute {
			return false, ErrIdempotencyInProgress
		}
		return false, s.restart(existing.ID)
	default:
		return false, s.restart(existing.ID)
	}
}

func (s *gormIdempotencyStore) restart(id int) error {
	return s.db.Model(&models.IdempotencyKey{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
}

func (s *gormIdempotencyStore) MarkSucceeded(handlerName, messageID string) error {
	return s.db.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageID).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "last_error": nil}).Error
}

func (s *gormIdempotencyStore) MarkFailed(handlerName, messageID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.db.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageID).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}

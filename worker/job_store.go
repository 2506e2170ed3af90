package worker

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"zapflow/models"

	"gorm.io/gorm"
)

// Jobs left in processing longer than this are assumed orphaned by a
// crashed worker and returned to pending at the next claim.
const staleClaimAfter = 10 * time.Minute

// JobStore is the durable scheduled-job table with claim/lease semantics.
// Claiming uses an atomic conditional transition so that at most one
// worker processes a given job, even with multiple scheduler processes.
type JobStore struct {
	DB     *gorm.DB
	Logger *log.Logger

	// Backoff applied when a failed job still has retry budget
	RetryBackoff time.Duration

	// Retry budget stamped on newly enqueued jobs
	DefaultMaxRetries int
}

func NewJobStore(db *gorm.DB, logger *log.Logger, retryBackoff time.Duration, defaultMaxRetries int) *JobStore {
	return &JobStore{
		DB:                db,
		Logger:            logger,
		RetryBackoff:      retryBackoff,
		DefaultMaxRetries: defaultMaxRetries,
	}
}

// Enqueue inserts a new pending job.
func (s *JobStore) Enqueue(kind string, payload models.JobPayload, scheduledAt time.Time, maxRetries int) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode job payload: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = s.DefaultMaxRetries
	}
	job := models.ScheduledJob{
		Kind:        kind,
		Payload:     data,
		ScheduledAt: scheduledAt,
		Status:      models.JobStatusPending,
		MaxRetries:  maxRetries,
	}
	return s.DB.Create(&job).Error
}

// ClaimDueJobs selects up to limit pending jobs whose scheduled time has
// arrived and atomically marks them processing. FOR UPDATE SKIP LOCKED
// prevents two scheduler instances from claiming the same row.
func (s *JobStore) ClaimDueJobs(workerID string, limit int) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		// Requeue jobs orphaned by a crashed worker
		tx.Exec(`
UPDATE scheduled_jobs
SET status = 'pending', locked_by = NULL, locked_at = NULL, updated_at = now()
WHERE status = 'processing' AND locked_at IS NOT NULL AND locked_at < now() - ?::interval
`, fmt.Sprintf("%d seconds", int(staleClaimAfter.Seconds())))

		return tx.Raw(`
WITH due AS (
  SELECT id
  FROM scheduled_jobs
  WHERE status = 'pending' AND scheduled_at <= now() AND deleted_at IS NULL
  ORDER BY scheduled_at ASC
  FOR UPDATE SKIP LOCKED
  LIMIT ?
)
UPDATE scheduled_jobs
SET status = 'processing', locked_by = ?, locked_at = now(), updated_at = now()
WHERE id IN (SELECT id FROM due)
RETURNING *;
`, limit, workerID).Scan(&jobs).Error
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Complete marks a job done.
func (s *JobStore) Complete(jobID uint) error {
	return s.DB.Model(&models.ScheduledJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":      models.JobStatusCompleted,
			"executed_at": time.Now(),
			"locked_by":   nil,
			"locked_at":   nil,
		}).Error
}

// Fail consumes one retry slot. With budget remaining the job goes back to
// pending at now+backoff; otherwise it is terminally failed. Backoff is
// fixed, not exponential.
func (s *JobStore) Fail(jobID uint, errMsg string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var job models.ScheduledJob
		if err := tx.First(&job, jobID).Error; err != nil {
			return err
		}

		status, nextAt := RetryTransition(job.RetryCount+1, job.MaxRetries, time.Now(), s.RetryBackoff)
		updates := map[string]interface{}{
			"retry_count": job.RetryCount + 1,
			"status":      status,
			"last_error":  errMsg,
			"locked_by":   nil,
			"locked_at":   nil,
		}
		if status == models.JobStatusPending {
			updates["scheduled_at"] = nextAt
		} else {
			updates["executed_at"] = time.Now()
		}
		return tx.Model(&job).Updates(updates).Error
	})
}

// Release returns a claimed job to pending without consuming a retry slot.
// Used when delivery was deferred by the rate limiter rather than failing.
func (s *JobStore) Release(jobID uint, delay time.Duration) error {
	return s.DB.Model(&models.ScheduledJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusPending,
			"scheduled_at": time.Now().Add(delay),
			"locked_by":    nil,
			"locked_at":    nil,
		}).Error
}

// HasOpenJob reports whether a recipient already has a non-terminal job.
// Enforces the one-in-flight-job-per-recipient invariant at seed time.
func (s *JobStore) HasOpenJob(recipientID uint) (bool, error) {
	var count int64
	err := s.DB.Model(&models.ScheduledJob{}).
		Where("status IN ?", []string{models.JobStatusPending, models.JobStatusProcessing}).
		Where("payload->>'recipient_id' = ?", fmt.Sprintf("%d", recipientID)).
		Count(&count).Error
	return count > 0, err
}

// RetryTransition decides where a job lands after a failed attempt. Pure
// so the retry policy is testable without a database: while the attempt
// count is under budget the job stays pending with a deferred schedule,
// at budget it fails terminally.
func RetryTransition(retryCount, maxRetries int, now time.Time, backoff time.Duration) (string, time.Time) {
	if retryCount < maxRetries {
		return models.JobStatusPending, now.Add(backoff)
	}
	return models.JobStatusFailed, now
}

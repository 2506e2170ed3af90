package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"zapflow/models"
	"zapflow/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SchedulerWorker is the single-writer poll loop: each tick claims a batch
// of due jobs and dispatches them with bounded parallelism. Ticks are not
// re-entrant; a tick only ends after its in-flight jobs drain, so shutdown
// via context cancellation never abandons claimed work.
type SchedulerWorker struct {
	DB         *gorm.DB
	Store      *JobStore
	Dispatcher *Dispatcher
	Logger     *log.Logger

	Interval    time.Duration
	BatchSize   int
	Concurrency int
	WorkerID    string
}

func NewSchedulerWorker(db *gorm.DB, store *JobStore, dispatcher *Dispatcher, logger *log.Logger, interval time.Duration, concurrency int) *SchedulerWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &SchedulerWorker{
		DB:          db,
		Store:       store,
		Dispatcher:  dispatcher,
		Logger:      logger,
		Interval:    interval,
		BatchSize:   concurrency * 10,
		Concurrency: concurrency,
		WorkerID:    fmt.Sprintf("scheduler-%s", uuid.New().String()[:8]),
	}
}

func (sw *SchedulerWorker) Start(ctx context.Context) {
	sw.Logger.Printf("Scheduler worker %s started (interval %s, concurrency %d)",
		sw.WorkerID, sw.Interval, sw.Concurrency)

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Println("Scheduler worker shutting down...")
			return
		case <-ticker.C:
			sw.tick(ctx)
		}
	}
}

// tick claims due jobs and processes the batch with bounded parallelism.
// An idle tick is a no-op.
func (sw *SchedulerWorker) tick(ctx context.Context) {
	jobs, err := sw.Store.ClaimDueJobs(sw.WorkerID, sw.BatchSize)
	if err != nil {
		sw.Logger.Printf("Error claiming due jobs: %v", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	sw.Logger.Printf("Claimed %d due jobs", len(jobs))

	sem := make(chan struct{}, sw.Concurrency)
	var wg sync.WaitGroup
	for i := range jobs {
		job := jobs[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			sw.processJob(ctx, job)
		}()
	}
	wg.Wait()
}

func (sw *SchedulerWorker) processJob(ctx context.Context, job models.ScheduledJob) {
	payload, err := job.DecodePayload()
	if err != nil {
		sw.failJob(job, fmt.Sprintf("undecodable payload: %v", err), nil)
		return
	}

	var campaign models.Campaign
	if err := sw.DB.First(&campaign, payload.CampaignID).Error; err != nil {
		sw.failJob(job, fmt.Sprintf("campaign %d not found", payload.CampaignID), nil)
		return
	}

	// Cooperative cancellation: claimed jobs for paused/cancelled campaigns
	// are skipped without side effects and not rescheduled.
	if !campaign.IsActive() {
		sw.Logger.Printf("Skipping job %d: campaign %d is %s", job.ID, campaign.ID, campaign.Status)
		if err := sw.Store.Complete(job.ID); err != nil {
			sw.Logger.Printf("Failed to close skipped job %d: %v", job.ID, err)
		}
		return
	}

	switch job.Kind {
	case models.JobKindStartCampaign:
		sw.seedCampaign(&campaign, job)
	case models.JobKindDeliverStep:
		sw.deliverStep(ctx, &campaign, job, payload)
	default:
		sw.failJob(job, fmt.Sprintf("unknown job kind %q", job.Kind), nil)
	}
}

// seedCampaign enqueues the first sequence step for every pending
// recipient that does not already have an in-flight job.
func (sw *SchedulerWorker) seedCampaign(campaign *models.Campaign, job models.ScheduledJob) {
	var firstStep models.SequenceStep
	if err := sw.DB.Where("campaign_id = ?", campaign.ID).
		Order("step_number ASC").
		First(&firstStep).Error; err != nil {
		sw.failJob(job, fmt.Sprintf("campaign %d has no sequence steps", campaign.ID), nil)
		return
	}

	var recipients []models.CampaignRecipient
	if err := sw.DB.Where("campaign_id = ? AND status = ?", campaign.ID, models.RecipientStatusPending).
		Find(&recipients).Error; err != nil {
		sw.failJob(job, fmt.Sprintf("failed to load recipients: %v", err), nil)
		return
	}

	seedAt := time.Now()
	if firstStep.DelayMinutes > 0 {
		seedAt = seedAt.Add(time.Duration(firstStep.DelayMinutes) * time.Minute)
	}
	seedAt = utils.ClipToSendWindow(campaign, seedAt)

	seeded := 0
	for _, recipient := range recipients {
		open, err := sw.Store.HasOpenJob(recipient.ID)
		if err != nil {
			sw.Logger.Printf("Failed to check open jobs for recipient %d: %v", recipient.ID, err)
			continue
		}
		if open {
			continue
		}

		err = sw.Store.Enqueue(models.JobKindDeliverStep, models.JobPayload{
			CampaignID:  campaign.ID,
			RecipientID: recipient.ID,
			StepNumber:  firstStep.StepNumber,
		}, seedAt, job.MaxRetries)
		if err != nil {
			sw.Logger.Printf("Failed to enqueue step %d for recipient %d: %v",
				firstStep.StepNumber, recipient.ID, err)
			continue
		}

		sw.DB.Model(&recipient).Update("next_send_at", seedAt)
		seeded++
	}

	sw.Logger.Printf("Campaign %d seeded: %d recipients scheduled for %s",
		campaign.ID, seeded, seedAt.Format(time.RFC3339))

	if err := sw.Store.Complete(job.ID); err != nil {
		sw.Logger.Printf("Failed to complete seed job %d: %v", job.ID, err)
	}
}

func (sw *SchedulerWorker) deliverStep(ctx context.Context, campaign *models.Campaign, job models.ScheduledJob, payload models.JobPayload) {
	err := sw.Dispatcher.Deliver(ctx, &job)
	if err == nil {
		if err := sw.Store.Complete(job.ID); err != nil {
			sw.Logger.Printf("Failed to complete job %d: %v", job.ID, err)
		}
		sw.advanceRecipient(campaign, payload)
		return
	}

	if errors.Is(err, ErrRateLimited) {
		// Deferred, not failed: no retry slot consumed
		if err := sw.Store.Release(job.ID, 30*time.Second); err != nil {
			sw.Logger.Printf("Failed to release rate-limited job %d: %v", job.ID, err)
		}
		return
	}

	sw.Logger.Printf("Job %d delivery failed (attempt %d/%d): %v",
		job.ID, job.RetryCount+1, job.MaxRetries, err)
	sw.failJob(job, err.Error(), &payload)
}

// failJob runs the bounded-retry transition and, when the job lands in
// terminal failure, marks its recipient failed. One recipient's exhausted
// retries never block sibling recipients.
func (sw *SchedulerWorker) failJob(job models.ScheduledJob, errMsg string, payload *models.JobPayload) {
	if err := sw.Store.Fail(job.ID, errMsg); err != nil {
		sw.Logger.Printf("Failed to transition job %d: %v", job.ID, err)
		return
	}

	status, _ := RetryTransition(job.RetryCount+1, job.MaxRetries, time.Now(), sw.Store.RetryBackoff)
	if status != models.JobStatusFailed || payload == nil || payload.RecipientID == 0 {
		return
	}

	if err := sw.DB.Model(&models.CampaignRecipient{}).
		Where("id = ?", payload.RecipientID).
		Update("status", models.RecipientStatusFailed).Error; err != nil {
		sw.Logger.Printf("Failed to mark recipient %d failed: %v", payload.RecipientID, err)
	}
}

// advanceRecipient enqueues the next sequence step after a successful
// delivery, or marks the recipient completed when the sequence is
// exhausted.
func (sw *SchedulerWorker) advanceRecipient(campaign *models.Campaign, payload models.JobPayload) {
	var nextStep models.SequenceStep
	err := sw.DB.Where("campaign_id = ? AND step_number > ?", campaign.ID, payload.StepNumber).
		Order("step_number ASC").
		First(&nextStep).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := sw.DB.Model(&models.CampaignRecipient{}).
			Where("id = ?", payload.RecipientID).
			Updates(map[string]interface{}{
				"status":       models.RecipientStatusCompleted,
				"next_send_at": nil,
			}).Error; err != nil {
			sw.Logger.Printf("Failed to mark recipient %d completed: %v", payload.RecipientID, err)
			return
		}
		sw.checkCampaignCompletion(campaign)
		return
	}
	if err != nil {
		sw.Logger.Printf("Failed to look up next step for campaign %d: %v", campaign.ID, err)
		return
	}

	nextAt := utils.NextSendTime(campaign, nextStep.DelayMinutes, time.Now())

	err = sw.Store.Enqueue(models.JobKindDeliverStep, models.JobPayload{
		CampaignID:  campaign.ID,
		RecipientID: payload.RecipientID,
		StepNumber:  nextStep.StepNumber,
	}, nextAt, sw.Store.DefaultMaxRetries)
	if err != nil {
		sw.Logger.Printf("Failed to enqueue step %d for recipient %d: %v",
			nextStep.StepNumber, payload.RecipientID, err)
		return
	}

	sw.DB.Model(&models.CampaignRecipient{}).
		Where("id = ?", payload.RecipientID).
		Update("next_send_at", nextAt)
}

// checkCampaignCompletion marks a campaign completed once every recipient
// has reached completed. Isolated recipient failures never auto-fail the
// campaign.
func (sw *SchedulerWorker) checkCampaignCompletion(campaign *models.Campaign) {
	var remaining int64
	if err := sw.DB.Model(&models.CampaignRecipient{}).
		Where("campaign_id = ? AND status != ?", campaign.ID, models.RecipientStatusCompleted).
		Count(&remaining).Error; err != nil {
		sw.Logger.Printf("Failed to count remaining recipients for campaign %d: %v", campaign.ID, err)
		return
	}
	if remaining > 0 {
		return
	}

	if err := sw.DB.Model(campaign).Updates(map[string]interface{}{
		"status":       models.CampaignStatusCompleted,
		"completed_at": time.Now(),
	}).Error; err != nil {
		sw.Logger.Printf("Failed to mark campaign %d completed: %v", campaign.ID, err)
		return
	}
	sw.Logger.Printf("Campaign %d completed", campaign.ID)
}

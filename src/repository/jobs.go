package repository

import (
	"context"
	"ticketing/src/models"
	"ticketing/src/models/scopes"
	"ticketing/src/types"
	"time"
)

func (r *Repository) CreateJob(ctx context.Context, job *models.JobTask) error {
	return r.conn(ctx).Create(job).Error
}

// ClaimDueJobs marks up to limit due jobs as running and returns them.
// Rows locked by another worker are skipped.
func (r *Repository) ClaimDueJobs(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.JobTask, error) {
	var jobs []models.JobTask
	err := r.WithTx(ctx, func(ctx context.Context) error {
		tx := r.conn(ctx)
		if err := tx.
			Scopes(scopes.ForUpdateSkipLocked, scopes.WithPendingStatus).
			Where("next_run_at <= ?", now).
			Order("next_run_at").
			Limit(limit).
			Find(&jobs).
			Error; err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		ids := make([]uint, len(jobs))
		until := now.Add(lease)
		for i := range jobs {
			ids[i] = jobs[i].ID
			jobs[i].Status = types.JOB_RUNNING
			jobs[i].LockedUntil = &until
		}
		return tx.Model(&models.JobTask{}).
			Scopes(scopes.WithIDs(ids...)).
			Updates(map[string]any{"status": types.JOB_RUNNING, "locked_until": until}).
			Error
	})
	return jobs, err
}

// ClaimJob claims a single pending job regardless of its schedule.
func (r *Repository) ClaimJob(ctx context.Context, id uint, now time.Time, lease time.Duration) (*models.JobTask, error) {
	var job *models.JobTask
	err := r.WithTx(ctx, func(ctx context.Context) error {
		var jobs []models.JobTask
		tx := r.conn(ctx)
		if err := tx.
			Scopes(scopes.ForUpdateSkipLocked, scopes.WithPendingStatus, scopes.WithID(id)).
			Find(&jobs).
			Error; err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		until := now.Add(lease)
		job = &jobs[0]
		job.Status = types.JOB_RUNNING
		job.LockedUntil = &until
		return tx.Model(job).Updates(map[string]any{"status": types.JOB_RUNNING, "locked_until": until}).Error
	})
	return job, err
}

// ReleaseExpiredLeases returns running jobs whose worker died to the pending pool.
func (r *Repository) ReleaseExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	res := r.conn(ctx).
		Model(&models.JobTask{}).
		Where("status = ? AND locked_until < ?", types.JOB_RUNNING, now).
		Updates(map[string]any{"status": types.JOB_PENDING, "locked_until": nil})
	return res.RowsAffected, res.Error
}

func (r *Repository) SaveJob(ctx context.Context, job *models.JobTask) error {
	return r.conn(ctx).Save(job).Error
}

func (r *Repository) GetJob(ctx context.Context, id uint) (*models.JobTask, error) {
	var job models.JobTask
	if err := r.conn(ctx).Scopes(scopes.WithID(id)).First(&job).Error; err != nil {
		return nil, notFound(err, "job")
	}
	return &job, nil
}

func (r *Repository) LockJob(ctx context.Context, id uint) (*models.JobTask, error) {
	var job models.JobTask
	if err := r.conn(ctx).Scopes(scopes.ForUpdate, scopes.WithID(id)).First(&job).Error; err != nil {
		return nil, notFound(err, "job")
	}
	return &job, nil
}

func (r *Repository) CreateNotification(ctx context.Context, n *models.Notification) error {
	return r.conn(ctx).Create(n).Error
}

// DeleteNotificationsBefore purges notifications older than cutoff.
func (r *Repository) DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.conn(ctx).Unscoped().Where("created_at < ?", cutoff).Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}

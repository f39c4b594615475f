package repository

import (
	"context"
	"strings"
	"time"

	"github.com/GoPolymarket/ordergate/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const rejectionEventPrefix = "REJECTED_"

// GormAuditRepo is the queryable audit store.
type GormAuditRepo struct {
	db *gorm.DB
}

func NewGormAuditRepo(db *gorm.DB) *GormAuditRepo {
	return &GormAuditRepo{db: db}
}

func (r *GormAuditRepo) Insert(ctx context.Context, entry *model.AuditEntry) error {
	if entry == nil {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(auditRecordFrom(entry)).Error
}

func applyAuditFilter(q *gorm.DB, f model.AuditFilter) *gorm.DB {
	if f.ActorID != "" {
		q = q.Where("actor_id = ?", f.ActorID)
	}
	if f.Event != "" {
		q = q.Where("event = ?", f.Event)
	}
	if f.Level != "" {
		q = q.Where("level = ?", string(f.Level))
	}
	if f.From != nil {
		q = q.Where("logged_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("logged_at <= ?", f.To.UTC())
	}
	return q
}

// List returns the newest entries matching filter and the total match count.
func (r *GormAuditRepo) List(ctx context.Context, filter model.AuditFilter, page model.Pagination) ([]*model.AuditEntry, int64, error) {
	page = page.Normalize()
	base := applyAuditFilter(r.db.WithContext(ctx).Model(&auditRecord{}), filter)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []auditRecord
	if err := base.Session(&gorm.Session{}).
		Order("logged_at DESC").
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]*model.AuditEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, total, nil
}

type auditCount struct {
	Name  string
	Total int64
}

// Summary aggregates userID's entries in [from, to] in the database.
func (r *GormAuditRepo) Summary(ctx context.Context, userID string, from, to time.Time) (*model.ActivitySummary, error) {
	scoped := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&auditRecord{}).
			Where("actor_id = ? AND logged_at >= ? AND logged_at <= ?", userID, from.UTC(), to.UTC())
	}
	summary := &model.ActivitySummary{
		UserID:  userID,
		From:    from,
		To:      to,
		ByEvent: map[string]int64{},
		ByLevel: map[model.AuditLevel]int64{},
	}

	var byEvent []auditCount
	if err := scoped().Select("event AS name, COUNT(*) AS total").Group("event").Scan(&byEvent).Error; err != nil {
		return nil, err
	}
	for _, c := range byEvent {
		summary.ByEvent[c.Name] = c.Total
		summary.Total += c.Total
		if strings.HasPrefix(c.Name, rejectionEventPrefix) {
			summary.Rejections += c.Total
		}
	}

	var byLevel []auditCount
	if err := scoped().Select("level AS name, COUNT(*) AS total").Group("level").Scan(&byLevel).Error; err != nil {
		return nil, err
	}
	for _, c := range byLevel {
		summary.ByLevel[model.AuditLevel(c.Name)] = c.Total
	}

	if summary.Total == 0 {
		return summary, nil
	}
	var first, last auditRecord
	if err := scoped().Order("logged_at ASC").Limit(1).Find(&first).Error; err != nil {
		return nil, err
	}
	if err := scoped().Order("logged_at DESC").Limit(1).Find(&last).Error; err != nil {
		return nil, err
	}
	summary.FirstSeen = &first.Timestamp
	summary.LastSeen = &last.Timestamp
	return summary, nil
}

// Cleanup deletes rows older than olderThan and reports how many went.
func (r *GormAuditRepo) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	res := r.db.WithContext(ctx).Where("logged_at < ?", cutoff).Delete(&auditRecord{})
	return res.RowsAffected, res.Error
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GoPolymarket/ordergate/internal/config"
	"github.com/GoPolymarket/ordergate/internal/model"
	"github.com/GoPolymarket/ordergate/internal/pkg/apperrors"
	"github.com/GoPolymarket/ordergate/internal/pkg/logger"
	"github.com/GoPolymarket/ordergate/internal/pkg/metrics"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
)

const (
	EventAuthSuccess    = "AUTH_SUCCESS"
	EventAuthFailure    = "AUTH_FAILURE"
	EventOrderPlaced    = "ORDER_PLACED"
	EventOrderUpdated   = "ORDER_UPDATED"
	EventOrderCancelled = "ORDER_CANCELLED"
	EventLargeOrder     = "LARGE_ORDER"
	EventAccessDenied   = "ACCESS_DENIED"
	EventAdminAction    = "ADMIN_ACTION"
	// Rejections are recorded as REJECTED_<error kind>.
	eventRejectedPrefix = "REJECTED_"
)

type AuditRepo interface {
	Insert(ctx context.Context, entry *model.AuditEntry) error
	List(ctx context.Context, filter model.AuditFilter, page model.Pagination) ([]*model.AuditEntry, int64, error)
	Summary(ctx context.Context, userID string, from, to time.Time) (*model.ActivitySummary, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

type dbWrite struct {
	entry *model.AuditEntry
	done  chan error
}

// AuditService records security-relevant decisions. Every entry is appended
// synchronously to a daily JSONL file and queued for the queryable store;
// HIGH and CRITICAL entries wait for the store write, bounded by the await
// timeout. Sink failures are reported through the logger, never to the caller.
type AuditService struct {
	dir          string
	awaitTimeout time.Duration

	fileMu  sync.Mutex
	logFile *os.File
	day     string

	sendMu  sync.RWMutex
	closed  bool
	logChan chan dbWrite
	buffer  *auditBuffer
	repo    AuditRepo
	text    *bluemonday.Policy
	now     func() time.Time

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewAuditService(cfg config.AuditConfig, repo AuditRepo) (*AuditService, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, err
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1000
	}
	await := cfg.AwaitTimeout()
	if await <= 0 {
		await = 2 * time.Second
	}

	svc := &AuditService{
		dir:          cfg.Dir,
		awaitTimeout: await,
		logChan:      make(chan dbWrite, size),
		buffer:       newAuditBuffer(size),
		repo:         repo,
		text:         bluemonday.StrictPolicy(),
		now:          time.Now,
	}

	svc.wg.Add(1)
	go svc.processLogs()

	return svc, nil
}

// Log records entry. It returns once the file write has been attempted and,
// for severe levels, once the store write finished or timed out. Client
// cancellation on ctx does not abort the write.
func (s *AuditService) Log(ctx context.Context, entry *model.AuditEntry) {
	ctx = context.WithoutCancel(ctx)
	e := s.prepare(entry)

	s.buffer.Add(e)
	if err := s.writeFile(e); err != nil {
		metrics.AuditWriteFailures.WithLabelValues("file").Inc()
		logger.LogError(ctx, err, "audit file write failed", "event", e.Event, "audit_id", e.ID)
	}

	if s.repo == nil {
		return
	}
	w := dbWrite{entry: e}
	if e.Level.Severe() {
		w.done = make(chan error, 1)
	}
	if !s.enqueue(w) {
		if !e.Level.Severe() {
			metrics.AuditWriteFailures.WithLabelValues("queue").Inc()
			logger.Warn("audit queue unavailable, dropping store write", "event", e.Event, "audit_id", e.ID)
			return
		}
		// severe entries bypass a full queue
		go func() { w.done <- s.insert(ctx, e) }()
	}
	if w.done == nil {
		return
	}
	timer := time.NewTimer(s.awaitTimeout)
	defer timer.Stop()
	select {
	case <-w.done:
	case <-timer.C:
		logger.Warn("audit store write still pending after await timeout", "event", e.Event, "audit_id", e.ID)
	}
}

// prepare copies entry, assigns id and time and masks sensitive metadata.
func (s *AuditService) prepare(entry *model.AuditEntry) *model.AuditEntry {
	e := *entry
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	if e.Level == "" {
		e.Level = model.AuditInfo
	}
	e.Description = s.text.Sanitize(e.Description)
	e.UserAgent = s.text.Sanitize(e.UserAgent)
	e.Metadata = RedactMetadata(e.Metadata)
	return &e
}

func (s *AuditService) writeFile(e *model.AuditEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	day := e.Timestamp.UTC().Format("2006-01-02")
	if s.logFile == nil || s.day != day {
		if s.logFile != nil {
			_ = s.logFile.Close()
			s.logFile = nil
		}
		filename := filepath.Join(s.dir, "audit-"+day+".jsonl")
		f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		s.logFile, s.day = f, day
	}
	_, err = s.logFile.Write(line)
	return err
}

func (s *AuditService) insert(ctx context.Context, e *model.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, s.awaitTimeout)
	defer cancel()
	err := s.repo.Insert(ctx, e)
	if err != nil {
		metrics.AuditWriteFailures.WithLabelValues("store").Inc()
		logger.LogError(ctx, err, "audit store write failed", "event", e.Event, "audit_id", e.ID)
	}
	return err
}

func (s *AuditService) enqueue(w dbWrite) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.logChan <- w:
		return true
	default:
		return false
	}
}

func (s *AuditService) processLogs() {
	defer s.wg.Done()
	for w := range s.logChan {
		err := s.insert(context.Background(), w.entry)
		if w.done != nil {
			w.done <- err
		}
	}
}

// Close drains pending store writes and closes the current file.
func (s *AuditService) Close() {
	s.closeOnce.Do(func() {
		s.sendMu.Lock()
		s.closed = true
		close(s.logChan)
		s.sendMu.Unlock()
		s.wg.Wait()
		s.fileMu.Lock()
		defer s.fileMu.Unlock()
		if s.logFile != nil {
			_ = s.logFile.Close()
			s.logFile = nil
		}
	})
}

// GetAuditLogs queries the store, falling back to the in-memory ring buffer
// when no store is configured or it fails.
func (s *AuditService) GetAuditLogs(ctx context.Context, filter model.AuditFilter, page model.Pagination) (*model.AuditPage, error) {
	page = page.Normalize()
	if s.repo != nil {
		entries, total, err := s.repo.List(ctx, filter, page)
		if err == nil {
			return &model.AuditPage{Entries: entries, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
		}
		logger.LogError(ctx, err, "audit store query failed, serving from buffer")
	}
	entries, total := s.buffer.List(filter, page)
	return &model.AuditPage{Entries: entries, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// GetUserActivitySummary aggregates userID's entries within [from, to].
func (s *AuditService) GetUserActivitySummary(ctx context.Context, userID string, from, to time.Time) (*model.ActivitySummary, error) {
	if userID == "" {
		return nil, apperrors.NewInvalidRequest("user id is required")
	}
	if to.IsZero() {
		to = s.now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	if to.Before(from) {
		return nil, apperrors.NewInvalidRequest("from must not be after to")
	}
	if s.repo != nil {
		summary, err := s.repo.Summary(ctx, userID, from, to)
		if err == nil {
			return summary, nil
		}
		logger.LogError(ctx, err, "audit store summary failed, serving from buffer")
	}
	entries, _ := s.buffer.List(model.AuditFilter{ActorID: userID, From: &from, To: &to}, model.Pagination{Limit: s.buffer.maxSize})
	return Summarize(userID, from, to, entries), nil
}

// Cleanup removes store rows older than retention. Daily files are kept.
func (s *AuditService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if s.repo == nil || retention <= 0 {
		return 0, nil
	}
	return s.repo.Cleanup(ctx, retention)
}

// Summarize folds entries into an activity summary.
func Summarize(userID string, from, to time.Time, entries []*model.AuditEntry) *model.ActivitySummary {
	summary := &model.ActivitySummary{
		UserID:  userID,
		From:    from,
		To:      to,
		ByEvent: map[string]int64{},
		ByLevel: map[model.AuditLevel]int64{},
	}
	for _, e := range entries {
		summary.Total++
		summary.ByEvent[e.Event]++
		summary.ByLevel[e.Level]++
		if IsRejectionEvent(e.Event) {
			summary.Rejections++
		}
		ts := e.Timestamp
		if summary.FirstSeen == nil || ts.Before(*summary.FirstSeen) {
			summary.FirstSeen = &ts
		}
		if summary.LastSeen == nil || ts.After(*summary.LastSeen) {
			summary.LastSeen = &ts
		}
	}
	return summary
}

func IsRejectionEvent(event string) bool {
	return strings.HasPrefix(event, eventRejectedPrefix)
}

func RejectionEvent(kind apperrors.ErrorType) string {
	return eventRejectedPrefix + string(kind)
}

// AuditLevelFor maps a rejection kind to the level it is recorded at.
func AuditLevelFor(kind apperrors.ErrorType) model.AuditLevel {
	switch kind {
	case apperrors.ErrValidationFailed, apperrors.ErrReferentialMissing,
		apperrors.ErrInsufficientFunds, apperrors.ErrNotFound, apperrors.ErrCancelled:
		return model.AuditLow
	case apperrors.ErrRateLimited, apperrors.ErrRiskLimit:
		return model.AuditMedium
	case apperrors.ErrUnauthorized, apperrors.ErrForbidden:
		return model.AuditHigh
	default:
		return model.AuditCritical
	}
}

func entryFor(actorID, event string, level model.AuditLevel, desc string, meta model.RequestMeta, details map[string]interface{}) *model.AuditEntry {
	md := make(map[string]interface{}, len(details)+2)
	for k, v := range details {
		md[k] = v
	}
	if meta.Path != "" {
		md["path"] = meta.Path
	}
	if body := RedactBody(meta.Body); body != nil {
		md["request_body"] = body
	}
	return &model.AuditEntry{
		ActorID:     actorID,
		Event:       event,
		Level:       level,
		Description: desc,
		Metadata:    md,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		RequestID:   meta.RequestID,
	}
}

// LogAuth records an authentication attempt. Failures are HIGH.
func (s *AuditService) LogAuth(ctx context.Context, actorID string, success bool, meta model.RequestMeta, details map[string]interface{}) {
	if success {
		s.Log(ctx, entryFor(actorID, EventAuthSuccess, model.AuditInfo,
			fmt.Sprintf("authentication succeeded for %s", actorOrAnonymous(actorID)), meta, details))
		return
	}
	s.Log(ctx, entryFor(actorID, EventAuthFailure, model.AuditHigh,
		fmt.Sprintf("authentication failed for %s", actorOrAnonymous(actorID)), meta, details))
}

// LogTrading records an accepted order lifecycle action.
func (s *AuditService) LogTrading(ctx context.Context, actorID, event, orderID string, meta model.RequestMeta, details map[string]interface{}) {
	s.Log(ctx, entryFor(actorID, event, model.AuditInfo,
		fmt.Sprintf("%s %s by %s", strings.ToLower(strings.ReplaceAll(event, "_", " ")), orderID, actorOrAnonymous(actorID)), meta, details))
}

// LogFinancial records movements above the large-value threshold under the
// given event.
func (s *AuditService) LogFinancial(ctx context.Context, actorID, event string, amount decimal.Decimal, meta model.RequestMeta, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["amount"] = amount.String()
	s.Log(ctx, entryFor(actorID, event, model.AuditMedium,
		fmt.Sprintf("%s of %s by %s", strings.ToLower(strings.ReplaceAll(event, "_", " ")), amount, actorOrAnonymous(actorID)), meta, details))
}

// LogSecurity records access-control violations.
func (s *AuditService) LogSecurity(ctx context.Context, actorID, event, reason string, meta model.RequestMeta, details map[string]interface{}) {
	s.Log(ctx, entryFor(actorID, event, model.AuditHigh,
		fmt.Sprintf("security event %s: %s", event, reason), meta, details))
}

// LogAdmin records privileged operations.
func (s *AuditService) LogAdmin(ctx context.Context, actorID, action string, meta model.RequestMeta, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["action"] = action
	s.Log(ctx, entryFor(actorID, EventAdminAction, model.AuditHigh,
		fmt.Sprintf("admin %s performed %s", actorOrAnonymous(actorID), action), meta, details))
}

// LogRejection records a refused request at the level of its error kind.
func (s *AuditService) LogRejection(ctx context.Context, actorID, operation, stage string, err error, meta model.RequestMeta, details map[string]interface{}) {
	appErr := apperrors.Wrap(err)
	if details == nil {
		details = map[string]interface{}{}
	}
	details["operation"] = operation
	details["stage"] = stage
	details["error_code"] = string(appErr.Type)
	if len(appErr.Fields) > 0 {
		details["fields"] = appErr.Fields
	}
	s.Log(ctx, entryFor(actorID, RejectionEvent(appErr.Type), AuditLevelFor(appErr.Type),
		fmt.Sprintf("%s rejected at %s: %s", operation, stage, appErr.Message), meta, details))
}

func actorOrAnonymous(id string) string {
	if id == "" {
		return "anonymous"
	}
	return id
}

type auditBuffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.AuditEntry
	nextIndex int
}

func newAuditBuffer(maxSize int) *auditBuffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &auditBuffer{
		maxSize: maxSize,
		records: make([]*model.AuditEntry, 0, maxSize),
	}
}

func (b *auditBuffer) Add(entry *model.AuditEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, entry)
		return
	}
	b.records[b.nextIndex] = entry
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

// List returns matching entries newest first, paged, with the match count.
func (b *auditBuffer) List(filter model.AuditFilter, page model.Pagination) ([]*model.AuditEntry, int64) {
	b.mu.Lock()
	matched := make([]*model.AuditEntry, 0)
	for _, entry := range b.records {
		if matches(entry, filter) {
			matched = append(matched, entry)
		}
	}
	b.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	total := int64(len(matched))
	if page.Offset >= len(matched) {
		return []*model.AuditEntry{}, total
	}
	matched = matched[page.Offset:]
	if page.Limit > 0 && len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}
	return matched, total
}

func matches(e *model.AuditEntry, f model.AuditFilter) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Event != "" && e.Event != f.Event {
		return false
	}
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}

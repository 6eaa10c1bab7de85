package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tenantops/announcer/internal/model"
	"github.com/tenantops/announcer/internal/repository"
	"github.com/tenantops/announcer/internal/transport"
)

// In-memory fakes mirroring the repository guarantees the processors rely
// on: guarded status transitions, relative counter increments, and the
// pending-only failure upgrade.

type memAnnouncements struct {
	mu   sync.Mutex
	byID map[int64]*model.Announcement
}

func newMemAnnouncements(as ...*model.Announcement) *memAnnouncements {
	m := &memAnnouncements{byID: make(map[int64]*model.Announcement)}
	for _, a := range as {
		m.byID[a.ID] = a
	}
	return m
}

func (m *memAnnouncements) Get(_ context.Context, id int64) (*model.Announcement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAnnouncements) TransitionStatus(_ context.Context, id int64, from, to model.AnnouncementStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	return true, nil
}

func (m *memAnnouncements) MarkFailed(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok || a.Status.Terminal() {
		return false, nil
	}
	a.Status = model.AnnouncementStatusFailed
	return true, nil
}

func (m *memAnnouncements) SetTotalRecipients(_ context.Context, id int64, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byID[id]; ok {
		a.TotalRecipients = n
	}
	return nil
}

func (m *memAnnouncements) IncrementSuccessful(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byID[id]; ok {
		a.SuccessfulCount++
	}
	return nil
}

func (m *memAnnouncements) IncrementFailed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byID[id]; ok {
		a.FailedCount++
	}
	return nil
}

func (m *memAnnouncements) Finalize(_ context.Context, id int64, to model.AnnouncementStatus, sentAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok || a.Status != model.AnnouncementStatusSending {
		return false, nil
	}
	a.Status = to
	a.SentAt = &sentAt
	return true, nil
}

type memRecipients struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*model.Recipient
}

func newMemRecipients() *memRecipients {
	return &memRecipients{byID: make(map[int64]*model.Recipient)}
}

func (m *memRecipients) add(rc *model.Recipient) *model.Recipient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rc.ID = m.nextID
	m.byID[rc.ID] = rc
	return rc
}

func (m *memRecipients) CreateBatch(_ context.Context, recipients []*model.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rc := range recipients {
		m.nextID++
		rc.ID = m.nextID
		m.byID[rc.ID] = rc
	}
	return nil
}

func (m *memRecipients) Get(_ context.Context, id int64) (*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rc
	return &cp, nil
}

func (m *memRecipients) MarkSent(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rc, ok := m.byID[id]; ok {
		rc.DeliveryStatus = model.DeliveryStatusSent
		rc.SentAt = &at
		rc.ErrorMessage = nil
	}
	return nil
}

func (m *memRecipients) MarkFailed(_ context.Context, id int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rc, ok := m.byID[id]; ok {
		rc.DeliveryStatus = model.DeliveryStatusFailed
		rc.ErrorMessage = &errMsg
	}
	return nil
}

func (m *memRecipients) RecordError(_ context.Context, id int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rc, ok := m.byID[id]; ok {
		rc.ErrorMessage = &errMsg
	}
	return nil
}

func (m *memRecipients) MarkFailedIfPending(_ context.Context, id int64, fallbackErr string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.byID[id]
	if !ok || rc.DeliveryStatus != model.DeliveryStatusPending {
		return false, nil
	}
	rc.DeliveryStatus = model.DeliveryStatusFailed
	if rc.ErrorMessage == nil {
		rc.ErrorMessage = &fallbackErr
	}
	return true, nil
}

func (m *memRecipients) CountPending(_ context.Context, announcementID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rc := range m.byID {
		if rc.AnnouncementID == announcementID && rc.DeliveryStatus == model.DeliveryStatusPending {
			n++
		}
	}
	return n, nil
}

type memTenants struct {
	byID map[int64]*model.Tenant
}

func newMemTenants(ts ...*model.Tenant) *memTenants {
	m := &memTenants{byID: make(map[int64]*model.Tenant)}
	for _, tn := range ts {
		m.byID[tn.ID] = tn
	}
	return m
}

func (m *memTenants) Get(_ context.Context, id int64) (*model.Tenant, error) {
	tn, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return tn, nil
}

type fixedResolver struct {
	targets []*model.Tenant
	err     error
}

func (r *fixedResolver) Resolve(_ context.Context, _ *model.Announcement) ([]*model.Tenant, error) {
	return r.targets, r.err
}

type publishedJob struct {
	Data  []byte
	Meta  map[string]string
	Delay time.Duration
}

type capturePublisher struct {
	mu   sync.Mutex
	jobs []publishedJob
	err  error
}

func (p *capturePublisher) PublishJSON(_ context.Context, data interface{}, metadata map[string]string) (string, error) {
	return "1-0", p.record(data, metadata, 0)
}

func (p *capturePublisher) PublishJSONDelayed(_ context.Context, data interface{}, metadata map[string]string, delay time.Duration) error {
	return p.record(data, metadata, delay)
}

func (p *capturePublisher) record(data interface{}, metadata map[string]string, delay time.Duration) error {
	if p.err != nil {
		return p.err
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, publishedJob{Data: b, Meta: metadata, Delay: delay})
	return nil
}

func (p *capturePublisher) deliveryJobs() []DeliveryJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]DeliveryJob, 0, len(p.jobs))
	for _, j := range p.jobs {
		var job DeliveryJob
		if json.Unmarshal(j.Data, &job) == nil {
			out = append(out, job)
		}
	}
	return out
}

func (p *capturePublisher) watchJobs() []WatchJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]WatchJob, 0, len(p.jobs))
	for _, j := range p.jobs {
		var job WatchJob
		if json.Unmarshal(j.Data, &job) == nil {
			out = append(out, job)
		}
	}
	return out
}

type fakeTransport struct {
	mu    sync.Mutex
	calls []*transport.SendRequest
	// sendErr, when set, fails every Send.
	sendErr error
}

func (f *fakeTransport) Send(_ context.Context, req *transport.SendRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.sendErr
}

func jobMessage(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

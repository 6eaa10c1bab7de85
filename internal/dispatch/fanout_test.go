package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantops/announcer/internal/model"
	"github.com/tenantops/announcer/internal/queue"
)

func draftAnnouncement(id int64) *model.Announcement {
	return &model.Announcement{
		ID:       id,
		Title:    "Maintenance",
		Body:     "Hello {tenant_name}",
		Audience: model.AudienceAll,
		Status:   model.AnnouncementStatusDraft,
	}
}

func testTenants(n int) []*model.Tenant {
	out := make([]*model.Tenant, n)
	for i := range out {
		out[i] = &model.Tenant{
			ID:           int64(i + 1),
			Name:         "Tenant",
			Status:       model.TenantStatusActive,
			ContactEmail: "tenant@example.com",
		}
	}
	return out
}

func TestFanOut_HappyPath(t *testing.T) {
	ctx := context.Background()
	announcements := newMemAnnouncements(draftAnnouncement(1))
	recipients := newMemRecipients()
	deliverQ := &capturePublisher{}
	watchQ := &capturePublisher{}

	c := NewFanOutCoordinator(announcements, recipients, &fixedResolver{targets: testTenants(3)},
		deliverQ, watchQ, FanoutConfig{
			JitterMin:         time.Second,
			JitterMax:         5 * time.Second,
			WatchInitialDelay: 30 * time.Second,
		})

	require.NoError(t, c.Run(ctx, 1))

	a, err := announcements.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.AnnouncementStatusSending, a.Status)
	assert.Equal(t, 3, a.TotalRecipients)

	jobs := deliverQ.deliveryJobs()
	require.Len(t, jobs, 3)
	seen := map[int64]bool{}
	for i, job := range jobs {
		assert.Equal(t, int64(1), job.AnnouncementID)
		assert.NotZero(t, job.RecipientID)
		assert.False(t, seen[job.RecipientID], "recipient scheduled twice")
		seen[job.RecipientID] = true

		// Jitter stays inside the configured window.
		d := deliverQ.jobs[i].Delay
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 5*time.Second)
	}

	watches := watchQ.watchJobs()
	require.Len(t, watches, 1)
	assert.Equal(t, int64(1), watches[0].AnnouncementID)
	assert.Zero(t, watches[0].Polls)
	assert.False(t, watches[0].StartedAt.IsZero())
	assert.Equal(t, 30*time.Second, watchQ.jobs[0].Delay)
}

func TestFanOut_DuplicateRunIsAbsorbed(t *testing.T) {
	ctx := context.Background()
	announcements := newMemAnnouncements(draftAnnouncement(1))
	recipients := newMemRecipients()
	deliverQ := &capturePublisher{}
	watchQ := &capturePublisher{}

	c := NewFanOutCoordinator(announcements, recipients, &fixedResolver{targets: testTenants(2)},
		deliverQ, watchQ, FanoutConfig{})

	require.NoError(t, c.Run(ctx, 1))
	require.NoError(t, c.Run(ctx, 1))

	// The second run lost the draft check and scheduled nothing new.
	assert.Len(t, deliverQ.deliveryJobs(), 2)
	assert.Len(t, watchQ.watchJobs(), 1)

	a, err := announcements.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, a.TotalRecipients)
}

func TestFanOut_ZeroRecipients(t *testing.T) {
	ctx := context.Background()
	announcements := newMemAnnouncements(draftAnnouncement(1))
	recipients := newMemRecipients()
	deliverQ := &capturePublisher{}
	watchQ := &capturePublisher{}

	c := NewFanOutCoordinator(announcements, recipients, &fixedResolver{},
		deliverQ, watchQ, FanoutConfig{})

	require.NoError(t, c.Run(ctx, 1))

	a, err := announcements.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.AnnouncementStatusSent, a.Status)
	assert.Zero(t, a.TotalRecipients)
	require.NotNil(t, a.SentAt)

	// Nothing to deliver, nothing to watch.
	assert.Empty(t, deliverQ.jobs)
	assert.Empty(t, watchQ.jobs)
}

func TestFanOut_MissingAnnouncement(t *testing.T) {
	c := NewFanOutCoordinator(newMemAnnouncements(), newMemRecipients(),
		&fixedResolver{}, &capturePublisher{}, &capturePublisher{}, FanoutConfig{})

	// A fan-out job for a deleted announcement ACKs without side effects.
	assert.NoError(t, c.Run(context.Background(), 42))
}

func TestFanOut_MalformedPayload(t *testing.T) {
	c := NewFanOutCoordinator(newMemAnnouncements(), newMemRecipients(),
		&fixedResolver{}, &capturePublisher{}, &capturePublisher{}, FanoutConfig{})

	err := c.Process(context.Background(), &queue.Message{Data: []byte("not json")})
	assert.NoError(t, err)
}

func TestFanOut_HandleExhausted(t *testing.T) {
	ctx := context.Background()

	t.Run("fails the announcement", func(t *testing.T) {
		announcements := newMemAnnouncements(draftAnnouncement(1))
		c := NewFanOutCoordinator(announcements, newMemRecipients(),
			&fixedResolver{}, &capturePublisher{}, &capturePublisher{}, FanoutConfig{})

		c.HandleExhausted(ctx, &queue.Message{Data: jobMessage(FanoutJob{AnnouncementID: 1})})

		a, err := announcements.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, model.AnnouncementStatusFailed, a.Status)
	})

	t.Run("also fails an announcement stuck in sending", func(t *testing.T) {
		a := draftAnnouncement(1)
		a.Status = model.AnnouncementStatusSending
		announcements := newMemAnnouncements(a)
		c := NewFanOutCoordinator(announcements, newMemRecipients(),
			&fixedResolver{}, &capturePublisher{}, &capturePublisher{}, FanoutConfig{})

		c.HandleExhausted(ctx, &queue.Message{Data: jobMessage(FanoutJob{AnnouncementID: 1})})

		got, err := announcements.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, model.AnnouncementStatusFailed, got.Status)
	})
}

func TestFanOut_ResolverError(t *testing.T) {
	ctx := context.Background()
	announcements := newMemAnnouncements(draftAnnouncement(1))
	c := NewFanOutCoordinator(announcements, newMemRecipients(),
		&fixedResolver{err: assert.AnError}, &capturePublisher{}, &capturePublisher{}, FanoutConfig{})

	// The error propagates so the single-attempt budget trips and the
	// exhaustion hook fails the announcement.
	assert.Error(t, c.Run(ctx, 1))

	a, err := announcements.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.AnnouncementStatusSending, a.Status)
}

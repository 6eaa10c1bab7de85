package dispatch

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantops/announcer/internal/model"
	"github.com/tenantops/announcer/internal/queue"
)

func sendingAnnouncement(id int64) *model.Announcement {
	return &model.Announcement{
		ID:       id,
		Title:    "Maintenance",
		Body:     "Hello {tenant_name}, your plan is {plan}.",
		Audience: model.AudienceAll,
		Status:   model.AnnouncementStatusSending,
	}
}

func pendingRecipient(recipients *memRecipients, announcementID, tenantID int64) *model.Recipient {
	return recipients.add(&model.Recipient{
		AnnouncementID: announcementID,
		TenantID:       tenantID,
		Address:        "tenant@example.com",
		DeliveryStatus: model.DeliveryStatusPending,
	})
}

func deliveryMsg(announcementID, recipientID int64, attempts int) *queue.Message {
	return &queue.Message{
		Data:     jobMessage(DeliveryJob{AnnouncementID: announcementID, RecipientID: recipientID}),
		Attempts: attempts,
	}
}

func TestDelivery_Success(t *testing.T) {
	ctx := context.Background()
	announcements := newMemAnnouncements(sendingAnnouncement(1))
	recipients := newMemRecipients()
	rc := pendingRecipient(recipients, 1, 7)
	tenants := newMemTenants(&model.Tenant{
		ID: 7, Name: "Acme", Status: model.TenantStatusActive,
		ContactEmail: "tenant@example.com", Plan: "pro",
	})
	tr := &fakeTransport{}

	p := NewDeliveryProcessor(announcements, recipients, tenants, tr)
	require.NoError(t, p.Process(ctx, deliveryMsg(1, rc.ID, 1)))

	require.Len(t, tr.calls, 1)
	call := tr.calls[0]
	assert.Equal(t, strconv.FormatInt(rc.ID, 10), call.MessageID)
	assert.Equal(t, "tenant@example.com", call.Address)
	assert.Equal(t, "Maintenance", call.Subject)
	assert.Equal(t, "Hello Acme, your plan is pro.", call.Body)

	got, err := recipients.Get(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusSent, got.DeliveryStatus)
	require.NotNil(t, got.SentAt)

	a, err := announcements.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, a.SuccessfulCount)
	assert.Zero(t, a.FailedCount)
}

func TestDelivery_TransportFailureStaysPending(t *testing.T) {
	ctx := context.Background()
	announcements := newMemAnnouncements(sendingAnnouncement(1))
	recipients := newMemRecipients()
	rc := pendingRecipient(recipients, 1, 7)
	tenants := newMemTenants(&model.Tenant{ID: 7, Name: "Acme", ContactEmail: "tenant@example.com"})
	tr := &fakeTransport{sendErr: assert.AnError}

	p := NewDeliveryProcessor(announcements, recipients, tenants, tr)

	// The error propagates so the queue retries; the row must stay pending
	// and the counters untouched until the budget is spent.
	assert.Error(t, p.Process(ctx, deliveryMsg(1, rc.ID, 1)))

	got, err := recipients.Get(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusPending, got.DeliveryStatus)
	require.NotNil(t, got.ErrorMessage)

	a, err := announcements.Get(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, a.SuccessfulCount)
	assert.Zero(t, a.FailedCount)
}

func TestDelivery_RedeliveryOfTerminalRecipient(t *testing.T) {
	ctx := context.Background()
	announcements := newMemAnnouncements(sendingAnnouncement(1))
	recipients := newMemRecipients()
	rc := pendingRecipient(recipients, 1, 7)
	require.NoError(t, recipients.MarkSent(ctx, rc.ID, time.Now()))
	tr := &fakeTransport{}

	p := NewDeliveryProcessor(announcements, recipients, newMemTenants(), tr)

	// A lost ACK redelivers a job whose recipient is already terminal; it
	// must not send again or double count.
	require.NoError(t, p.Process(ctx, deliveryMsg(1, rc.ID, 2)))
	assert.Empty(t, tr.calls)

	a, err := announcements.Get(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, a.SuccessfulCount)
}

func TestDelivery_MissingRecipient(t *testing.T) {
	p := NewDeliveryProcessor(newMemAnnouncements(), newMemRecipients(), newMemTenants(), &fakeTransport{})
	assert.NoError(t, p.Process(context.Background(), deliveryMsg(1, 42, 1)))
}

func TestDelivery_MissingAnnouncement(t *testing.T) {
	ctx := context.Background()
	announcements := newMemAnnouncements()
	recipients := newMemRecipients()
	rc := pendingRecipient(recipients, 1, 7)

	p := NewDeliveryProcessor(announcements, recipients, newMemTenants(), &fakeTransport{})
	require.NoError(t, p.Process(ctx, deliveryMsg(1, rc.ID, 1)))

	// The recipient is failed terminally, but there is no parent counter
	// left to increment.
	got, err := recipients.Get(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusFailed, got.DeliveryStatus)
}

func TestDelivery_MissingTenant(t *testing.T) {
	ctx := context.Background()
	announcements := newMemAnnouncements(sendingAnnouncement(1))
	recipients := newMemRecipients()
	rc := pendingRecipient(recipients, 1, 7)

	p := NewDeliveryProcessor(announcements, recipients, newMemTenants(), &fakeTransport{})
	require.NoError(t, p.Process(ctx, deliveryMsg(1, rc.ID, 1)))

	got, err := recipients.Get(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusFailed, got.DeliveryStatus)

	a, err := announcements.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, a.FailedCount)
}

func TestDelivery_HandleExhausted(t *testing.T) {
	ctx := context.Background()

	t.Run("fails the recipient and counts once", func(t *testing.T) {
		announcements := newMemAnnouncements(sendingAnnouncement(1))
		recipients := newMemRecipients()
		rc := pendingRecipient(recipients, 1, 7)
		require.NoError(t, recipients.RecordError(ctx, rc.ID, "mailbox full"))

		p := NewDeliveryProcessor(announcements, recipients, newMemTenants(), &fakeTransport{})
		msg := deliveryMsg(1, rc.ID, 3)

		p.HandleExhausted(ctx, msg)
		// A duplicate exhaustion (e.g. reclaim race) must not count again.
		p.HandleExhausted(ctx, msg)

		got, err := recipients.Get(ctx, rc.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DeliveryStatusFailed, got.DeliveryStatus)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "mailbox full", *got.ErrorMessage)

		a, err := announcements.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, a.FailedCount)
	})

	t.Run("loses to a successful delivery", func(t *testing.T) {
		announcements := newMemAnnouncements(sendingAnnouncement(1))
		recipients := newMemRecipients()
		rc := pendingRecipient(recipients, 1, 7)
		require.NoError(t, recipients.MarkSent(ctx, rc.ID, time.Now()))

		p := NewDeliveryProcessor(announcements, recipients, newMemTenants(), &fakeTransport{})
		p.HandleExhausted(ctx, deliveryMsg(1, rc.ID, 3))

		got, err := recipients.Get(ctx, rc.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DeliveryStatusSent, got.DeliveryStatus)

		a, err := announcements.Get(ctx, 1)
		require.NoError(t, err)
		assert.Zero(t, a.FailedCount)
	})
}

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantops/announcer/internal/model"
)

func createRecipients(t *testing.T, repo *RecipientRepository, announcementID int64, n int) []*model.Recipient {
	t.Helper()
	recipients := make([]*model.Recipient, n)
	for i := range recipients {
		recipients[i] = &model.Recipient{
			AnnouncementID: announcementID,
			TenantID:       int64(i + 1),
			Address:        "tenant@example.com",
			DeliveryStatus: model.DeliveryStatusPending,
		}
	}
	require.NoError(t, repo.CreateBatch(context.Background(), recipients))
	return recipients
}

func TestRecipientRepository_CreateBatch(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewRecipientRepository(db)
	ctx := context.Background()

	t.Run("fills generated ids", func(t *testing.T) {
		recipients := createRecipients(t, repo, 1, 3)
		for _, rc := range recipients {
			assert.NotZero(t, rc.ID)
		}

		got, err := repo.Get(ctx, recipients[0].ID)
		require.NoError(t, err)
		assert.Equal(t, model.DeliveryStatusPending, got.DeliveryStatus)
		assert.Nil(t, got.ErrorMessage)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		assert.NoError(t, repo.CreateBatch(ctx, nil))
	})

	t.Run("duplicate announcement x tenant is rejected", func(t *testing.T) {
		createRecipients(t, repo, 2, 1)
		err := repo.CreateBatch(ctx, []*model.Recipient{{
			AnnouncementID: 2,
			TenantID:       1,
			Address:        "tenant@example.com",
			DeliveryStatus: model.DeliveryStatusPending,
		}})
		assert.Error(t, err)
	})
}

func TestRecipientRepository_MarkSent(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewRecipientRepository(db)
	ctx := context.Background()

	rc := createRecipients(t, repo, 1, 1)[0]

	// A failed first attempt leaves an error behind; a later success must
	// clear it.
	require.NoError(t, repo.RecordError(ctx, rc.ID, "connect timeout"))

	at := time.Now()
	require.NoError(t, repo.MarkSent(ctx, rc.ID, at))

	got, err := repo.Get(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusSent, got.DeliveryStatus)
	require.NotNil(t, got.SentAt)
	assert.WithinDuration(t, at, *got.SentAt, time.Second)
	assert.Nil(t, got.ErrorMessage)
}

func TestRecipientRepository_RecordError(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewRecipientRepository(db)
	ctx := context.Background()

	rc := createRecipients(t, repo, 1, 1)[0]

	require.NoError(t, repo.RecordError(ctx, rc.ID, "connect timeout"))

	got, err := repo.Get(ctx, rc.ID)
	require.NoError(t, err)
	// The row stays pending so the watcher keeps waiting.
	assert.Equal(t, model.DeliveryStatusPending, got.DeliveryStatus)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "connect timeout", *got.ErrorMessage)
}

func TestRecipientRepository_MarkFailedIfPending(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewRecipientRepository(db)
	ctx := context.Background()

	t.Run("wins on a pending row and keeps the recorded error", func(t *testing.T) {
		rc := createRecipients(t, repo, 1, 1)[0]
		require.NoError(t, repo.RecordError(ctx, rc.ID, "mailbox full"))

		won, err := repo.MarkFailedIfPending(ctx, rc.ID, "delivery attempts exhausted")
		require.NoError(t, err)
		assert.True(t, won)

		got, err := repo.Get(ctx, rc.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DeliveryStatusFailed, got.DeliveryStatus)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "mailbox full", *got.ErrorMessage)
	})

	t.Run("uses the fallback when no error was recorded", func(t *testing.T) {
		rc := createRecipients(t, repo, 2, 1)[0]

		won, err := repo.MarkFailedIfPending(ctx, rc.ID, "delivery attempts exhausted")
		require.NoError(t, err)
		assert.True(t, won)

		got, err := repo.Get(ctx, rc.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "delivery attempts exhausted", *got.ErrorMessage)
	})

	t.Run("loses against a terminal row", func(t *testing.T) {
		rc := createRecipients(t, repo, 3, 1)[0]
		require.NoError(t, repo.MarkSent(ctx, rc.ID, time.Now()))

		won, err := repo.MarkFailedIfPending(ctx, rc.ID, "delivery attempts exhausted")
		require.NoError(t, err)
		assert.False(t, won)

		got, err := repo.Get(ctx, rc.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DeliveryStatusSent, got.DeliveryStatus)
	})

	t.Run("only one of two callers wins", func(t *testing.T) {
		rc := createRecipients(t, repo, 4, 1)[0]

		first, err := repo.MarkFailedIfPending(ctx, rc.ID, "a")
		require.NoError(t, err)
		second, err := repo.MarkFailedIfPending(ctx, rc.ID, "b")
		require.NoError(t, err)

		assert.True(t, first)
		assert.False(t, second)
	})
}

func TestRecipientRepository_CountPending(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewRecipientRepository(db)
	ctx := context.Background()

	recipients := createRecipients(t, repo, 1, 4)

	count, err := repo.CountPending(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	require.NoError(t, repo.MarkSent(ctx, recipients[0].ID, time.Now()))
	require.NoError(t, repo.MarkFailed(ctx, recipients[1].ID, "tenant not found"))

	count, err = repo.CountPending(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Other announcements do not leak into the count.
	count, err = repo.CountPending(ctx, 42)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRecipientRepository_ListByAnnouncement(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewRecipientRepository(db)
	ctx := context.Background()

	created := createRecipients(t, repo, 1, 3)
	createRecipients(t, repo, 2, 2)

	got, err := repo.ListByAnnouncement(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, rc := range got {
		assert.Equal(t, created[i].ID, rc.ID)
	}
}

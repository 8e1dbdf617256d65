package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
)

func TestMarkReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, private, _ := newFixture()
	bus := &recordingBroadcaster{}
	pipeline := NewPipeline(store, store, bus, 4000)
	receipts := NewReceiptCoordinator(store, store, bus)

	m1, err := pipeline.Submit(ctx, actor(u1), private.ID, "one")
	require.NoError(t, err)
	m2, err := pipeline.Submit(ctx, actor(u1), private.ID, "two")
	require.NoError(t, err)

	p, err := receipts.MarkRead(ctx, actor(u2), private.ID, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.UnreadCount)

	again, err := receipts.MarkRead(ctx, actor(u2), private.ID, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, p.UnreadCount, again.UnreadCount)
	assert.Len(t, bus.OfType(models.FrameReadReceipt), 1)

	p, err = receipts.MarkRead(ctx, actor(u2), private.ID, m2.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.UnreadCount)

	// older id than the pointer
	p, err = receipts.MarkRead(ctx, actor(u2), private.ID, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, m2.ID, p.ReadPointer())
	assert.Equal(t, 0, p.UnreadCount)

	frames := bus.OfType(models.FrameReadReceipt)
	require.Len(t, frames, 2)
	last := frames[1]
	assert.Equal(t, u2.ID, last.UserID)
	assert.Equal(t, m2.ID, last.MessageID)
	require.NotNil(t, last.UnreadCount)
	assert.Equal(t, 0, *last.UnreadCount)
}

func TestOfflineUserKeepsUnreadUntilMarkRead(t *testing.T) {
	ctx := context.Background()
	store, private, _ := newFixture()
	bus := &recordingBroadcaster{}
	pipeline := NewPipeline(store, store, bus, 4000)
	receipts := NewReceiptCoordinator(store, store, bus)

	msg, err := pipeline.Submit(ctx, actor(u1), private.ID, "hi")
	require.NoError(t, err)

	p, err := receipts.Unread(ctx, actor(u2), private.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.UnreadCount)

	p, err = receipts.MarkRead(ctx, actor(u2), private.ID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.UnreadCount)
}

func TestMarkReadRejectsForeignAndUnknownMessages(t *testing.T) {
	ctx := context.Background()
	store, private, group := newFixture()
	bus := &recordingBroadcaster{}
	pipeline := NewPipeline(store, store, bus, 4000)
	receipts := NewReceiptCoordinator(store, store, bus)

	inGroup, err := pipeline.Submit(ctx, actor(u3), group.ID, "group")
	require.NoError(t, err)

	_, err = receipts.MarkRead(ctx, actor(u2), private.ID, inGroup.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = receipts.MarkRead(ctx, actor(u2), private.ID, inGroup.ID+100)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = receipts.MarkRead(ctx, actor(u3), private.ID, 1)
	require.ErrorIs(t, err, ErrMembership)

	_, err = receipts.MarkRead(ctx, actor(u2), private.ID, 0)
	require.ErrorIs(t, err, ErrValidation)

	assert.Empty(t, bus.OfType(models.FrameReadReceipt))
}

func TestMarkConversationRead(t *testing.T) {
	ctx := context.Background()
	store, _, group := newFixture()
	bus := &recordingBroadcaster{}
	pipeline := NewPipeline(store, store, bus, 4000)
	receipts := NewReceiptCoordinator(store, store, bus)

	p, err := receipts.MarkConversationRead(ctx, actor(u2), group.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.UnreadCount)
	assert.Nil(t, p.LastReadMessageID)

	for i := 0; i < 3; i++ {
		_, err := pipeline.Submit(ctx, actor(u1), group.ID, "m")
		require.NoError(t, err)
	}
	p, err = receipts.MarkConversationRead(ctx, actor(u2), group.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.UnreadCount)
	assert.Equal(t, 3, p.ReadPointer())
	assert.True(t, unreadInvariantHolds(store, group.ID))
}

func TestMarkReadStoreFailure(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	bus := new(mocks.BroadcasterMock)
	receipts := NewReceiptCoordinator(convs, messages, bus)

	convs.On("IsParticipant", mock.Anything, 1, u2.ID).Return(true, nil).Once()
	messages.On("GetMessage", mock.Anything, 5).Return(models.Message{ID: 5, ConversationID: 1, SenderID: u1.ID}, nil).Once()
	convs.On("AdvanceReadPointer", mock.Anything, 1, u2.ID, 5).Return(models.Participant{}, false, assert.AnError).Once()

	_, err := receipts.MarkRead(context.Background(), actor(u2), 1, 5)
	require.ErrorIs(t, err, ErrPersistence)
	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	convs.AssertExpectations(t)
	messages.AssertExpectations(t)
}

package navigation

import (
	"context"
	"errors"
	"testing"

	"draftsync/internal/events"
	"draftsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSyncer struct {
	mock.Mock
}

func (m *mockSyncer) SyncAll(ctx context.Context) (models.BatchResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.BatchResult), args.Error(1)
}

func (m *mockSyncer) Syncing() bool {
	return m.Called().Bool(0)
}

func (m *mockSyncer) RegisteredCount() int {
	return m.Called().Int(0)
}

type recordingPrompter struct {
	choice Choice
	err    error
	calls  int
}

func (p *recordingPrompter) Prompt(ctx context.Context, target string, registered int) (Choice, error) {
	p.calls++
	return p.choice, p.err
}

func TestGuardPromptsWhenSurfacesRegistered(t *testing.T) {
	ctx := context.Background()

	t.Run("Discard", func(t *testing.T) {
		syncer := new(mockSyncer)
		syncer.On("RegisteredCount").Return(2)
		syncer.On("Syncing").Return(false)
		prompter := &recordingPrompter{choice: ChoiceDiscard}
		g := NewGuard(syncer, prompter, nil, nil)

		switched := 0
		d, err := g.RequestSwitch(ctx, "flashcards", func() error { switched++; return nil })
		require.NoError(t, err)
		assert.True(t, d.Prompted)
		assert.True(t, d.Switched)
		assert.Equal(t, 1, switched)
		assert.Equal(t, 1, prompter.calls)
		syncer.AssertNotCalled(t, "SyncAll", mock.Anything)
	})

	t.Run("SaveAndContinue", func(t *testing.T) {
		syncer := new(mockSyncer)
		syncer.On("RegisteredCount").Return(2)
		syncer.On("Syncing").Return(false)
		var order []string
		syncer.On("SyncAll", ctx).
			Run(func(mock.Arguments) { order = append(order, "sync") }).
			Return(models.BatchResult{Succeeded: 1, Failed: 1, Queued: 1}, nil).
			Once()
		bus := events.NewEventBus()
		log := events.NewNoticeLog(bus, 5)
		g := NewGuard(syncer, &recordingPrompter{choice: ChoiceSaveAndContinue}, bus, nil)

		d, err := g.RequestSwitch(ctx, "quiz", func() error { order = append(order, "switch"); return nil })
		require.NoError(t, err)
		assert.True(t, d.Switched)
		require.NotNil(t, d.Batch)
		syncer.AssertNumberOfCalls(t, "SyncAll", 1)
		assert.Equal(t, []string{"sync", "switch"}, order)

		notices := log.Recent()
		require.Len(t, notices, 1)
		assert.Equal(t, models.NoticeInfo, notices[0].Level)
	})

	t.Run("Cancel", func(t *testing.T) {
		syncer := new(mockSyncer)
		syncer.On("RegisteredCount").Return(1)
		syncer.On("Syncing").Return(false)
		g := NewGuard(syncer, &recordingPrompter{choice: ChoiceCancel}, nil, nil)

		d, err := g.RequestSwitch(ctx, "assignment", func() error {
			t.Fatal("must not switch")
			return nil
		})
		require.NoError(t, err)
		assert.False(t, d.Switched)
		syncer.AssertNotCalled(t, "SyncAll", mock.Anything)
	})

	t.Run("PromptError", func(t *testing.T) {
		syncer := new(mockSyncer)
		syncer.On("RegisteredCount").Return(1)
		syncer.On("Syncing").Return(false)
		g := NewGuard(syncer, &recordingPrompter{err: errors.New("closed")}, nil, nil)

		d, err := g.RequestSwitch(ctx, "assignment", func() error { return nil })
		assert.Error(t, err)
		assert.False(t, d.Switched)
	})
}

func TestGuardSwitchesDirectly(t *testing.T) {
	ctx := context.Background()

	t.Run("NothingRegistered", func(t *testing.T) {
		syncer := new(mockSyncer)
		syncer.On("RegisteredCount").Return(0)
		prompter := &recordingPrompter{}
		g := NewGuard(syncer, prompter, nil, nil)

		d, err := g.RequestSwitch(ctx, "quiz", func() error { return nil })
		require.NoError(t, err)
		assert.True(t, d.Switched)
		assert.False(t, d.Prompted)
		assert.Equal(t, 0, prompter.calls)
		assert.False(t, g.BeforeUnload())
	})

	t.Run("SyncRunning", func(t *testing.T) {
		syncer := new(mockSyncer)
		syncer.On("RegisteredCount").Return(3)
		syncer.On("Syncing").Return(true)
		prompter := &recordingPrompter{}
		g := NewGuard(syncer, prompter, nil, nil)

		d, err := g.RequestSwitch(ctx, "quiz", func() error { return nil })
		require.NoError(t, err)
		assert.False(t, d.Prompted)
		assert.Equal(t, 0, prompter.calls)
		assert.True(t, g.BeforeUnload())
	})
}

func TestParseChoice(t *testing.T) {
	c, err := ParseChoice("save")
	require.NoError(t, err)
	assert.Equal(t, ChoiceSaveAndContinue, c)

	c, err = ParseChoice(ChoiceDiscard.String())
	require.NoError(t, err)
	assert.Equal(t, ChoiceDiscard, c)

	_, err = ParseChoice("later")
	assert.Error(t, err)
}

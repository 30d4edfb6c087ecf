package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelmuse/backend/internal/storage"
	"github.com/pixelmuse/backend/internal/types"
)

// memTier is an in-memory storage tier counting writes per session.
type memTier struct {
	mu       sync.Mutex
	records  map[string][]byte
	writes   map[string]int
	failNext bool
}

func newMemTier() *memTier {
	return &memTier{records: map[string][]byte{}, writes: map[string]int{}}
}

func (t *memTier) Name() string { return "mem" }

func (t *memTier) Read(ctx context.Context, id string) (*types.Session, error) {
	t.mu.Lock()
	data, ok := t.records[id]
	t.mu.Unlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	var sess types.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (t *memTier) Write(ctx context.Context, id string, sess *types.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failNext {
		t.failNext = false
		return assert.AnError
	}
	t.records[id] = data
	t.writes[id]++
	return nil
}

func (t *memTier) writeCount(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writes[id]
}

func (t *memTier) stored(tb testing.TB, id string) *types.Session {
	tb.Helper()
	t.mu.Lock()
	data, ok := t.records[id]
	t.mu.Unlock()
	require.True(tb, ok, "session %s not persisted", id)
	var sess types.Session
	require.NoError(tb, json.Unmarshal(data, &sess))
	return &sess
}

type storeFixture struct {
	store *Store
	tier  *memTier
	clock *fakeClock
	rem   *recordingRemover
	root  string
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()
	root := t.TempDir()
	tier := newMemTier()
	clock := &fakeClock{}
	rem := &recordingRemover{}

	store, err := NewStore(Config{
		Backend:   storage.NewBackend([]storage.Tier{tier}, nil),
		Index:     storage.NewIndexFile(root),
		Lifecycle: NewImageLifecycle(rem, nil),
		Window:    500 * time.Millisecond,
		Clock:     clock,
	})
	require.NoError(t, err)
	return &storeFixture{store: store, tier: tier, clock: clock, rem: rem, root: root}
}

func (f *storeFixture) loadIndex(t *testing.T) *types.SessionIndex {
	t.Helper()
	index, err := storage.NewIndexFile(f.root).Load()
	require.NoError(t, err)
	return index
}

func TestStoreLazyInit(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	id, msgs := f.store.History(ctx)
	require.NotEmpty(t, id)
	assert.Empty(t, msgs)

	again, _ := f.store.History(ctx)
	assert.Equal(t, id, again, "current session is stable")

	index := f.loadIndex(t)
	assert.Equal(t, id, index.CurrentID, "membership persisted synchronously")
	require.Len(t, index.Sessions, 1)
}

func TestStoreCreatePrepends(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	first := f.store.Create(ctx)
	second := f.store.Create(ctx)

	sums := f.store.Summaries()
	require.Len(t, sums, 2)
	assert.Equal(t, second.ID, f.store.CurrentID())

	index := f.loadIndex(t)
	assert.Equal(t, second.ID, index.CurrentID)
	assert.Equal(t, second.ID, index.Sessions[0].ID, "new chat prepends")
	assert.Equal(t, first.ID, index.Sessions[1].ID)
}

func TestStoreAppendSchedulesWrite(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	sess := f.store.Create(ctx)
	f.store.Append(ctx, types.Message{Text: "a castle made of glass", Sender: types.SenderUser, Type: types.MessageText})

	assert.Equal(t, 0, f.tier.writeCount(sess.ID), "append does not write synchronously")
	assert.True(t, f.store.Writer().Pending(sess.ID))

	f.clock.advance()
	assert.Equal(t, 1, f.tier.writeCount(sess.ID))

	stored := f.tier.stored(t, sess.ID)
	require.Len(t, stored.Messages, 1)
	assert.Equal(t, "a castle made of glass", stored.Messages[0].Text)
	assert.Equal(t, "a castle made of glass", stored.Title, "title derives from first user message")
}

func TestStoreFlushBeforeSwitch(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	a := f.store.Create(ctx)
	b := f.store.Create(ctx)

	_, err := f.store.Switch(ctx, a.ID)
	require.NoError(t, err)

	f.store.Append(ctx, types.Message{Text: "pending mutation", Sender: types.SenderUser, Type: types.MessageText})
	require.True(t, f.store.Writer().Pending(a.ID))

	_, err = f.store.Switch(ctx, b.ID)
	require.NoError(t, err)

	assert.False(t, f.store.Writer().Pending(a.ID))
	stored := f.tier.stored(t, a.ID)
	require.Len(t, stored.Messages, 1)
	assert.Equal(t, "pending mutation", stored.Messages[0].Text)

	// The canceled timer must not double-write
	writes := f.tier.writeCount(a.ID)
	f.clock.advance()
	assert.Equal(t, writes, f.tier.writeCount(a.ID))
}

func TestStoreSwitchUnknownID(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	sess := f.store.Create(ctx)
	_, err := f.store.Switch(ctx, "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, sess.ID, f.store.CurrentID(), "current pointer unchanged")
}

func TestStoreSwitchLoadsFromBackend(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	a := f.store.Create(ctx)
	f.store.Append(ctx, types.Message{Text: "remember me", Sender: types.SenderUser, Type: types.MessageText})
	f.store.Create(ctx) // flushes a

	// Forget the in-memory copy to force a tiered load
	f.store.mu.Lock()
	delete(f.store.loaded, a.ID)
	f.store.mu.Unlock()

	msgs, err := f.store.Switch(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "remember me", msgs[0].Text)
}

func TestStoreImageStateScenario(t *testing.T) {
	// One image message with two saved files; toggle hidden[0] on and off
	// within one debounce window: exactly one write, net state persisted.
	f := newStoreFixture(t)
	ctx := context.Background()

	sess := f.store.Create(ctx)
	f.store.Append(ctx, types.Message{
		Sender: types.SenderAssistant,
		Type:   types.MessageImage,
		ImageData: &types.ImageData{
			Prompt:         "two views",
			SavedFilePaths: []string{"/img/p1.png", "/img/p2.png"},
			ImageStates: &types.ImageStates{
				Deleted: []bool{false, false},
				Hidden:  []bool{false, false},
			},
		},
	})
	f.clock.advance() // settle the append write
	base := f.tier.writeCount(sess.ID)

	applied, err := f.store.UpdateImageStates(ctx, 0, &types.ImageStates{
		Deleted: []bool{false, false},
		Hidden:  []bool{true, false},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = f.store.UpdateImageStates(ctx, 0, &types.ImageStates{
		Deleted: []bool{false, false},
		Hidden:  []bool{false, false},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	f.clock.advance()
	assert.Equal(t, base+1, f.tier.writeCount(sess.ID), "one write for the whole burst")

	stored := f.tier.stored(t, sess.ID)
	assert.Equal(t, []bool{false, false}, stored.Messages[0].ImageData.ImageStates.Hidden)
}

func TestStoreDuplicateUpdateDoesNotRearm(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	sess := f.store.Create(ctx)
	f.store.Append(ctx, types.Message{
		Sender: types.SenderAssistant,
		Type:   types.MessageImage,
		ImageData: &types.ImageData{
			SavedFilePaths: []string{"/img/p1.png"},
			ImageStates:    &types.ImageStates{Deleted: []bool{false}, Hidden: []bool{false}},
		},
	})
	f.clock.advance()

	update := &types.ImageStates{Deleted: []bool{false}, Hidden: []bool{true}}
	applied, err := f.store.UpdateImageStates(ctx, 0, update)
	require.NoError(t, err)
	assert.True(t, applied)
	f.clock.advance()

	applied, err = f.store.UpdateImageStates(ctx, 0, update)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.False(t, f.store.Writer().Pending(sess.ID), "duplicate must not re-arm the debounce")
}

func TestStoreDeletionQueuesFileRemoval(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	f.store.Create(ctx)
	f.store.Append(ctx, types.Message{
		Sender: types.SenderAssistant,
		Type:   types.MessageImage,
		ImageData: &types.ImageData{
			SavedFilePaths: []string{"/img/p1.png", "/img/p2.png"},
			ImageStates:    &types.ImageStates{Deleted: []bool{false, false}, Hidden: []bool{false, false}},
		},
	})

	_, err := f.store.UpdateImageStates(ctx, 0, &types.ImageStates{
		Deleted: []bool{false, true},
		Hidden:  []bool{false, false},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/img/p2.png"}, f.rem.queued())
}

func TestStoreSummariesSortedByActivity(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	f.store.WithNow(func() time.Time { return current })

	a := f.store.Create(ctx)
	current = base.Add(time.Minute)
	b := f.store.Create(ctx)

	// Activity on the older session moves it to the front
	current = base.Add(2 * time.Minute)
	_, err := f.store.Switch(ctx, a.ID)
	require.NoError(t, err)
	f.store.Append(ctx, types.Message{Text: "hello", Sender: types.SenderUser, Type: types.MessageText})

	sums := f.store.Summaries()
	require.Len(t, sums, 2)
	assert.Equal(t, a.ID, sums[0].ID)
	assert.Equal(t, b.ID, sums[1].ID)
	assert.Equal(t, 1, sums[0].MessageCount)
}

func TestStoreWriteFailureKeepsMemoryAuthoritative(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	sess := f.store.Create(ctx)
	f.store.Append(ctx, types.Message{Text: "first", Sender: types.SenderUser, Type: types.MessageText})

	f.tier.mu.Lock()
	f.tier.failNext = true
	f.tier.mu.Unlock()
	f.clock.advance() // this write fails, is logged, not retried

	assert.Equal(t, 0, f.tier.writeCount(sess.ID))
	_, msgs := f.store.History(ctx)
	require.Len(t, msgs, 1)

	// The next mutation persists the full state naturally
	f.store.Append(ctx, types.Message{Text: "second", Sender: types.SenderUser, Type: types.MessageText})
	f.clock.advance()

	stored := f.tier.stored(t, sess.ID)
	require.Len(t, stored.Messages, 2)
}

func TestStoreCloseFlushesPending(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	sess := f.store.Create(ctx)
	f.store.Append(ctx, types.Message{Text: "unsaved", Sender: types.SenderUser, Type: types.MessageText})
	require.True(t, f.store.Writer().Pending(sess.ID))

	f.store.Close(ctx)
	assert.Equal(t, 1, f.tier.writeCount(sess.ID))
	stored := f.tier.stored(t, sess.ID)
	require.Len(t, stored.Messages, 1)
}

func TestStoreCurrentRestoredAcrossRestart(t *testing.T) {
	root := t.TempDir()
	tier := newMemTier()
	ctx := context.Background()

	clock := &fakeClock{}
	store, err := NewStore(Config{
		Backend:   storage.NewBackend([]storage.Tier{tier}, nil),
		Index:     storage.NewIndexFile(root),
		Lifecycle: NewImageLifecycle(&recordingRemover{}, nil),
		Window:    500 * time.Millisecond,
		Clock:     clock,
	})
	require.NoError(t, err)

	sess := store.Create(ctx)
	store.Append(ctx, types.Message{Text: "persist me", Sender: types.SenderUser, Type: types.MessageText})
	store.Close(ctx)

	// Same storage, fresh process
	restarted, err := NewStore(Config{
		Backend:   storage.NewBackend([]storage.Tier{tier}, nil),
		Index:     storage.NewIndexFile(root),
		Lifecycle: NewImageLifecycle(&recordingRemover{}, nil),
		Window:    500 * time.Millisecond,
		Clock:     &fakeClock{},
	})
	require.NoError(t, err)

	id, msgs := restarted.History(ctx)
	assert.Equal(t, sess.ID, id)
	require.Len(t, msgs, 1)
	assert.Equal(t, "persist me", msgs[0].Text)
}

func TestStoreHistorySnapshotIsDetached(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	f.store.Create(ctx)
	f.store.Append(ctx, types.Message{
		Sender: types.SenderAssistant,
		Type:   types.MessageImage,
		ImageData: &types.ImageData{
			SavedFilePaths: []string{"/img/p1.png"},
			ImageStates:    &types.ImageStates{Deleted: []bool{false}, Hidden: []bool{false}},
		},
	})

	_, msgs := f.store.History(ctx)
	require.Len(t, msgs, 1)
	msgs[0].Text = "scribbled on"
	msgs[0].ImageData.ImageStates.Hidden[0] = true

	_, again := f.store.History(ctx)
	assert.Empty(t, again[0].Text, "store state unaffected by snapshot mutation")
	assert.False(t, again[0].ImageData.ImageStates.Hidden[0])
}

func TestStoreConcurrentAppendAndHistory(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	f.store.Create(ctx)

	const n = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			f.store.Append(ctx, types.Message{Text: "burst", Sender: types.SenderUser, Type: types.MessageText})
		}
	}()

	for {
		_, msgs := f.store.History(ctx)
		for i := range msgs {
			_ = msgs[i].Text
		}
		select {
		case <-done:
			_, msgs := f.store.History(ctx)
			assert.Len(t, msgs, n)
			return
		default:
		}
	}
}

func TestStoreConcurrentLazyInit(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], _ = f.store.History(ctx)
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id, "all callers agree on one lazily created session")
	}
	assert.Len(t, f.store.Summaries(), 1)
}

func TestStoreTitleTruncatesOnRuneBoundary(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	f.store.Create(ctx)
	f.store.Append(ctx, types.Message{
		Text:   strings.Repeat("画", 60),
		Sender: types.SenderUser,
		Type:   types.MessageText,
	})

	title := f.store.Summaries()[0].Title
	assert.True(t, utf8.ValidString(title))
	assert.Equal(t, strings.Repeat("画", 48)+"...", title)
}

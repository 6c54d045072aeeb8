package sync

import (
	"context"
	"errors"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/telechat/telechat/internal/bus"
	"github.com/telechat/telechat/internal/conn"
	"github.com/telechat/telechat/internal/store"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	mu        gosync.Mutex
	chats     []store.Chat
	chatsErr  error
	pages     map[string][]store.Message
	pageErr   error
	blockPage map[string]chan struct{}
	started   chan string
	sendMsg   *store.Message
	sendErr   error
	sendCalls int
}

func (f *fakeFetcher) ChatsOfEachKind(_ context.Context) ([]store.Chat, error) {
	if f.chatsErr != nil {
		return nil, f.chatsErr
	}
	out := make([]store.Chat, len(f.chats))
	copy(out, f.chats)
	return out, nil
}

func (f *fakeFetcher) ChatDetail(_ context.Context, _ string) (*store.Chat, []store.Message, error) {
	return nil, nil, errors.New("detail endpoint not faked")
}

func (f *fakeFetcher) MessagePage(_ context.Context, chatID string, _ int) ([]store.Message, error) {
	if f.started != nil {
		f.started <- chatID
	}
	f.mu.Lock()
	block := f.blockPage[chatID]
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	return f.pages[chatID], nil
}

func (f *fakeFetcher) SendMessage(_ context.Context, _, _ string) (*store.Message, error) {
	f.mu.Lock()
	f.sendCalls++
	f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.sendMsg, nil
}

type fakeLink struct {
	events      chan conn.Event
	disconnects int
}

func (l *fakeLink) Connect(string)            {}
func (l *fakeLink) Disconnect()               { l.disconnects++ }
func (l *fakeLink) Events() <-chan conn.Event { return l.events }

func newTestCoordinator(t *testing.T, f *fakeFetcher) (*Coordinator, *store.DB, *fakeLink) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	link := &fakeLink{events: make(chan conn.Event, 16)}
	c := NewCoordinator(f, db, link, bus.New(), zap.NewNop(), 50)
	return c, db, link
}

func TestInitializeCachesChatList(t *testing.T) {
	f := &fakeFetcher{chats: []store.Chat{
		{ChatID: "c1", Kind: "direct", Name: "bob", LastMessageAt: 1000},
		{ChatID: "c2", Kind: "group", Name: "team", LastMessageAt: 3000},
	}}
	c, db, _ := newTestCoordinator(t, f)

	c.Initialize(context.Background())

	snap := c.Snapshot()
	if len(snap.Chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(snap.Chats))
	}
	if snap.Chats[0].ChatID != "c2" {
		t.Errorf("most recent chat first, got %q", snap.Chats[0].ChatID)
	}
	if snap.Loading {
		t.Error("loading still true after Initialize")
	}
	if snap.LastError != nil {
		t.Errorf("unexpected error: %+v", snap.LastError)
	}

	cached, err := db.AllChats()
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 2 {
		t.Errorf("cache holds %d chats, want 2", len(cached))
	}
}

func TestInitializeFallsBackToCachedChats(t *testing.T) {
	f := &fakeFetcher{chatsErr: errors.New("server unreachable")}
	c, db, _ := newTestCoordinator(t, f)

	if err := db.UpsertChat(&store.Chat{ChatID: "c1", Kind: "direct", Name: "bob", LastMessageAt: 500}); err != nil {
		t.Fatal(err)
	}

	c.Initialize(context.Background())

	snap := c.Snapshot()
	if len(snap.Chats) != 1 || snap.Chats[0].ChatID != "c1" {
		t.Fatalf("chats = %+v, want cached c1", snap.Chats)
	}
	if snap.LastError == nil || snap.LastError.Code != CodeStaleData {
		t.Errorf("error = %+v, want %s", snap.LastError, CodeStaleData)
	}
}

func TestInitializeNoCacheNoNetwork(t *testing.T) {
	f := &fakeFetcher{chatsErr: errors.New("server unreachable")}
	c, _, _ := newTestCoordinator(t, f)

	c.Initialize(context.Background())

	snap := c.Snapshot()
	if len(snap.Chats) != 0 {
		t.Errorf("chats = %+v, want none", snap.Chats)
	}
	if snap.LastError == nil || snap.LastError.Code != CodeLoadFailed {
		t.Errorf("error = %+v, want %s", snap.LastError, CodeLoadFailed)
	}
}

func TestSelectChatMergesCacheAndNetwork(t *testing.T) {
	f := &fakeFetcher{
		chats: []store.Chat{{ChatID: "c1", Kind: "direct", Name: "bob"}},
		pages: map[string][]store.Message{"c1": {
			{ID: "m1", ChatID: "c1", Text: "old", CreatedAt: 1000},
			{ID: "m2", ChatID: "c1", Text: "new", CreatedAt: 2000},
		}},
	}
	c, db, _ := newTestCoordinator(t, f)

	if err := db.AddMessage(&store.Message{ID: "m1", ChatID: "c1", Text: "old", CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}

	c.Initialize(context.Background())
	c.SelectChat(context.Background(), "c1")

	snap := c.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(snap.Messages))
	}
	if snap.Messages[0].ID != "m1" || snap.Messages[1].ID != "m2" {
		t.Errorf("order = %s, %s", snap.Messages[0].ID, snap.Messages[1].ID)
	}
	if snap.Loading {
		t.Error("loading still true after SelectChat")
	}

	cached, err := db.MessagesForChat("c1", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 2 {
		t.Errorf("cache holds %d messages, want 2", len(cached))
	}

	// A successful network phase records the sync checkpoint.
	cs, err := db.ChatSyncFor("c1")
	if err != nil {
		t.Fatal(err)
	}
	if cs == nil || cs.LastSyncedAt == 0 {
		t.Errorf("sync checkpoint = %+v, want recorded", cs)
	}
}

func TestSelectChatOfflineShowsCachedWithNotice(t *testing.T) {
	f := &fakeFetcher{pageErr: errors.New("server unreachable")}
	c, db, _ := newTestCoordinator(t, f)

	if err := db.AddMessage(&store.Message{ID: "m1", ChatID: "c1", Text: "old", CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}

	c.SelectChat(context.Background(), "c1")

	snap := c.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].ID != "m1" {
		t.Fatalf("messages = %+v, want cached m1", snap.Messages)
	}
	if snap.LastError == nil || snap.LastError.Code != CodeStaleData {
		t.Errorf("error = %+v, want %s", snap.LastError, CodeStaleData)
	}

	// No checkpoint without a successful network phase.
	cs, err := db.ChatSyncFor("c1")
	if err != nil {
		t.Fatal(err)
	}
	if cs != nil {
		t.Errorf("offline selection recorded a sync checkpoint: %+v", cs)
	}
}

func TestCacheFailureDegradesToNetworkOnly(t *testing.T) {
	release := make(chan struct{})
	f := &fakeFetcher{
		pages: map[string][]store.Message{
			"c1": {{ID: "m1", ChatID: "c1", Text: "hi", CreatedAt: 1000}},
		},
		blockPage: map[string]chan struct{}{"c1": release},
		started:   make(chan string, 2),
	}
	c, db, _ := newTestCoordinator(t, f)

	// Break the message partition; reads must degrade to cache-miss
	// without blocking the network phase.
	if _, err := db.Exec("DROP TABLE messages"); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		c.SelectChat(context.Background(), "c1")
		close(done)
	}()

	<-f.started
	if le := c.LastError(); le == nil || le.Kind != ErrorCache || le.Code != CodeCacheDegraded {
		t.Errorf("error after cache failure = %+v, want %s", le, CodeCacheDegraded)
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for select to finish")
	}

	snap := c.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].ID != "m1" {
		t.Fatalf("messages = %+v, want network m1", snap.Messages)
	}
	if snap.LastError != nil {
		t.Errorf("load success did not clear the cache notice: %+v", snap.LastError)
	}
}

func TestSelectChatSupersededResultDiscarded(t *testing.T) {
	release := make(chan struct{})
	f := &fakeFetcher{
		pages: map[string][]store.Message{
			"c1": {{ID: "m1", ChatID: "c1", Text: "slow", CreatedAt: 1000}},
			"c2": {{ID: "m2", ChatID: "c2", Text: "fast", CreatedAt: 2000}},
		},
		blockPage: map[string]chan struct{}{"c1": release},
		started:   make(chan string, 4),
	}
	c, _, _ := newTestCoordinator(t, f)

	done := make(chan struct{})
	go func() {
		c.SelectChat(context.Background(), "c1")
		close(done)
	}()

	// Wait until the slow fetch is in flight, then navigate away.
	if got := <-f.started; got != "c1" {
		t.Fatalf("first fetch for %q, want c1", got)
	}
	c.SelectChat(context.Background(), "c2")
	if got := <-f.started; got != "c2" {
		t.Fatalf("second fetch for %q, want c2", got)
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for superseded select to finish")
	}

	snap := c.Snapshot()
	if snap.SelectedChatID != "c2" {
		t.Fatalf("selected chat = %q, want c2", snap.SelectedChatID)
	}
	for _, m := range snap.Messages {
		if m.ChatID != "c2" {
			t.Errorf("message %s from superseded chat leaked into view", m.ID)
		}
	}
}

func TestSelectChatKeepsLiveArrivals(t *testing.T) {
	release := make(chan struct{})
	f := &fakeFetcher{
		pages: map[string][]store.Message{
			"c1": {{ID: "m1", ChatID: "c1", Text: "fetched", CreatedAt: 1000}},
		},
		blockPage: map[string]chan struct{}{"c1": release},
		started:   make(chan string, 2),
	}
	c, _, _ := newTestCoordinator(t, f)

	done := make(chan struct{})
	go func() {
		c.SelectChat(context.Background(), "c1")
		close(done)
	}()

	<-f.started
	// A live message lands while the authoritative fetch is in flight.
	live := store.Message{ID: "m5", ChatID: "c1", Text: "live", CreatedAt: 2000}
	c.handleEvent(conn.Event{Kind: conn.KindMessage, Message: &live})

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for select to finish")
	}

	snap := c.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("messages = %+v, want fetched m1 plus live m5", snap.Messages)
	}
	if snap.Messages[0].ID != "m1" || snap.Messages[1].ID != "m5" {
		t.Errorf("order = %s, %s, want m1 then m5", snap.Messages[0].ID, snap.Messages[1].ID)
	}
}

func TestLiveMessageDedupedByID(t *testing.T) {
	f := &fakeFetcher{pages: map[string][]store.Message{"c1": {
		{ID: "m9", ChatID: "c1", Text: "hello", CreatedAt: 1000},
	}}}
	c, db, _ := newTestCoordinator(t, f)

	c.SelectChat(context.Background(), "c1")

	dup := store.Message{ID: "m9", ChatID: "c1", Text: "hello", CreatedAt: 1000}
	c.handleEvent(conn.Event{Kind: conn.KindMessage, Message: &dup})

	snap := c.Snapshot()
	if len(snap.Messages) != 1 {
		t.Fatalf("got %d messages after duplicate, want 1", len(snap.Messages))
	}

	fresh := store.Message{ID: "m10", ChatID: "c1", Text: "again", CreatedAt: 3000, SenderName: "bob"}
	c.handleEvent(conn.Event{Kind: conn.KindMessage, Message: &fresh})

	snap = c.Snapshot()
	if len(snap.Messages) != 2 || snap.Messages[1].ID != "m10" {
		t.Fatalf("messages = %+v, want m9 then m10", snap.Messages)
	}
	if len(snap.Chats) == 0 || snap.Chats[0].LastMessage != "again" {
		t.Errorf("chat list not updated: %+v", snap.Chats)
	}

	cached, err := db.MessagesForChat("c1", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 2 {
		t.Errorf("cache holds %d messages, want 2", len(cached))
	}
}

func TestLiveMessageForBackgroundChatMarksUnseen(t *testing.T) {
	f := &fakeFetcher{
		chats: []store.Chat{
			{ChatID: "c1", Kind: "direct", Name: "bob", LastMessageAt: 1000},
			{ChatID: "c2", Kind: "direct", Name: "eve", LastMessageAt: 2000},
		},
		pages: map[string][]store.Message{},
	}
	c, _, _ := newTestCoordinator(t, f)

	c.Initialize(context.Background())
	c.SelectChat(context.Background(), "c2")

	m := store.Message{ID: "m1", ChatID: "c1", Text: "psst", CreatedAt: 5000}
	c.handleEvent(conn.Event{Kind: conn.KindMessage, Message: &m})

	snap := c.Snapshot()
	if len(snap.Messages) != 0 {
		t.Errorf("background message leaked into open thread: %+v", snap.Messages)
	}
	if snap.Chats[0].ChatID != "c1" {
		t.Fatalf("chat with newest activity not first: %+v", snap.Chats)
	}
	if snap.Chats[0].Seen {
		t.Error("background chat should be unseen")
	}
}

func TestSendRequiresAuthentication(t *testing.T) {
	f := &fakeFetcher{}
	c, _, _ := newTestCoordinator(t, f)

	err := c.Send(context.Background(), "hi")
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}
	if f.sendCalls != 0 {
		t.Error("network call made despite failed validation")
	}
}

func TestSendRequiresSelectedChat(t *testing.T) {
	f := &fakeFetcher{}
	c, _, _ := newTestCoordinator(t, f)
	c.SetCurrentUser(&store.User{ID: "u1", Username: "alice"})

	err := c.Send(context.Background(), "hi")
	if !errors.Is(err, ErrNoChatSelected) {
		t.Fatalf("err = %v, want ErrNoChatSelected", err)
	}
	if f.sendCalls != 0 {
		t.Error("network call made despite failed validation")
	}
	if le := c.LastError(); le == nil || le.Code != CodeNoChatSelected {
		t.Errorf("error = %+v, want %s", le, CodeNoChatSelected)
	}
}

func TestSendAppendsConfirmedMessage(t *testing.T) {
	f := &fakeFetcher{
		chats:   []store.Chat{{ChatID: "c1", Kind: "direct", Name: "bob"}},
		pages:   map[string][]store.Message{},
		sendMsg: &store.Message{ID: "m42", ChatID: "c1", Text: "hello", CreatedAt: 5000},
	}
	c, db, _ := newTestCoordinator(t, f)
	c.SetCurrentUser(&store.User{ID: "u1", Username: "alice"})

	c.Initialize(context.Background())
	c.SelectChat(context.Background(), "c1")

	if err := c.Send(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}

	snap := c.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].ID != "m42" {
		t.Fatalf("messages = %+v, want confirmed m42", snap.Messages)
	}
	if snap.Messages[0].SenderID != "u1" {
		t.Errorf("sender id = %q, want filled from current user", snap.Messages[0].SenderID)
	}
	if snap.SendingInFlight {
		t.Error("sendingInFlight still true after completion")
	}
	if snap.Chats[0].LastMessage != "hello" || !snap.Chats[0].Seen {
		t.Errorf("chat entry not updated: %+v", snap.Chats[0])
	}

	cached, err := db.MessagesForChat("c1", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 1 || cached[0].ID != "m42" {
		t.Errorf("cache = %+v, want m42", cached)
	}
}

func TestSendFailureLeavesThreadUntouched(t *testing.T) {
	f := &fakeFetcher{
		chats:   []store.Chat{{ChatID: "c1", Kind: "direct", Name: "bob"}},
		pages:   map[string][]store.Message{},
		sendErr: errors.New("not a member of this chat"),
	}
	c, _, _ := newTestCoordinator(t, f)
	c.SetCurrentUser(&store.User{ID: "u1", Username: "alice"})

	c.Initialize(context.Background())
	c.SelectChat(context.Background(), "c1")

	if err := c.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected send error")
	}

	snap := c.Snapshot()
	if len(snap.Messages) != 0 {
		t.Errorf("failed send left messages in thread: %+v", snap.Messages)
	}
	if snap.SendingInFlight {
		t.Error("sendingInFlight still true after failure")
	}
	if snap.LastError == nil || snap.LastError.Code != CodeSendFailed {
		t.Errorf("error = %+v, want %s", snap.LastError, CodeSendFailed)
	}
}

func TestPlaceholderSynthesizedFromPreview(t *testing.T) {
	f := &fakeFetcher{
		chats: []store.Chat{{ChatID: "c9", Kind: "direct", Name: "bob", LastMessage: "prev", LastMessageAt: 1234}},
		pages: map[string][]store.Message{},
	}
	c, db, _ := newTestCoordinator(t, f)

	c.Initialize(context.Background())
	c.SelectChat(context.Background(), "c9")

	snap := c.Snapshot()
	if len(snap.Messages) != 1 {
		t.Fatalf("got %d messages, want 1 placeholder", len(snap.Messages))
	}
	m := snap.Messages[0]
	if !m.Local || m.Text != "prev" || m.CreatedAt != 1234 {
		t.Errorf("placeholder = %+v", m)
	}

	// Placeholders are view-only; the cache must stay empty.
	cached, err := db.MessagesForChat("c9", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 0 {
		t.Errorf("placeholder leaked into cache: %+v", cached)
	}
}

func TestConnectionEventsUpdateState(t *testing.T) {
	f := &fakeFetcher{}
	c, _, _ := newTestCoordinator(t, f)

	c.handleEvent(conn.Event{Kind: conn.KindConnectivity, Fault: &conn.Fault{
		Message: "connection reset", Code: "WS_CONNECTION_DROPPED", Retryable: true,
	}})
	if le := c.LastError(); le == nil || le.Kind != ErrorConnectivity || !le.Retryable {
		t.Fatalf("error = %+v, want retryable connectivity", le)
	}

	c.handleEvent(conn.Event{Kind: conn.KindStateChanged, State: conn.StateConnected})
	snap := c.Snapshot()
	if snap.ConnState != conn.StateConnected {
		t.Errorf("conn state = %q, want connected", snap.ConnState)
	}
	if snap.LastError != nil {
		t.Errorf("connection error not cleared on reconnect: %+v", snap.LastError)
	}
}

func TestLogoutWipesEverything(t *testing.T) {
	f := &fakeFetcher{
		chats: []store.Chat{{ChatID: "c1", Kind: "direct", Name: "bob"}},
		pages: map[string][]store.Message{"c1": {{ID: "m1", ChatID: "c1", Text: "hi", CreatedAt: 1000}}},
	}
	c, db, link := newTestCoordinator(t, f)
	c.SetCurrentUser(&store.User{ID: "u1", Username: "alice"})

	c.Initialize(context.Background())
	c.SelectChat(context.Background(), "c1")

	if err := c.Logout(); err != nil {
		t.Fatal(err)
	}

	if link.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", link.disconnects)
	}

	snap := c.Snapshot()
	if snap.User != nil || len(snap.Chats) != 0 || len(snap.Messages) != 0 || snap.SelectedChatID != "" {
		t.Errorf("snapshot not reset: %+v", snap)
	}

	chats, err := db.AllChats()
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := db.MessagesForChat("c1", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 0 || len(msgs) != 0 {
		t.Errorf("cache not wiped: %d chats, %d messages", len(chats), len(msgs))
	}
}

func TestSearchChats(t *testing.T) {
	f := &fakeFetcher{chats: []store.Chat{
		{ChatID: "c1", Kind: "direct", Name: "Bob Marley", LastMessageAt: 3000},
		{ChatID: "c2", Kind: "group", Name: "release crew", LastMessageAt: 2000},
		{ChatID: "c3", Kind: "broadcast", Name: "announcements", LastMessageAt: 1000},
	}}
	c, _, _ := newTestCoordinator(t, f)
	c.Initialize(context.Background())

	if got := c.SearchChats(""); len(got) != 3 {
		t.Errorf("empty query returned %d chats, want 3", len(got))
	}
	got := c.SearchChats("bob")
	if len(got) != 1 || got[0].ChatID != "c1" {
		t.Errorf("search bob = %+v", got)
	}
	if got := c.SearchChats("zzz"); len(got) != 0 {
		t.Errorf("search zzz = %+v, want none", got)
	}
}

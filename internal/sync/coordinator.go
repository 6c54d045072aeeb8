// Package sync implements the synchronization coordinator: the single
// owner of the in-memory reactive snapshot, merging cache reads, network
// fetches, and live events into one consistent view.
package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/telechat/telechat/internal/bus"
	"github.com/telechat/telechat/internal/conn"
	"github.com/telechat/telechat/internal/store"
	"go.uber.org/zap"
)

// Fetcher is the slice of the API client the coordinator consumes.
type Fetcher interface {
	ChatsOfEachKind(ctx context.Context) ([]store.Chat, error)
	ChatDetail(ctx context.Context, eid string) (*store.Chat, []store.Message, error)
	MessagePage(ctx context.Context, chatID string, limit int) ([]store.Message, error)
	SendMessage(ctx context.Context, chatID, text string) (*store.Message, error)
}

// Link is the live connection surface the coordinator consumes.
type Link interface {
	Connect(token string)
	Disconnect()
	Events() <-chan conn.Event
}

// Coordinator turns cache, network, and live events into one consistent
// reactive state. All mutations of the snapshot are serialized through an
// internal mutex; network and cache I/O never run while it is held.
type Coordinator struct {
	api      Fetcher
	db       *store.DB
	link     Link
	bus      *bus.Bus
	logger   *zap.Logger
	pageSize int

	mu             gosync.Mutex
	user           *store.User
	connState      conn.State
	chats          []store.Chat
	selectedChatID string
	messages       []store.Message
	loading        bool
	sending        bool
	lastErr        *ErrorInfo
}

// NewCoordinator creates a coordinator with injected collaborators.
// Constructed at session start, torn down at logout.
func NewCoordinator(api Fetcher, db *store.DB, link Link, b *bus.Bus, logger *zap.Logger, pageSize int) *Coordinator {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Coordinator{
		api:       api,
		db:        db,
		link:      link,
		bus:       b,
		logger:    logger,
		pageSize:  pageSize,
		connState: conn.StateDisconnected,
	}
}

// SetCurrentUser installs the authenticated user and caches the record.
func (c *Coordinator) SetCurrentUser(u *store.User) {
	if u != nil {
		if err := c.db.UpsertUser(u); err != nil {
			c.logger.Warn("failed to cache current user", zap.Error(err))
		}
	}
	c.mu.Lock()
	c.user = u
	c.mu.Unlock()
	c.publish()
}

// Run drains live events until the context is cancelled. Events are
// applied one at a time, in arrival order.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case evt := <-c.link.Events():
			c.handleEvent(evt)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) handleEvent(evt conn.Event) {
	switch evt.Kind {
	case conn.KindStateChanged:
		c.mu.Lock()
		c.connState = evt.State
		if evt.State == conn.StateConnected {
			c.clearErrLocked(ScopeConnection)
		}
		c.mu.Unlock()
		c.publish()

	case conn.KindMessage:
		c.onLiveMessage(evt.Message, evt.Sender)

	case conn.KindMembership:
		// Informational hook point for future roster updates. Must not
		// mutate message or chat records.
		c.logger.Info("membership change",
			zap.String("chat_id", evt.Membership.ChatID),
			zap.String("user_id", evt.Membership.UserID))

	case conn.KindServerFault, conn.KindConnectivity:
		c.mu.Lock()
		c.lastErr = &ErrorInfo{
			Kind:      ErrorConnectivity,
			Scope:     ScopeConnection,
			Message:   evt.Fault.Message,
			Code:      evt.Fault.Code,
			Retryable: evt.Fault.Retryable,
		}
		c.mu.Unlock()
		c.publish()
	}
}

// Initialize loads the chat list: fresh from the server when reachable,
// cached with a stale notice otherwise.
func (c *Coordinator) Initialize(ctx context.Context) {
	c.mu.Lock()
	c.loading = true
	c.mu.Unlock()
	c.publish()

	chats, err := c.api.ChatsOfEachKind(ctx)
	if err != nil {
		cached, cerr := c.db.AllChats()
		if cerr != nil {
			c.logger.Warn("cached chat list unavailable", zap.Error(cerr))
		}
		c.mu.Lock()
		c.loading = false
		if len(cached) > 0 {
			c.chats = cached
			c.lastErr = staleDataErr()
		} else {
			c.lastErr = &ErrorInfo{
				Kind: ErrorFetch, Scope: ScopeLoad,
				Message: err.Error(), Code: CodeLoadFailed, Retryable: true,
			}
		}
		c.mu.Unlock()
		c.publish()
		return
	}

	for i := range chats {
		if err := c.db.UpsertChat(&chats[i]); err != nil {
			c.logger.Warn("failed to cache chat", zap.Error(err), zap.String("chat_id", chats[i].ChatID))
			break
		}
	}

	c.mu.Lock()
	c.loading = false
	c.chats = chats
	sortChatsDesc(c.chats)
	c.clearErrLocked(ScopeLoad)
	c.mu.Unlock()
	c.publish()
}

// SelectChat opens a chat: cached messages are published immediately for
// perceived responsiveness, then the authoritative fetch supersedes them.
// Fallback precedence when the fetch cannot produce messages:
// network > cache > placeholder > empty.
func (c *Coordinator) SelectChat(ctx context.Context, chatID string) {
	c.mu.Lock()
	chat := c.chatCopyLocked(chatID)
	c.selectedChatID = chatID
	c.messages = nil
	c.loading = true
	c.mu.Unlock()
	c.publish()

	// Phase 1: cache read. Errors degrade to "no cached data" and a
	// non-fatal notice; the network phase proceeds regardless.
	cached, err := c.db.MessagesForChat(chatID, c.pageSize)
	if err != nil {
		c.logger.Warn("cache read failed", zap.Error(err), zap.String("chat_id", chatID))
		cached = nil
		c.mu.Lock()
		if c.selectedChatID == chatID {
			c.lastErr = &ErrorInfo{
				Kind: ErrorCache, Scope: ScopeLoad,
				Message: "local cache unavailable", Code: CodeCacheDegraded, Retryable: true,
			}
		}
		c.mu.Unlock()
		c.publish()
	}
	if len(cached) > 0 {
		c.mu.Lock()
		if c.selectedChatID == chatID {
			// Live events that landed after selection began stay in the
			// view; the cache read never regresses past them.
			c.messages = mergeMessages(cached, c.messages)
		}
		c.mu.Unlock()
		c.publish()
	}

	// Phase 2: authoritative fetch. The detail endpoint may inline the
	// message page; fetch it separately when it does not.
	var (
		detail *store.Chat
		fresh  []store.Message
	)
	if chat != nil && chat.EID != "" {
		detail, fresh, err = c.api.ChatDetail(ctx, chat.EID)
		if err == nil && len(fresh) == 0 {
			fresh, err = c.api.MessagePage(ctx, chatID, c.pageSize)
		}
	} else {
		fresh, err = c.api.MessagePage(ctx, chatID, c.pageSize)
	}

	if err != nil {
		c.finishSelectOffline(chatID, cached, err)
		return
	}
	c.finishSelectOnline(chatID, chat, detail, cached, fresh)
}

func (c *Coordinator) finishSelectOffline(chatID string, cached []store.Message, err error) {
	c.logger.Warn("chat fetch failed", zap.Error(err), zap.String("chat_id", chatID))

	c.mu.Lock()
	defer c.publish()
	defer c.mu.Unlock()
	if c.selectedChatID != chatID {
		return
	}
	c.loading = false
	if len(cached) > 0 {
		c.messages = mergeMessages(cached, c.messages)
		c.lastErr = staleDataErr()
		return
	}
	c.messages = nil
	c.lastErr = &ErrorInfo{
		Kind: ErrorFetch, Scope: ScopeLoad,
		Message: err.Error(), Code: CodeLoadFailed, Retryable: true,
	}
}

func (c *Coordinator) finishSelectOnline(chatID string, chat, detail *store.Chat, cached, fresh []store.Message) {
	final := fresh
	if len(final) == 0 {
		if len(cached) > 0 {
			final = cached
		} else if preview := previewChat(chat, detail); preview != nil {
			final = []store.Message{placeholderFromPreview(preview)}
		}
	}
	sortMessagesAsc(final)

	// Persist before touching shared state; skip the write when the
	// resolved set is exactly the cache's own data. Placeholders stay
	// local-only.
	if !sameMessageIDs(final, cached) {
		if err := c.db.UpsertMessages(withoutLocal(final)); err != nil {
			c.logger.Warn("failed to cache messages", zap.Error(err), zap.String("chat_id", chatID))
		}
	}
	if detail != nil {
		detail.Seen = true
		if err := c.db.UpsertChat(detail); err != nil {
			c.logger.Warn("failed to cache chat detail", zap.Error(err), zap.String("chat_id", chatID))
		}
	}
	if err := c.db.TouchChatSync(chatID, time.Now().UnixMilli()); err != nil {
		c.logger.Warn("failed to record sync checkpoint", zap.Error(err), zap.String("chat_id", chatID))
	}

	c.mu.Lock()
	// The user may have navigated away while the fetch was in flight.
	if c.selectedChatID != chatID {
		c.mu.Unlock()
		return
	}
	c.loading = false
	// A placeholder only stands in for a truly empty thread; any live
	// arrival during the fetch makes it redundant.
	if len(c.messages) > 0 && len(final) == 1 && final[0].Local {
		final = nil
	}
	c.messages = mergeMessages(final, c.messages)
	if i := c.chatIndexLocked(chatID); i >= 0 {
		if detail != nil {
			mergeChatLocked(&c.chats[i], detail)
		}
		c.chats[i].Seen = true
	}
	sortChatsDesc(c.chats)
	c.clearErrLocked(ScopeLoad)
	c.mu.Unlock()
	c.publish()
}

// onLiveMessage applies a server-pushed message: durability first, then
// the open thread (deduplicated by id), then the chat list entry.
func (c *Coordinator) onLiveMessage(m *store.Message, sender *store.User) {
	if err := c.db.AddMessage(m); err != nil {
		c.logger.Warn("failed to persist live message", zap.Error(err), zap.String("msg_id", m.ID))
	}
	if sender != nil {
		if err := c.db.UpsertUser(sender); err != nil {
			c.logger.Warn("failed to cache sender", zap.Error(err), zap.String("user_id", sender.ID))
		}
	}

	c.mu.Lock()
	open := c.selectedChatID == m.ChatID
	if open && !c.hasMessageLocked(m.ID) {
		c.messages = append(c.messages, *m)
		sortMessagesAsc(c.messages)
	}

	i := c.chatIndexLocked(m.ChatID)
	if i < 0 {
		// First reference to this chat: create a minimal entry.
		c.chats = append(c.chats, store.Chat{
			ChatID: m.ChatID,
			Kind:   "direct",
			Name:   m.SenderName,
			Avatar: m.SenderAvatar,
		})
		i = len(c.chats) - 1
	}
	c.chats[i].LastMessage = m.Text
	c.chats[i].LastMessageAt = m.CreatedAt
	c.chats[i].Seen = open
	updated := c.chats[i]
	sortChatsDesc(c.chats)
	c.mu.Unlock()

	if err := c.db.UpsertChat(&updated); err != nil {
		c.logger.Warn("failed to cache chat update", zap.Error(err), zap.String("chat_id", updated.ChatID))
	}
	c.publish()
}

// Send posts text to the currently open chat. No optimistic thread entry
// is inserted: the confirmed record from the response is appended on
// success, and on failure the thread is left untouched so the caller can
// retry with the same input.
func (c *Coordinator) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.user == nil {
		c.lastErr = &ErrorInfo{
			Kind: ErrorValidation, Scope: ScopeSend,
			Message: "not authenticated", Code: CodeNotAuthenticated,
		}
		c.mu.Unlock()
		c.publish()
		return ErrNotAuthenticated
	}
	if c.selectedChatID == "" {
		c.lastErr = &ErrorInfo{
			Kind: ErrorValidation, Scope: ScopeSend,
			Message: "no chat selected", Code: CodeNoChatSelected,
		}
		c.mu.Unlock()
		c.publish()
		return ErrNoChatSelected
	}
	chatID := c.selectedChatID
	userID := c.user.ID
	c.sending = true
	c.mu.Unlock()
	c.publish()

	m, err := c.api.SendMessage(ctx, chatID, text)
	if err != nil {
		c.mu.Lock()
		c.sending = false
		c.lastErr = &ErrorInfo{
			Kind: ErrorFetch, Scope: ScopeSend,
			Message: err.Error(), Code: CodeSendFailed, Retryable: true,
		}
		c.mu.Unlock()
		c.publish()
		return fmt.Errorf("send message: %w", err)
	}
	if m.SenderID == "" {
		m.SenderID = userID
	}
	if err := c.db.AddMessage(m); err != nil {
		c.logger.Warn("failed to cache sent message", zap.Error(err), zap.String("msg_id", m.ID))
	}

	c.mu.Lock()
	c.sending = false
	if c.selectedChatID == chatID && !c.hasMessageLocked(m.ID) {
		c.messages = append(c.messages, *m)
		sortMessagesAsc(c.messages)
	}
	var updated store.Chat
	if i := c.chatIndexLocked(chatID); i >= 0 {
		c.chats[i].LastMessage = m.Text
		c.chats[i].LastMessageAt = m.CreatedAt
		c.chats[i].Seen = true
		updated = c.chats[i]
		sortChatsDesc(c.chats)
	}
	c.clearErrLocked(ScopeSend)
	c.mu.Unlock()

	if updated.ChatID != "" {
		if err := c.db.UpsertChat(&updated); err != nil {
			c.logger.Warn("failed to cache chat update", zap.Error(err), zap.String("chat_id", chatID))
		}
	}
	c.publish()
	return nil
}

// ClearError dismisses the standing error banner.
func (c *Coordinator) ClearError() {
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
	c.publish()
}

// Logout tears down the connection, wipes the local cache, and resets all
// reactive fields. A cache wipe failure is returned loudly: the next
// login must not trust a partially cleared cache.
func (c *Coordinator) Logout() error {
	c.link.Disconnect()
	if err := c.db.ClearAll(); err != nil {
		return fmt.Errorf("wipe cache: %w", err)
	}

	c.mu.Lock()
	c.user = nil
	c.chats = nil
	c.selectedChatID = ""
	c.messages = nil
	c.loading = false
	c.sending = false
	c.lastErr = nil
	c.mu.Unlock()
	c.publish()
	return nil
}

func (c *Coordinator) publish() {
	c.bus.Publish(bus.Event{Kind: bus.KindStateUpdated, Timestamp: time.Now()})
}

// clearErrLocked drops the banner when its scope matches. Caller holds mu.
func (c *Coordinator) clearErrLocked(scope ErrorScope) {
	if c.lastErr != nil && c.lastErr.Scope == scope {
		c.lastErr = nil
	}
}

func (c *Coordinator) chatIndexLocked(chatID string) int {
	for i := range c.chats {
		if c.chats[i].ChatID == chatID {
			return i
		}
	}
	return -1
}

func (c *Coordinator) chatCopyLocked(chatID string) *store.Chat {
	if i := c.chatIndexLocked(chatID); i >= 0 {
		cp := c.chats[i]
		return &cp
	}
	return nil
}

func (c *Coordinator) hasMessageLocked(id string) bool {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return true
		}
	}
	return false
}

func staleDataErr() *ErrorInfo {
	return &ErrorInfo{
		Kind: ErrorFetch, Scope: ScopeLoad,
		Message: "showing cached data; server unreachable", Code: CodeStaleData,
		Retryable: true,
	}
}

// previewChat picks the chat record whose last-message preview feeds
// placeholder synthesis, preferring the fresh detail over the list entry.
func previewChat(chat, detail *store.Chat) *store.Chat {
	if detail != nil && strings.TrimSpace(detail.LastMessage) != "" {
		return detail
	}
	if chat != nil && strings.TrimSpace(chat.LastMessage) != "" {
		return chat
	}
	return nil
}

// placeholderFromPreview synthesizes a message from summary data so a
// thread is never shown empty when the summary implies otherwise.
func placeholderFromPreview(chat *store.Chat) store.Message {
	return store.Message{
		ID:        "preview-" + uuid.NewString(),
		ChatID:    chat.ChatID,
		Text:      chat.LastMessage,
		Kind:      "text",
		CreatedAt: chat.LastMessageAt,
		Local:     true,
	}
}

func mergeChatLocked(dst *store.Chat, detail *store.Chat) {
	if detail.EID != "" {
		dst.EID = detail.EID
	}
	if detail.Name != "" {
		dst.Name = detail.Name
	}
	if detail.Avatar != "" {
		dst.Avatar = detail.Avatar
	}
	if detail.Kind != "" {
		dst.Kind = detail.Kind
	}
	if detail.LastMessage != "" {
		dst.LastMessage = detail.LastMessage
	}
	if detail.LastMessageAt > dst.LastMessageAt {
		dst.LastMessageAt = detail.LastMessageAt
	}
}

func sortMessagesAsc(msgs []store.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt < msgs[j].CreatedAt
	})
}

func sortChatsDesc(chats []store.Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].LastMessageAt > chats[j].LastMessageAt
	})
}

func sameMessageIDs(a, b []store.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

// mergeMessages keeps base's records and adds any extras whose id is not
// already present, sorted ascending by created timestamp.
func mergeMessages(base, extra []store.Message) []store.Message {
	out := cloneMessages(base)
	ids := make(map[string]struct{}, len(base))
	for _, m := range base {
		ids[m.ID] = struct{}{}
	}
	for _, m := range extra {
		if _, ok := ids[m.ID]; !ok {
			out = append(out, m)
		}
	}
	sortMessagesAsc(out)
	return out
}

func cloneMessages(msgs []store.Message) []store.Message {
	out := make([]store.Message, len(msgs))
	copy(out, msgs)
	return out
}

func withoutLocal(msgs []store.Message) []store.Message {
	out := make([]store.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.Local {
			out = append(out, m)
		}
	}
	return out
}

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwizi/fixfox-bot/internal/agent"
	"github.com/dwizi/fixfox-bot/internal/agenterr"
	"github.com/dwizi/fixfox-bot/internal/inbound"
	"github.com/dwizi/fixfox-bot/internal/store"
	"github.com/dwizi/fixfox-bot/internal/telegram"
)

type fakeMessenger struct {
	mu          sync.Mutex
	sent        []telegram.Message
	cleared     []int64
	answered    []string
	deleted     map[int64][]int64
	downloads   []string
	downloadErr error
}

func (m *fakeMessenger) Send(_ context.Context, message telegram.Message) (telegram.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, message)
	return telegram.SendResult{MessageIDs: []int64{int64(len(m.sent))}}, nil
}

func (m *fakeMessenger) ClearInlineKeyboard(_ context.Context, _ int64, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, messageID)
	return nil
}

func (m *fakeMessenger) AnswerCallback(_ context.Context, _ int64, callbackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answered = append(m.answered, callbackID)
	return nil
}

func (m *fakeMessenger) DeleteMessages(_ context.Context, chatID int64, messageIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleted == nil {
		m.deleted = map[int64][]int64{}
	}
	m.deleted[chatID] = append(m.deleted[chatID], messageIDs...)
	return nil
}

func (m *fakeMessenger) Download(_ context.Context, fileID, dstPath string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads = append(m.downloads, dstPath)
	if m.downloadErr != nil {
		return 0, m.downloadErr
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return 0, err
	}
	content := []byte("file " + fileID)
	if err := os.WriteFile(dstPath, content, 0o644); err != nil {
		return 0, err
	}
	return int64(len(content)), nil
}

func (m *fakeMessenger) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, message := range m.sent {
		out = append(out, message.Text)
	}
	return out
}

type fakeExecutor struct {
	mu       sync.Mutex
	turns    []agent.Turn
	reply    string
	err      error
	fileSeen []bool
}

func (e *fakeExecutor) Execute(_ context.Context, turn agent.Turn) (agent.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turns = append(e.turns, turn)
	if turn.File != nil {
		_, statErr := os.Stat(turn.File.Path)
		e.fileSeen = append(e.fileSeen, statErr == nil)
	}
	if e.err != nil {
		return agent.Result{}, e.err
	}
	return agent.Result{Reply: e.reply}, nil
}

type staticAdmins []int64

func (a staticAdmins) IDs() []int64 { return a }

type harness struct {
	store     *store.Store
	messenger *fakeMessenger
	executor  *fakeExecutor
	router    *Router
	account   store.Account
	chatID    int64
	dir       string
}

func newHarness(t *testing.T, admins ...int64) *harness {
	t.Helper()
	ctx := context.Background()
	sqlStore, err := store.New(filepath.Join(t.TempDir(), "dispatch_test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })
	require.NoError(t, sqlStore.AutoMigrate(ctx))

	const chatID = 501
	_, err = sqlStore.CreateConversation(ctx, store.CreateConversationInput{ChatID: chatID, DisplayName: "Ann"})
	require.NoError(t, err)
	account, err := sqlStore.CreateAccount(ctx, store.CreateAccountInput{DisplayName: "Ann", Locale: "en", LocalePriority: 1})
	require.NoError(t, err)
	require.NoError(t, sqlStore.SetConversationAccount(ctx, chatID, account.ID))

	dir := filepath.Join(t.TempDir(), "downloads")
	messenger := &fakeMessenger{}
	executor := &fakeExecutor{reply: "AI says hi"}
	router := New(sqlStore, messenger, executor, nil, staticAdmins(admins), Config{
		DownloadDir:    dir,
		OrderExtension: 48 * time.Hour,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &harness{store: sqlStore, messenger: messenger, executor: executor, router: router, account: account, chatID: chatID, dir: dir}
}

func (h *harness) request(t *testing.T, event inbound.Event) Request {
	t.Helper()
	conversation, err := h.store.GetConversation(context.Background(), h.chatID)
	require.NoError(t, err)
	event.ChatID = h.chatID
	return Request{Event: event, Conversation: conversation, Account: h.account}
}

func (h *harness) createOrder(t *testing.T) store.Order {
	t.Helper()
	order, err := h.store.CreateOrder(context.Background(), store.CreateOrderInput{
		AccountID: h.account.ID,
		Text:      "Fix the roof",
		Locations: []store.OrderLocation{{Address: "1 Main", City: "Porto", Country: "PT"}},
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
	return order
}

func (h *harness) createMasterOrder(t *testing.T, orderID int64) store.MasterOrder {
	t.Helper()
	ctx := context.Background()
	master, _, err := h.store.UpsertMaster(ctx, h.account.ID, "Roofer", "PT")
	require.NoError(t, err)
	masterOrder, err := h.store.CreateMasterOrder(ctx, master.ID, orderID)
	require.NoError(t, err)
	return masterOrder
}

func (h *harness) state(t *testing.T) store.Conversation {
	t.Helper()
	conversation, err := h.store.GetConversation(context.Background(), h.chatID)
	require.NoError(t, err)
	return conversation
}

func TestStartResetsStateAndWelcomes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SetConversationState(ctx, h.chatID, store.StateAwaitingMasterOrderComment, json.RawMessage(`{"master_order_id":3}`)))

	require.NoError(t, h.router.Dispatch(ctx, h.request(t, inbound.Event{Kind: inbound.KindTextMessage, Text: "/start"})))

	assert.Equal(t, []string{welcomeText}, h.messenger.texts())
	conversation := h.state(t)
	assert.Equal(t, store.StateNone, conversation.State)
	assert.Nil(t, conversation.Payload)
	assert.Empty(t, h.executor.turns)
}

func TestHelpCommand(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.Dispatch(context.Background(), h.request(t, inbound.Event{Kind: inbound.KindTextMessage, Text: "/help"})))
	assert.Equal(t, []string{helpText}, h.messenger.texts())
}

func TestLocaleNoticeComesFirst(t *testing.T) {
	h := newHarness(t)
	req := h.request(t, inbound.Event{Kind: inbound.KindTextMessage, Text: "/help"})
	req.ProfileChanged = true
	req.Account.Locale = "es"

	require.NoError(t, h.router.Dispatch(context.Background(), req))
	assert.Equal(t, []string{"es", helpText}, h.messenger.texts())
}

func TestTextRunsPresenceTurn(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.Dispatch(context.Background(), h.request(t, inbound.Event{Kind: inbound.KindTextMessage, Text: "I need a plumber"})))

	require.Len(t, h.executor.turns, 1)
	turn := h.executor.turns[0]
	assert.Equal(t, "I need a plumber", turn.Text)
	assert.True(t, turn.ShowPresence)
	assert.Equal(t, h.account.ID, turn.AccountID)
	assert.EqualValues(t, h.chatID, turn.ChatID)
	assert.Equal(t, []string{"AI says hi"}, h.messenger.texts())
}

func TestTurnFailureSendsApology(t *testing.T) {
	h := newHarness(t)
	h.executor.err = agenterr.ErrProviderTimeout

	err := h.router.Dispatch(context.Background(), h.request(t, inbound.Event{Kind: inbound.KindTextMessage, Text: "hello"}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, agenterr.ErrProviderTimeout))
	assert.Equal(t, []string{apologyText}, h.messenger.texts())
}

func TestMasterCommentCompletesContinuation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t)
	masterOrder := h.createMasterOrder(t, order.ID)
	payload, _ := json.Marshal(map[string]int64{"master_order_id": masterOrder.ID})
	require.NoError(t, h.store.SetConversationState(ctx, h.chatID, store.StateAwaitingMasterOrderComment, payload))

	require.NoError(t, h.router.Dispatch(ctx, h.request(t, inbound.Event{Kind: inbound.KindTextMessage, Text: "200 EUR, two days"})))

	saved, err := h.store.GetMasterOrder(ctx, masterOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, "200 EUR, two days", saved.Comments)
	assert.Equal(t, store.StateNone, h.state(t).State)
	assert.Equal(t, []string{commentReceivedText}, h.messenger.texts())
	assert.Empty(t, h.executor.turns)
}

func TestMasterCommentWithMissingTargetIsSilent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SetConversationState(ctx, h.chatID, store.StateAwaitingMasterOrderComment, json.RawMessage(`{"master_order_id":999}`)))

	require.NoError(t, h.router.Dispatch(ctx, h.request(t, inbound.Event{Kind: inbound.KindTextMessage, Text: "my comment"})))

	assert.Empty(t, h.messenger.texts())
	assert.Empty(t, h.executor.turns)
	assert.Equal(t, store.StateNone, h.state(t).State)
}

func TestMediaRunsFileTurnsAndCleansUp(t *testing.T) {
	h := newHarness(t)
	event := inbound.Event{
		Kind: inbound.KindMediaMessage,
		Attachments: []inbound.Attachment{
			{Kind: inbound.AttachmentPhoto, FileID: "photo-1"},
			{Kind: inbound.AttachmentDocument, FileID: "doc-1", FileName: "CV.PDF", MimeType: "application/pdf"},
		},
	}
	require.NoError(t, h.router.Dispatch(context.Background(), h.request(t, event)))

	require.Len(t, h.executor.turns, 2)
	assert.False(t, h.executor.turns[0].ShowPresence)
	assert.Equal(t, "image/jpeg", h.executor.turns[0].File.MimeType)
	assert.Equal(t, "CV.PDF", h.executor.turns[1].File.Name)
	assert.Equal(t, ".pdf", filepath.Ext(h.executor.turns[1].File.Path))
	assert.Equal(t, []bool{true, true}, h.executor.fileSeen)

	for _, path := range h.messenger.downloads {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), path)
	}
	assert.Equal(t, []string{"AI says hi", "AI says hi"}, h.messenger.texts())
}

func TestTextWithAttachmentUsesCaption(t *testing.T) {
	h := newHarness(t)
	event := inbound.Event{
		Kind:        inbound.KindTextMessage,
		Text:        "what is this?",
		Attachments: []inbound.Attachment{{Kind: inbound.AttachmentPhoto, FileID: "p"}},
	}
	require.NoError(t, h.router.Dispatch(context.Background(), h.request(t, event)))

	require.Len(t, h.executor.turns, 2)
	assert.Nil(t, h.executor.turns[0].File)
	require.NotNil(t, h.executor.turns[1].File)
	assert.Equal(t, "what is this?", h.executor.turns[1].Text)
}

func TestDownloadFailureApologizes(t *testing.T) {
	h := newHarness(t)
	h.messenger.downloadErr = errors.New("attachment too large")
	event := inbound.Event{Kind: inbound.KindMediaMessage, Attachments: []inbound.Attachment{{Kind: inbound.AttachmentVideo, FileID: "v"}}}

	err := h.router.Dispatch(context.Background(), h.request(t, event))
	require.Error(t, err)
	assert.Equal(t, []string{fileApologyText}, h.messenger.texts())
	assert.Empty(t, h.executor.turns)
}

func TestFulfillCallbackEntersAwaitingState(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t)
	masterOrder := h.createMasterOrder(t, order.ID)
	event := inbound.Event{
		Kind:          inbound.KindCallback,
		MessageID:     44,
		CallbackID:    "cb-1",
		CallbackToken: "fulfill_masterOrder_" + itoa(masterOrder.ID),
	}
	require.NoError(t, h.router.Dispatch(context.Background(), h.request(t, event)))

	assert.Equal(t, []string{"cb-1"}, h.messenger.answered)
	assert.Equal(t, []int64{44}, h.messenger.cleared)
	conversation := h.state(t)
	assert.Equal(t, store.StateAwaitingMasterOrderComment, conversation.State)
	assert.JSONEq(t, `{"master_order_id":`+itoa(masterOrder.ID)+`}`, string(conversation.Payload))
	require.Len(t, h.messenger.texts(), 1)
	assert.Contains(t, h.messenger.texts()[0], "<b>#"+itoa(order.ID)+"</b>")
}

func TestFulfillCallbackRejectsClosedAndMissing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t)
	masterOrder := h.createMasterOrder(t, order.ID)
	require.NoError(t, h.store.CloseOrder(ctx, h.account.ID, order.ID))

	callback := func(token string) inbound.Event {
		return inbound.Event{Kind: inbound.KindCallback, MessageID: 1, CallbackToken: token}
	}
	require.NoError(t, h.router.Dispatch(ctx, h.request(t, callback("fulfill_masterOrder_"+itoa(masterOrder.ID)))))
	require.NoError(t, h.router.Dispatch(ctx, h.request(t, callback("fulfill_masterOrder_9999"))))

	assert.Equal(t, []string{orderClosedText, orderUnavailableText}, h.messenger.texts())
	assert.Equal(t, store.StateNone, h.state(t).State)
}

func TestExtendOrderPushesExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t)

	event := inbound.Event{Kind: inbound.KindCallback, MessageID: 8, CallbackToken: "extend_order_" + itoa(order.ID)}
	require.NoError(t, h.router.Dispatch(ctx, h.request(t, event)))

	extended, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, order.ExpiresAt.Add(48*time.Hour), extended.ExpiresAt, 2*time.Second)
	require.Len(t, h.messenger.texts(), 1)
	assert.Contains(t, h.messenger.texts()[0], orderExtendedText)
}

func TestAdminCallbackRequiresAllowList(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(t)

	event := inbound.Event{Kind: inbound.KindCallback, CallbackToken: "admin_acceptOrder_" + itoa(order.ID)}
	err := h.router.Dispatch(context.Background(), h.request(t, event))
	require.Error(t, err)
	assert.True(t, errors.Is(err, agenterr.ErrNotAdmin))
	assert.Equal(t, []string{adminDeniedText}, h.messenger.texts())

	stored, err := h.store.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AdminCheckNew, stored.AdminCheck)
}

func TestAdminAcceptOrderDeletesTaggedMessages(t *testing.T) {
	h := newHarness(t, 501)
	ctx := context.Background()
	order := h.createOrder(t)
	tag := "admin_order_" + itoa(order.ID)
	_, err := h.store.CreateTelegramLog(ctx, store.CreateTelegramLogInput{
		ChatID: 501, Direction: store.DirectionSent, Method: "sendMessage", Tag: tag, MessageIDs: []int64{70},
	})
	require.NoError(t, err)
	_, err = h.store.CreateTelegramLog(ctx, store.CreateTelegramLogInput{
		ChatID: 502, Direction: store.DirectionSent, Method: "sendMessage", Tag: tag, MessageIDs: []int64{71},
	})
	require.NoError(t, err)

	event := inbound.Event{Kind: inbound.KindCallback, CallbackToken: "admin_acceptOrder_" + itoa(order.ID)}
	require.NoError(t, h.router.Dispatch(ctx, h.request(t, event)))

	stored, err := h.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AdminCheckInWork, stored.AdminCheck)
	assert.Equal(t, map[int64][]int64{501: {70}, 502: {71}}, h.messenger.deleted)
}

func TestExportModerationSkipsAllowList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	post, err := h.store.CreateExportPost(ctx, "Project post")
	require.NoError(t, err)

	event := inbound.Event{Kind: inbound.KindCallback, CallbackToken: "admin_rejectExport_" + itoa(post.ID)}
	require.NoError(t, h.router.Dispatch(ctx, h.request(t, event)))

	stored, err := h.store.GetExportPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AdminCheckBlocked, stored.AdminStatus)
	assert.Empty(t, h.messenger.texts())
}

func TestUnknownCallbackIsIgnored(t *testing.T) {
	h := newHarness(t)
	event := inbound.Event{Kind: inbound.KindCallback, CallbackToken: "edit_master"}
	require.NoError(t, h.router.Dispatch(context.Background(), h.request(t, event)))
	assert.Empty(t, h.messenger.texts())
	assert.Empty(t, h.executor.turns)
}

func TestBotCommandRequiresExactText(t *testing.T) {
	cases := map[string]string{
		"/start":           "start",
		"/help":            "help",
		"/start@FixFoxBot": "start",
		"/START":           "START",
		"/start now":       "",
		"/help please":     "",
		"/start@":          "",
		"start":            "",
		"/":                "",
	}
	for input, want := range cases {
		assert.Equal(t, want, botCommand(input), input)
	}
}

func TestCommandWithArgumentsIsCommentText(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.createOrder(t)
	masterOrder := h.createMasterOrder(t, order.ID)
	payload, _ := json.Marshal(map[string]int64{"master_order_id": masterOrder.ID})
	require.NoError(t, h.store.SetConversationState(ctx, h.chatID, store.StateAwaitingMasterOrderComment, payload))

	require.NoError(t, h.router.Dispatch(ctx, h.request(t, inbound.Event{Kind: inbound.KindTextMessage, Text: "/start tomorrow, $50"})))

	saved, err := h.store.GetMasterOrder(ctx, masterOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, "/start tomorrow, $50", saved.Comments)
	assert.Equal(t, []string{commentReceivedText}, h.messenger.texts())
}

func TestUppercaseStartIsNotACommand(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.Dispatch(context.Background(), h.request(t, inbound.Event{Kind: inbound.KindTextMessage, Text: "/START"})))
	require.Len(t, h.executor.turns, 1)
	assert.Equal(t, "/START", h.executor.turns[0].Text)
}

func itoa(value int64) string {
	encoded, _ := json.Marshal(value)
	return string(encoded)
}

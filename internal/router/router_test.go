package router

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/gpttg/internal/access"
	cmdpkg "github.com/stupiduntilnot/gpttg/internal/commander"
	"github.com/stupiduntilnot/gpttg/internal/completion"
	"github.com/stupiduntilnot/gpttg/internal/db"
	"github.com/stupiduntilnot/gpttg/internal/dummy"
	modelpkg "github.com/stupiduntilnot/gpttg/internal/model"
	"github.com/stupiduntilnot/gpttg/internal/session"
)

type fixture struct {
	router    *Router
	commander *dummy.Commander
	provider  *dummy.Provider
	store     *session.Store
	journal   *db.Journal
	database  *sql.DB
	rootID    int64
	hook      *test.Hook
}

func newFixture(t *testing.T, allow, providerScript string, opts Options) *fixture {
	t.Helper()
	commander, err := dummy.NewCommander("ok", "ok")
	require.NoError(t, err)
	provider, err := dummy.NewProvider(providerScript)
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	store := session.New(10, time.Hour)
	inv := completion.New(provider, store, completion.Config{
		AssistantPrompt: "You are a helpful assistant.",
		Params:          modelpkg.Params{Model: "gpt-3.5-turbo", N: 1},
	}, logger)

	database, err := db.OpenDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(database))
	t.Cleanup(func() { database.Close() })
	journal := db.NewJournal(database, logger)
	rootID := journal.Start(map[string]any{"role": "test"})

	r := New(commander, access.NewGate(allow), inv, journal, opts, logger)
	return &fixture{
		router:    r,
		commander: commander,
		provider:  provider,
		store:     store,
		journal:   journal,
		database:  database,
		rootID:    rootID,
		hook:      hook,
	}
}

func allFeatures() Options {
	return Options{Features: Features{Completion: true, Profile: true}}
}

func textUpdate(id int64, chatID, userID int64, text string) cmdpkg.Update {
	return cmdpkg.Update{
		UpdateID: id,
		Message: &cmdpkg.Message{
			MessageID: id * 10,
			From:      &cmdpkg.User{ID: userID, FirstName: "Ann", LastName: "Lee", UserName: "ann"},
			Chat:      cmdpkg.Chat{ID: chatID},
			Text:      &text,
		},
	}
}

func TestHandle_StartShowsHelp(t *testing.T) {
	f := newFixture(t, "*", "ok", allFeatures())
	require.NoError(t, f.router.Handle(context.Background(), textUpdate(1, 5, 7, "/start")))
	require.NoError(t, f.router.Handle(context.Background(), textUpdate(2, 5, 7, "/help")))

	sent := f.commander.Sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].Text, "/reset")
	assert.Contains(t, sent[0].Text, "/get_info")
	assert.Equal(t, sent[0].Text, sent[1].Text)
}

func TestHandle_GreeterOnly(t *testing.T) {
	f := newFixture(t, "*", "ok", Options{Features: Features{Profile: true}})
	ctx := context.Background()
	require.NoError(t, f.router.Handle(ctx, textUpdate(1, 5, 7, "/start")))
	require.NoError(t, f.router.Handle(ctx, textUpdate(2, 5, 7, "plain text")))
	require.NoError(t, f.router.Handle(ctx, textUpdate(3, 5, 7, "/reset")))

	sent := f.commander.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, GreetingText, sent[0].Text)
	assert.Empty(t, f.provider.Calls())
}

func TestHandle_GetInfo(t *testing.T) {
	f := newFixture(t, "1", "ok", allFeatures())
	require.NoError(t, f.router.Handle(context.Background(), textUpdate(1, 5, 33453, "/get_info")))

	sent := f.commander.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "33453:Ann Lee", sent[0].Text)
}

func TestHandle_GetInfoDisabled(t *testing.T) {
	f := newFixture(t, "*", "ok", Options{Features: Features{Completion: true}})
	require.NoError(t, f.router.Handle(context.Background(), textUpdate(1, 5, 7, "/get_info")))
	assert.Empty(t, f.commander.Sent())
}

func TestHandle_PromptRelaysReply(t *testing.T) {
	f := newFixture(t, "7", "msg:hello back", allFeatures())
	require.NoError(t, f.router.Handle(context.Background(), textUpdate(4, 5, 7, "hi")))

	sent := f.commander.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, cmdpkg.OutboundMessage{
		ChatID:           5,
		Text:             "hello back",
		ReplyToMessageID: 40,
		Markdown:         true,
	}, sent[0])
	assert.Equal(t, []string{cmdpkg.ChatActionTyping}, f.commander.ChatActions())

	h := f.store.History(5)
	require.Len(t, h, 1)
	assert.Equal(t, "hi", h[0].User)
	assert.Equal(t, "hello back", h[0].Reply)
}

func TestHandle_ShowUsage(t *testing.T) {
	opts := allFeatures()
	opts.ShowUsage = true
	f := newFixture(t, "*", "msg:answer", opts)
	require.NoError(t, f.router.Handle(context.Background(), textUpdate(1, 5, 7, "q")))

	sent := f.commander.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "answer")
	assert.Contains(t, sent[0].Text, "Tokens used: 2")
}

func TestHandle_DeniedSender(t *testing.T) {
	f := newFixture(t, "1,2,3", "ok", allFeatures())
	err := f.router.Handle(context.Background(), textUpdate(1, 5, 4, "hi"))
	require.ErrorIs(t, err, access.ErrPermissionDenied)

	sent := f.commander.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, DeniedText, sent[0].Text)
	assert.Empty(t, f.provider.Calls())
	assert.Empty(t, f.store.History(5))
	require.NotNil(t, f.hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, f.hook.LastEntry().Level)
}

func TestHandle_DeniedWithoutSender(t *testing.T) {
	f := newFixture(t, "1", "ok", allFeatures())
	u := textUpdate(1, 5, 1, "hi")
	u.Message.From = nil
	err := f.router.Handle(context.Background(), u)
	require.ErrorIs(t, err, access.ErrPermissionDenied)
}

func TestHandle_Reset(t *testing.T) {
	f := newFixture(t, "7", "ok", allFeatures())
	f.store.Append(5, "q", "a")

	require.NoError(t, f.router.Handle(context.Background(), textUpdate(1, 5, 7, "/reset")))
	assert.Empty(t, f.store.History(5))
	sent := f.commander.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, ResetDoneText, sent[0].Text)
}

func TestHandle_ResetDenied(t *testing.T) {
	f := newFixture(t, "8", "ok", allFeatures())
	f.store.Append(5, "q", "a")

	err := f.router.Handle(context.Background(), textUpdate(1, 5, 7, "/reset"))
	require.ErrorIs(t, err, access.ErrPermissionDenied)
	assert.Len(t, f.store.History(5), 1)
}

func TestHandle_UpstreamFailure(t *testing.T) {
	f := newFixture(t, "*", "err:provider_api", allFeatures())
	f.store.Append(5, "q", "a")

	err := f.router.Handle(context.Background(), textUpdate(1, 5, 7, "hi"))
	var upstream *completion.UpstreamError
	require.ErrorAs(t, err, &upstream)

	sent := f.commander.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, FailureText, sent[0].Text)
	assert.Len(t, f.store.History(5), 1)
}

func TestHandle_IgnoresEmptyUpdates(t *testing.T) {
	f := newFixture(t, "*", "ok", allFeatures())
	require.NoError(t, f.router.Handle(context.Background(), cmdpkg.Update{UpdateID: 1}))
	empty := ""
	require.NoError(t, f.router.Handle(context.Background(), cmdpkg.Update{
		UpdateID: 2,
		Message:  &cmdpkg.Message{Chat: cmdpkg.Chat{ID: 1}, Text: &empty},
	}))
	require.NoError(t, f.router.Handle(context.Background(), textUpdate(3, 1, 1, "/unknown")))
	assert.Empty(t, f.commander.Sent())
}

func TestHandle_SendFailureIsTransportError(t *testing.T) {
	f := newFixture(t, "*", "ok", allFeatures())
	c, err := dummy.NewCommander("ok", "err:down")
	require.NoError(t, err)
	f.router.commander = c

	err = f.router.Handle(context.Background(), textUpdate(1, 1, 1, "/start"))
	var te *cmdpkg.TransportError
	require.ErrorAs(t, err, &te)
}

func TestNew_NilInvokerDisablesCompletion(t *testing.T) {
	c, err := dummy.NewCommander("ok", "ok")
	require.NoError(t, err)
	r := New(c, access.NewGate("*"), nil, nil, allFeatures(), nil)
	require.NoError(t, r.Handle(context.Background(), textUpdate(1, 1, 1, "hello")))
	require.NoError(t, r.Handle(context.Background(), textUpdate(2, 1, 1, "/help")))

	sent := c.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, GreetingText, sent[0].Text)
}

package dummy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cmdpkg "github.com/stupiduntilnot/gpttg/internal/commander"
	ctxpkg "github.com/stupiduntilnot/gpttg/internal/context"
	modelpkg "github.com/stupiduntilnot/gpttg/internal/model"
)

var hi = []ctxpkg.Message{{Role: ctxpkg.RoleUser, Content: "hi"}}

func TestNewProvider_InvalidScript(t *testing.T) {
	_, err := NewProvider("boom")
	assert.Error(t, err)
}

func TestProvider_ScriptedResponses(t *testing.T) {
	p, err := NewProvider("err:provider_api,msg:hello")
	require.NoError(t, err)

	_, err = p.ChatCompletion(context.Background(), hi, modelpkg.Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider_api")

	resp, err := p.ChatCompletion(context.Background(), hi, modelpkg.Params{})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Len(t, p.Calls(), 2)
}

func TestProvider_LastActionRepeats(t *testing.T) {
	p, err := NewProvider("msg:a,msg:b")
	require.NoError(t, err)
	for _, want := range []string{"a", "b", "b", "b"} {
		resp, err := p.ChatCompletion(context.Background(), hi, modelpkg.Params{})
		require.NoError(t, err)
		assert.Equal(t, want, resp.Content)
	}
}

func TestProvider_EchoAndNoChoice(t *testing.T) {
	p, err := NewProvider("echo,nochoice")
	require.NoError(t, err)

	resp, err := p.ChatCompletion(context.Background(), []ctxpkg.Message{
		{Role: ctxpkg.RoleSystem, Content: "sys"},
		{Role: ctxpkg.RoleUser, Content: "ping"},
	}, modelpkg.Params{})
	require.NoError(t, err)
	assert.Equal(t, "ping", resp.Content)

	_, err = p.ChatCompletion(context.Background(), hi, modelpkg.Params{})
	assert.ErrorIs(t, err, modelpkg.ErrNoChoices)
}

func TestProvider_MsgB64Action(t *testing.T) {
	p, err := NewProvider("msgb64:aGVsbG8=") // "hello"
	require.NoError(t, err)
	resp, err := p.ChatCompletion(context.Background(), hi, modelpkg.Params{})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
}

func TestProvider_SleepDoesNotBlockOtherCalls(t *testing.T) {
	p, err := NewProvider("sleep:200")
	require.NoError(t, err)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := p.ChatCompletion(context.Background(), hi, modelpkg.Params{})
			assert.NoError(t, err)
			assert.Equal(t, "dummy-after-sleep", resp.Content)
		}()
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 600*time.Millisecond)
	assert.Len(t, p.Calls(), 4)
}

func TestProvider_SleepHonoursContext(t *testing.T) {
	p, err := NewProvider("sleep:5000")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = p.ChatCompletion(ctx, hi, modelpkg.Params{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCommander_MsgAction(t *testing.T) {
	c, err := NewCommander("msg:test-msg", "ok")
	require.NoError(t, err)

	updates, err := c.GetUpdates(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	msg := updates[0].Message
	require.NotNil(t, msg)
	require.NotNil(t, msg.Text)
	assert.Equal(t, "test-msg", *msg.Text)
	require.NotNil(t, msg.From)
	assert.Equal(t, DefaultUserID, msg.From.ID)
	assert.Equal(t, DefaultChatID, msg.Chat.ID)
}

func TestCommander_ErrIsTransportError(t *testing.T) {
	c, err := NewCommander("err", "err:send_failed,ok")
	require.NoError(t, err)

	_, err = c.GetUpdates(context.Background(), 0, 0)
	var te *cmdpkg.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "getUpdates", te.Op)

	assert.Error(t, c.SendMessage(context.Background(), cmdpkg.OutboundMessage{ChatID: 1, Text: "a"}))
	require.NoError(t, c.SendMessage(context.Background(), cmdpkg.OutboundMessage{ChatID: 1, Text: "b"}))

	sent := c.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "b", sent[0].Text)
}

func TestCommander_RecordsChatActions(t *testing.T) {
	c, err := NewCommander("ok", "ok")
	require.NoError(t, err)
	require.NoError(t, c.SendChatAction(context.Background(), 1, cmdpkg.ChatActionTyping))
	assert.Equal(t, []string{cmdpkg.ChatActionTyping}, c.ChatActions())
}

package announce

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxpanel/internal/domain"
	"fxpanel/internal/infra/config"
	"fxpanel/internal/usecase/eventbus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubAnnouncer struct {
	name  string
	err   error
	texts []string
	ctxOK bool
}

func (s *stubAnnouncer) Name() string { return s.name }

func (s *stubAnnouncer) SendAnnouncement(ctx context.Context, text string) error {
	_, s.ctxOK = ctx.Deadline()
	s.texts = append(s.texts, text)
	return s.err
}

func TestMultiFansOut(t *testing.T) {
	a := &stubAnnouncer{name: "a"}
	b := &stubAnnouncer{name: "b"}
	m := NewMulti([]Announcer{a, b}, time.Second, nil, testLogger())

	require.NoError(t, m.SendAnnouncement(context.Background(), "server starting"))

	assert.Equal(t, []string{"server starting"}, a.texts)
	assert.Equal(t, []string{"server starting"}, b.texts)
	assert.True(t, a.ctxOK, "per-target timeout applied")
	assert.Equal(t, []string{"a", "b"}, m.Names())
}

func TestMultiPartialFailure(t *testing.T) {
	bus := eventbus.New(testLogger())
	failed := make(chan domain.Event, 1)
	bus.Subscribe(domain.EventAnnouncementFailed, func(_ context.Context, e domain.Event) { failed <- e })

	a := &stubAnnouncer{name: "a", err: errors.New("boom")}
	b := &stubAnnouncer{name: "b"}
	m := NewMulti([]Announcer{a, b}, 0, bus, testLogger())

	err := m.SendAnnouncement(context.Background(), "hello")
	bus.Close()

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAnnounceFailed)
	assert.Contains(t, err.Error(), "a: boom")
	assert.Equal(t, []string{"hello"}, b.texts, "later targets still receive the announcement")

	e := <-failed
	assert.JSONEq(t, `{"target":"a","error":"boom"}`, string(e.Payload))
}

func TestMultiEmpty(t *testing.T) {
	m := NewMulti(nil, 0, nil, testLogger())
	assert.NoError(t, m.SendAnnouncement(context.Background(), "hello"))
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	inner := &stubAnnouncer{name: "discord", err: errors.New("503")}
	b := NewBreaker(inner, config.CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute}, testLogger())

	for i := 0; i < 2; i++ {
		err := b.SendAnnouncement(context.Background(), "x")
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrDisabled)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.SendAnnouncement(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrDisabled)
	assert.Equal(t, domain.CodeAnnounceDisabled, domain.ErrorCodeOf(err))
	assert.Len(t, inner.texts, 2, "open circuit does not reach the platform")
	assert.Equal(t, "discord", b.Name())
}

type fakeDiscord struct {
	channel string
	content string
	err     error
}

func (f *fakeDiscord) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channel, f.content = channelID, content
	return &discordgo.Message{}, f.err
}

func TestDiscordSend(t *testing.T) {
	fake := &fakeDiscord{}
	d := &Discord{session: fake, channelID: "123", logger: testLogger()}

	require.NoError(t, d.SendAnnouncement(context.Background(), "Server starting"))
	assert.Equal(t, "123", fake.channel)
	assert.Equal(t, "Server starting", fake.content)

	long := make([]byte, 2500)
	for i := range long {
		long[i] = 'a'
	}
	require.NoError(t, d.SendAnnouncement(context.Background(), string(long)))
	assert.Len(t, fake.content, discordMaxLen)

	fake.err = errors.New("unauthorized")
	err := d.SendAnnouncement(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrProviderError)
}

func TestNewDiscord(t *testing.T) {
	d, err := NewDiscord("token", "123", testLogger())
	require.NoError(t, err)
	assert.Equal(t, "discord", d.Name())
}

type fakeSlack struct {
	channel string
	calls   int
	err     error
}

func (f *fakeSlack) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	f.channel = channelID
	f.calls++
	return "", "", f.err
}

func TestSlackSend(t *testing.T) {
	fake := &fakeSlack{}
	s := &Slack{api: fake, channelID: "C1", logger: testLogger()}

	require.NoError(t, s.SendAnnouncement(context.Background(), "Server stopping"))
	require.NoError(t, s.SendAnnouncement(context.Background(), ""))
	assert.Equal(t, "C1", fake.channel)
	assert.Equal(t, 1, fake.calls)

	fake.err = errors.New("channel_not_found")
	assert.ErrorIs(t, s.SendAnnouncement(context.Background(), "x"), domain.ErrProviderError)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Defaults(t.TempDir())
	cfg.Discord = config.DiscordConfig{Enabled: true, Token: "t", AnnounceChannel: "1"}
	cfg.Slack = config.SlackConfig{Enabled: true, BotToken: "b", AnnounceChannel: "C"}
	cfg.Announce.CircuitBreaker.Enabled = true

	m, err := FromConfig(cfg, nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"discord", "slack"}, m.Names())
	_, wrapped := m.targets[0].(*Breaker)
	assert.True(t, wrapped)
}

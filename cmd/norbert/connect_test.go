// file: cmd/norbert/connect_test.go
package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/backend"
	"github.com/dkoosis/norbert/internal/connect"
	"github.com/dkoosis/norbert/internal/fsm"
	"github.com/dkoosis/norbert/internal/norberterror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver plays the orchestrator's part by reporting phases to the
// observer the way the real one does.
type fakeDriver struct {
	obs     *terminalObserver
	attempt connect.Attempt

	connectErr error
	onConnect  func()
	onPhone    func(string) error
	onCode     func(string) error

	phones      []string
	codes       []string
	regenerated int
	closedQR    bool
	cancelled   bool
}

func (f *fakeDriver) emit(phases ...fsm.State) {
	for _, p := range phases {
		f.obs.PhaseChanged("attempt-1", p)
	}
}

func (f *fakeDriver) Connect(_ context.Context, p backend.Provider) error {
	f.attempt.Provider = p
	if f.onConnect != nil {
		f.onConnect()
	}
	return f.connectErr
}

func (f *fakeDriver) RegenerateQR(context.Context) error {
	f.regenerated++
	f.attempt.QRCode = "second-code"
	f.emit(connect.PhaseConnecting, connect.PhaseAwaitingQR)
	return nil
}

func (f *fakeDriver) CloseQR() error {
	f.closedQR = true
	f.emit(connect.PhaseIdle)
	return nil
}

func (f *fakeDriver) SubmitPhone(_ context.Context, phone string) error {
	f.phones = append(f.phones, phone)
	return f.onPhone(phone)
}

func (f *fakeDriver) SubmitCode(_ context.Context, code string) error {
	f.codes = append(f.codes, code)
	return f.onCode(code)
}

func (f *fakeDriver) Cancel() error {
	f.cancelled = true
	f.emit(connect.PhaseIdle)
	return nil
}

func (f *fakeDriver) Attempt() (connect.Attempt, bool) {
	return f.attempt, true
}

func newInteraction(t *testing.T, input ...string) (*interaction, *fakeDriver, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	obs := newTerminalObserver(&out, nil)
	driver := &fakeDriver{obs: obs}

	lines := make(chan string, len(input))
	for _, l := range input {
		lines <- l
	}
	close(lines)

	return &interaction{
		orch:        driver,
		obs:         obs,
		lines:       lines,
		out:         &out,
		refreshWait: time.Second,
	}, driver, &out
}

func TestInteraction_QRRegenerateThenClose(t *testing.T) {
	in, driver, out := newInteraction(t, "", "q")
	driver.attempt.QRCode = "first-code"
	driver.onConnect = func() { driver.emit(connect.PhaseConnecting, connect.PhaseAwaitingQR) }

	err := in.run(context.Background(), backend.WhatsApp)

	require.NoError(t, err)
	assert.Equal(t, 1, driver.regenerated)
	assert.True(t, driver.closedQR)
	assert.Equal(t, 2, strings.Count(out.String(), "Scan the code with whatsapp"))
}

func TestInteraction_SMSFlow(t *testing.T) {
	in, driver, out := newInteraction(t, "", "+15550100", "000000", "123456")
	driver.onConnect = func() { driver.emit(connect.PhaseConnecting, connect.PhaseAwaitingPhoneInput) }
	driver.onPhone = func(phone string) error {
		if phone == "" {
			return errors.WithHint(errors.New("phone number is required"), "Enter the phone number of the account.")
		}
		driver.emit(connect.PhaseAwaitingSMSCode)
		return nil
	}
	driver.onCode = func(code string) error {
		if code != "123456" {
			err := norberterror.NewSMSError("verify", errors.New("invalid code"))
			driver.obs.Notice(connect.Notice{Kind: connect.NoticeError, Message: "Invalid code.", Err: err})
			driver.emit(connect.PhaseAwaitingSMSCode)
			return err
		}
		priority := 1
		driver.obs.ChannelsRefreshed([]backend.Channel{{ID: "c1", ChannelType: "whatsapp", Status: backend.StatusConnected, Priority: &priority}})
		driver.emit(connect.PhaseConnected)
		return nil
	}

	err := in.run(context.Background(), backend.WhatsApp)

	require.NoError(t, err)
	assert.Equal(t, []string{"", "+15550100"}, driver.phones)
	assert.Equal(t, []string{"000000", "123456"}, driver.codes)
	text := out.String()
	assert.Contains(t, text, "Enter the phone number of the account.")
	assert.Contains(t, text, "[error] Invalid code.")
	assert.Contains(t, text, "whatsapp connected.")
	assert.Contains(t, text, "PRIORITY")
	assert.Contains(t, text, "c1")
}

func TestInteraction_ConnectErrorIsReturned(t *testing.T) {
	in, driver, _ := newInteraction(t)
	driver.connectErr = norberterror.NewConnectError("gmail", errors.New("boom"))

	err := in.run(context.Background(), backend.Gmail)

	require.Error(t, err)
	assert.Equal(t, driver.connectErr, err)
}

func TestInteraction_IdleAfterFailedNotice(t *testing.T) {
	in, driver, _ := newInteraction(t)
	driver.onConnect = func() {
		driver.emit(connect.PhaseConnecting, connect.PhaseAwaitingOAuthPopup)
		driver.obs.Notice(connect.Notice{Kind: connect.NoticeError, Message: "failed", Err: errors.New("boom")})
		driver.emit(connect.PhaseIdle)
	}

	err := in.run(context.Background(), backend.Gmail)

	assert.ErrorIs(t, err, errNotConnected)
}

func TestInteraction_ManualSetupEndsQuietly(t *testing.T) {
	in, driver, out := newInteraction(t)
	driver.onConnect = func() {
		driver.emit(connect.PhaseConnecting, connect.PhaseManualSetupRequired)
		driver.obs.Notice(connect.Notice{Kind: connect.NoticeWarning, Message: "Contact support to finish setup."})
		driver.emit(connect.PhaseIdle)
	}

	err := in.run(context.Background(), backend.Instagram)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "[warning] Contact support to finish setup.")
}

func TestInteraction_InputEndsCancelsAttempt(t *testing.T) {
	in, driver, _ := newInteraction(t)
	driver.onConnect = func() { driver.emit(connect.PhaseConnecting, connect.PhaseAwaitingPhoneInput) }

	err := in.run(context.Background(), backend.WhatsApp)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errNotConnected))
	assert.True(t, driver.cancelled)
}

func TestInteraction_ContextCancelled(t *testing.T) {
	var out bytes.Buffer
	obs := newTerminalObserver(&out, nil)
	driver := &fakeDriver{obs: obs}
	driver.onConnect = func() { driver.emit(connect.PhaseConnecting, connect.PhaseAwaitingOAuthPopup) }
	in := &interaction{orch: driver, obs: obs, lines: make(chan string), out: &out, refreshWait: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for len(obs.phases) > 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	err := in.run(ctx, backend.Gmail)

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, driver.cancelled)
	assert.Contains(t, out.String(), "Cancelled.")
}

func TestRenderQR(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, renderQR(&out, "2@abc,def,ghi"))
	assert.NotEmpty(t, out.String())

	assert.Error(t, renderQR(&out, ""))
}

func TestReadFirstLine(t *testing.T) {
	got, err := readFirstLine(strings.NewReader("  tok-123  \nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "tok-123", got)

	got, err = readFirstLine(strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", got)

	_, err = readFirstLine(strings.NewReader("\n"))
	require.Error(t, err)
	assert.Contains(t, errors.FlattenHints(err), "--token")
}

func TestPrintChannels(t *testing.T) {
	var out bytes.Buffer
	printChannels(&out, nil)
	assert.Equal(t, "No linked channels.\n", out.String())

	out.Reset()
	account := "me@example.com"
	printChannels(&out, []backend.Channel{
		{ID: "c2", ChannelType: "email", Status: backend.StatusConnected, ExternalAccountID: &account},
	})
	assert.Contains(t, out.String(), "me@example.com")
	assert.Contains(t, out.String(), "email")
	assert.Contains(t, out.String(), "-")
}

func TestTerminalObserver_KeepsLatestChannels(t *testing.T) {
	obs := newTerminalObserver(&bytes.Buffer{}, nil)
	obs.ChannelsRefreshed([]backend.Channel{{ID: "old"}})
	obs.ChannelsRefreshed([]backend.Channel{{ID: "new"}})

	got := <-obs.channels
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}

// file: cmd/norbert/connect.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/backend"
	"github.com/dkoosis/norbert/internal/browser"
	"github.com/dkoosis/norbert/internal/callback"
	"github.com/dkoosis/norbert/internal/clock"
	"github.com/dkoosis/norbert/internal/connect"
	"github.com/dkoosis/norbert/internal/fsm"
	"github.com/dkoosis/norbert/internal/logging"
	"github.com/dkoosis/norbert/internal/metrics"
	"github.com/dkoosis/norbert/internal/norberterror"
	"github.com/dkoosis/norbert/internal/popup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var errNotConnected = errors.New("the account was not connected")

func connectCmd() *cobra.Command {
	var serveCallbacks bool
	cmd := &cobra.Command{
		Use:   "connect <provider>",
		Short: "Link a provider account",
		Long: `Link a provider account to the backend.

Supported providers: whatsapp, gmail, outlook, instagram, facebook.

Examples:
  norbert connect whatsapp
  norbert connect gmail --listen`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: providerNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd, args[0], serveCallbacks)
		},
	}
	cmd.Flags().BoolVar(&serveCallbacks, "listen", false, "Serve the OAuth callback page while connecting so the popup closes as soon as the provider redirects.")
	return cmd
}

func providerNames() []string {
	var names []string
	for _, p := range backend.Providers() {
		names = append(names, string(p))
	}
	return names
}

func runConnect(cmd *cobra.Command, providerArg string, serveCallbacks bool) error {
	provider, err := backend.ParseProvider(providerArg)
	if err != nil {
		return errors.WithHint(err, "Supported providers: "+strings.Join(providerNames(), ", "))
	}

	a, err := newApp("connect")
	if err != nil {
		return err
	}
	cfg := a.cfg

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, _, err := a.session()
	if err != nil {
		return err
	}
	client, cleanup, err := a.backendClient(ctx, session)
	if err != nil {
		return err
	}
	defer cleanup()

	collector := metrics.NewCollector(prometheus.NewRegistry(), 0)

	opener := browser.NewOpener(cfg.Browser, logging.GetLogger("browser"))
	defer func() {
		if err := opener.Close(); err != nil {
			a.logger.Warn("Browser shutdown failed.", "error", err)
		}
	}()
	manager := popup.NewManager(opener, clock.Real(), cfg.Popup, logging.GetLogger("popup"))

	out := cmd.OutOrStdout()
	obs := newTerminalObserver(out, logging.GetLogger("terminal"))
	orch, err := connect.New(connect.Config{
		Backend: client,
		Popups:  manager,
		Options: connect.Options{
			PollInterval:        cfg.Polling.Interval,
			MaxPolls:            cfg.Polling.MaxAttempts,
			SuccessRefreshDelay: cfg.Polling.SuccessRefreshDelay,
		},
		Observer: obs,
		Recorder: collector,
		Logger:   logging.GetLogger("connect"),
	})
	if err != nil {
		return err
	}
	defer orch.Close()

	if serveCallbacks || cfg.Callback.Listen {
		broker := callback.NewBroker(0, logging.GetLogger("callback"))
		defer broker.Close()
		srv, err := startCallbackServer(cfg.Callback.Addr, cfg.Callback.Path, cfg.Callback.CloseDelay, broker, collector, a.logger)
		if err != nil {
			return err
		}
		defer shutdownServer(srv, 5*time.Second, a.logger)
		orch.WatchCallbacks(ctx, broker)
	}

	in := &interaction{
		orch:        orch,
		obs:         obs,
		lines:       readLines(cmd.InOrStdin()),
		out:         out,
		refreshWait: cfg.Polling.SuccessRefreshDelay + cfg.Backend.Timeout,
	}
	err = in.run(ctx, provider)

	snap := collector.Snapshot()
	a.logger.Debug("Connect finished.", "provider", provider, "errors", len(snap.LastErrors), "error", err)
	return err
}

// startCallbackServer serves the callback page on addr in the background.
func startCallbackServer(addr, path string, closeDelay time.Duration, broker *callback.Broker, observer callback.Observer, logger logging.Logger) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle(path, callback.NewHandler(callback.HandlerOptions{CloseDelay: closeDelay}, broker, observer, logging.GetLogger("callback")))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen for OAuth callbacks on %s", addr)
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Callback server failed.", "error", err)
		}
	}()
	logger.Info("Serving OAuth callback page.", "addr", addr, "path", path)
	return srv, nil
}

// connectDriver is the part of the orchestrator the interactive loop uses.
type connectDriver interface {
	Connect(ctx context.Context, p backend.Provider) error
	RegenerateQR(ctx context.Context) error
	CloseQR() error
	SubmitPhone(ctx context.Context, phone string) error
	SubmitCode(ctx context.Context, code string) error
	Cancel() error
	Attempt() (connect.Attempt, bool)
}

// interaction walks one attempt through the terminal, prompting when the
// attempt needs input and returning once it settles.
type interaction struct {
	orch        connectDriver
	obs         *terminalObserver
	lines       <-chan string
	out         io.Writer
	refreshWait time.Duration
}

func (in *interaction) run(ctx context.Context, p backend.Provider) error {
	fmt.Fprintf(in.out, "Connecting %s...\n", p)
	if err := in.orch.Connect(ctx, p); err != nil {
		if errors.Is(err, norberterror.ErrAttemptSuperseded) {
			return nil
		}
		return err
	}

	for {
		select {
		case <-ctx.Done():
			if err := in.orch.Cancel(); err == nil {
				fmt.Fprintln(in.out, "Cancelled.")
			}
			return ctx.Err()
		case phase := <-in.obs.phases:
			done, err := in.handle(ctx, phase)
			if done {
				return err
			}
		}
	}
}

// handle reacts to one phase. done reports that the attempt has settled.
func (in *interaction) handle(ctx context.Context, phase fsm.State) (done bool, err error) {
	switch phase {
	case connect.PhaseAwaitingQR:
		return in.qr(ctx)
	case connect.PhaseAwaitingPhoneInput:
		return in.prompt(ctx, "Phone number (international format): ", false, in.orch.SubmitPhone)
	case connect.PhaseAwaitingSMSCode:
		return in.prompt(ctx, "Verification code: ", true, in.orch.SubmitCode)
	case connect.PhaseAwaitingOAuthPopup:
		fmt.Fprintln(in.out, "Finish signing in in the browser window.")
	case connect.PhasePollingChannels:
		fmt.Fprintln(in.out, "Checking for the new channel...")
	case connect.PhaseConnected:
		in.connected(ctx)
		return true, nil
	case connect.PhaseIdle:
		if err := in.obs.takeError(); err != nil {
			return true, errNotConnected
		}
		return true, nil
	default:
	}
	return false, nil
}

func (in *interaction) qr(ctx context.Context) (bool, error) {
	attempt, ok := in.orch.Attempt()
	if !ok {
		return false, nil
	}
	if err := renderQR(in.out, attempt.QRCode); err != nil {
		fmt.Fprintf(in.out, "Could not render the QR code (%v). Raw code:\n%s\n", err, attempt.QRCode)
	}
	fmt.Fprintf(in.out, "Scan the code with %s. Press Enter for a new code or type q to close.\n", attempt.Provider)

	line, err := in.readLine(ctx)
	if err != nil {
		return in.abandon(err)
	}
	if strings.EqualFold(strings.TrimSpace(line), "q") {
		if err := in.orch.CloseQR(); err != nil && !isStale(err) {
			return true, err
		}
		return false, nil
	}
	// A failed request was already reported and leaves the attempt idle.
	_ = in.orch.RegenerateQR(ctx)
	return false, nil
}

// prompt reads a line and submits it until submit succeeds. With
// phaseReports set, a rejected submission re-enters the phase, so the loop
// waits for that instead of prompting again itself.
func (in *interaction) prompt(ctx context.Context, label string, phaseReports bool, submit func(context.Context, string) error) (bool, error) {
	for {
		fmt.Fprint(in.out, label)
		line, err := in.readLine(ctx)
		if err != nil {
			return in.abandon(err)
		}
		err = submit(ctx, line)
		switch {
		case err == nil, isStale(err):
			return false, nil
		case errors.Is(err, norberterror.ErrSMSRejected):
			if phaseReports {
				return false, nil
			}
		default:
			fmt.Fprintf(in.out, "%v\n", err)
			if hint := errors.FlattenHints(err); hint != "" {
				fmt.Fprintln(in.out, hint)
			}
		}
	}
}

func (in *interaction) connected(ctx context.Context) {
	attempt, _ := in.orch.Attempt()
	fmt.Fprintf(in.out, "%s connected.\n", attempt.Provider)

	timer := time.NewTimer(in.refreshWait)
	defer timer.Stop()
	select {
	case channels := <-in.obs.channels:
		printChannels(in.out, channels)
	case <-timer.C:
		fmt.Fprintln(in.out, "Run `norbert channels` to see the updated channel list.")
	case <-ctx.Done():
	}
}

// abandon cancels the attempt after input ended.
func (in *interaction) abandon(err error) (bool, error) {
	_ = in.orch.Cancel()
	if errors.Is(err, io.EOF) {
		return true, errors.WithHint(errNotConnected, "Input ended before the connection finished.")
	}
	return true, err
}

func (in *interaction) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-in.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

// isStale reports errors that mean the attempt moved on while input was pending.
func isStale(err error) bool {
	return errors.Is(err, norberterror.ErrAttemptSuperseded) || errors.Is(err, norberterror.ErrInvalidPhase)
}

// renderQR prints code as a terminal QR code.
func renderQR(out io.Writer, code string) error {
	if code == "" {
		return errors.New("empty QR code")
	}
	q, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return errors.Wrap(err, "encode QR code")
	}
	fmt.Fprint(out, q.ToSmallString(false))
	return nil
}

// readLines feeds lines from r to the returned channel until r ends.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

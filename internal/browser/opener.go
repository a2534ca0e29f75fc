// Package browser opens OAuth popups as real Chrome windows driven over the
// DevTools protocol.
// file: internal/browser/opener.go
package browser

import (
	"context"
	"strconv"
	"sync"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/config"
	"github.com/dkoosis/norbert/internal/logging"
	"github.com/dkoosis/norbert/internal/popup"
)

// Opener implements popup.Opener with one Chrome process shared by every
// window it opens. The browser starts on the first Open.
type Opener struct {
	cfg    config.BrowserConfig
	logger logging.Logger

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

var _ popup.Opener = (*Opener)(nil)

// NewOpener creates an Opener. No browser is started yet.
func NewOpener(cfg config.BrowserConfig, logger logging.Logger) *Opener {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	return &Opener{
		cfg:    cfg,
		logger: logger.WithField("component", "browser_opener"),
	}
}

// AllocatorOptions returns the Chrome flags used for cfg.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", cfg.Headless))
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}
	if cfg.UserDataDir != "" {
		dir, err := config.ExpandPath(cfg.UserDataDir)
		if err != nil {
			dir = cfg.UserDataDir
		}
		opts = append(opts, chromedp.UserDataDir(dir))
	}
	return opts
}

func (o *Opener) ensureBrowser() (context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.browserCtx != nil && o.browserCtx.Err() == nil {
		return o.browserCtx, nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), AllocatorOptions(o.cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		o.logger.Debug("chromedp", "message", format, "args", args)
	}))
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, errors.WithHint(errors.Wrap(err, "start chrome"),
			"Install Chrome or set browser.chrome_path (NORBERT_CHROME_PATH).")
	}
	o.browserCtx = browserCtx
	o.browserCancel = browserCancel
	o.allocCancel = allocCancel
	o.logger.Info("Browser started.", "headless", o.cfg.Headless)
	return browserCtx, nil
}

// Open opens url in a new Chrome window placed by features. The page loads
// in the background; load failures reach the window's error handler.
func (o *Opener) Open(ctx context.Context, url, name, features string) (popup.Window, error) {
	g, err := popup.ParseFeatures(features)
	if err != nil {
		return nil, err
	}
	browserCtx, err := o.ensureBrowser()
	if err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	win := newWindow(tabCtx, tabCancel, name, o.logger)
	chromedp.ListenTarget(tabCtx, win.handleTargetEvent)

	place := chromedp.ActionFunc(func(ctx context.Context) error {
		id, _, err := cdpbrowser.GetWindowForTarget().Do(ctx)
		if err != nil {
			return err
		}
		return cdpbrowser.SetWindowBounds(id, &cdpbrowser.Bounds{
			Left:        int64(g.Left),
			Top:         int64(g.Top),
			Width:       int64(g.Width),
			Height:      int64(g.Height),
			WindowState: cdpbrowser.WindowStateNormal,
		}).Do(ctx)
	})
	if err := runWithCaller(ctx, tabCtx, place); err != nil {
		tabCancel()
		o.logger.Warn("Could not open popup window.", "name", name, "error", err)
		return nil, errors.Wrap(err, "open popup window")
	}

	if c := chromedp.FromContext(tabCtx); c != nil && c.Target != nil {
		win.targetID = c.Target.TargetID
		chromedp.ListenBrowser(tabCtx, win.handleBrowserEvent)
	}

	go func() {
		err := chromedp.Run(tabCtx,
			chromedp.Navigate(url),
			chromedp.Evaluate("window.name = "+strconv.Quote(name), nil),
		)
		if err != nil && tabCtx.Err() == nil {
			win.fail(errors.Wrapf(err, "load %s", url))
		}
	}()

	o.logger.Debug("Popup window opened.", "name", name, "geometry", features)
	return win, nil
}

// Close shuts the browser down. Open starts a new one afterwards.
func (o *Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.browserCtx == nil {
		return nil
	}
	err := chromedp.Cancel(o.browserCtx)
	o.browserCancel()
	o.allocCancel()
	o.browserCtx = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "close browser")
	}
	return nil
}

// runWithCaller runs actions on tabCtx but gives up when the caller's ctx ends.
func runWithCaller(caller, tabCtx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(tabCtx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-caller.Done():
		return caller.Err()
	}
}

func isTargetGone(ev any, id target.ID) bool {
	switch e := ev.(type) {
	case *target.EventTargetDestroyed:
		return e.TargetID == id
	case *target.EventTargetCrashed:
		return e.TargetID == id
	default:
		return false
	}
}

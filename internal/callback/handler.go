// file: internal/callback/handler.go
package callback

import (
	_ "embed" // Required for go:embed.
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/dkoosis/norbert/internal/logging"
)

//go:embed page.html.tmpl
var pageTemplate string

var page = template.Must(template.New("callback").Parse(pageTemplate))

// Observer is notified of every callback hit.
type Observer interface {
	CallbackReceived(connection string)
}

// HandlerOptions configures the callback page.
type HandlerOptions struct {
	// CloseDelay is how long the popup stays open after posting its result.
	CloseDelay time.Duration
	// RedirectPath is where a standalone (non-popup) visit is sent.
	RedirectPath string
	Now          func() time.Time
}

type pageData struct {
	Connection       string
	Provider         string
	Success          bool
	CloseDelayMillis int64
	RedirectURL      string
}

// Handler serves the OAuth callback page.
type Handler struct {
	opts     HandlerOptions
	broker   *Broker
	observer Observer
	logger   logging.Logger
}

// NewHandler creates a Handler publishing to broker. broker and observer may be nil.
func NewHandler(opts HandlerOptions, broker *Broker, observer Observer, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	if opts.CloseDelay <= 0 {
		opts.CloseDelay = time.Second
	}
	if opts.RedirectPath == "" {
		opts.RedirectPath = "/"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		opts:     opts,
		broker:   broker,
		observer: observer,
		logger:   logger.WithField("component", "oauth_callback"),
	}
}

// ParseResult reads connection and provider from a callback query. Any
// connection value other than "success" is treated as failed.
func ParseResult(q url.Values) (connection, provider string) {
	connection = q.Get("connection")
	if connection != ConnectionSuccess {
		connection = ConnectionFailed
	}
	return connection, q.Get("provider")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	connection, provider := ParseResult(r.URL.Query())
	success := connection == ConnectionSuccess
	h.logger.Info("OAuth callback received.", "connection", connection, "provider", provider)

	if h.observer != nil {
		h.observer.CallbackReceived(connection)
	}
	if h.broker != nil {
		h.broker.Publish(Event{
			Connection: connection,
			Provider:   provider,
			Success:    success,
			ReceivedAt: h.opts.Now(),
		})
	}

	redirect := url.Values{}
	redirect.Set("connection", connection)
	redirect.Set("provider", provider)

	data := pageData{
		Connection:       connection,
		Provider:         provider,
		Success:          success,
		CloseDelayMillis: h.opts.CloseDelay.Milliseconds(),
		RedirectURL:      h.opts.RedirectPath + "?" + redirect.Encode(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := page.Execute(w, data); err != nil {
		h.logger.Error("Failed to render callback page.", "error", err)
	}
}

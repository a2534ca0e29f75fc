// file: internal/schema/loader.go
package schema

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/logging"
)

// maxSchemaBytes caps a fetched override document.
const maxSchemaBytes = 4 << 20

// loadSchemaFromURI returns the schema document named by an override URI.
// file:// URIs and bare paths are read from disk; http(s) URIs are fetched.
func loadSchemaFromURI(ctx context.Context, uri string, logger logging.Logger, httpClient *http.Client) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, NewValidationError(ErrSchemaLoadFailed, "invalid schema override URI", err).WithContext("uri", uri)
	}

	switch u.Scheme {
	case "file":
		return readSchemaFile(filepath.FromSlash(u.Path), logger)
	case "":
		return readSchemaFile(uri, logger)
	case "http", "https":
		return fetchSchema(ctx, uri, logger, httpClient)
	default:
		return nil, NewValidationError(ErrSchemaLoadFailed,
			fmt.Sprintf("unsupported schema URI scheme %q", u.Scheme), nil).WithContext("uri", uri)
	}
}

func readSchemaFile(path string, logger logging.Logger) ([]byte, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the config file.
	if err != nil {
		code := ErrSchemaLoadFailed
		if errors.Is(err, os.ErrNotExist) {
			code = ErrSchemaNotFound
		}
		return nil, NewValidationError(code, "failed to read schema file", err).WithContext("path", path)
	}
	logger.Debug("Read schema override.", "path", path, "bytes", len(data))
	return data, nil
}

func fetchSchema(ctx context.Context, uri string, logger logging.Logger, httpClient *http.Client) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, NewValidationError(ErrSchemaLoadFailed, "failed to build schema request", err).WithContext("url", uri)
	}
	req.Header.Set("Accept", "application/schema+json, application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, NewValidationError(ErrSchemaLoadFailed, "failed to fetch schema", err).WithContext("url", uri)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Warn("Error closing schema response body.", "url", uri, "error", cerr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSchemaBytes))
	if err != nil {
		return nil, NewValidationError(ErrSchemaLoadFailed, "failed to read schema response", err).WithContext("url", uri)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewValidationError(ErrSchemaLoadFailed,
			fmt.Sprintf("schema fetch returned HTTP %d", resp.StatusCode), nil).
			WithContext("url", uri).
			WithContext("statusCode", resp.StatusCode).
			WithContext("responseBody", calculatePreview(body))
	}
	logger.Debug("Fetched schema override.", "url", uri, "bytes", len(body))
	return body, nil
}

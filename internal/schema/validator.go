// Package schema validates account-linking backend responses against a JSON
// schema before they are decoded. Each entry under the schema's $defs is
// compiled once and addressed by name.
// file: internal/schema/validator.go
package schema

import (
	"bytes"
	"context"
	_ "embed" // Required for go:embed.
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/config"
	"github.com/dkoosis/norbert/internal/logging"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed backend.schema.json
var embeddedSchemaContent []byte

// Names of the compiled definitions.
const (
	ConnectResponse = "ConnectResponse"
	ChannelList     = "ChannelList"
	ActionResponse  = "ActionResponse"
)

const resourceID = "norbert://backend.schema.json"

// ValidatorInterface is what the backend client needs from a validator.
type ValidatorInterface interface {
	Validate(ctx context.Context, name string, data []byte) error
	HasSchema(name string) bool
	IsInitialized() bool
	Initialize(ctx context.Context) error
	GetLoadDuration() time.Duration
	GetCompileDuration() time.Duration
	GetSchemaVersion() string
	Shutdown() error
}

// Validator compiles the backend schema and validates responses against it.
// It is safe for concurrent use once initialized.
type Validator struct {
	cfg        config.SchemaConfig
	httpClient *http.Client
	logger     logging.Logger

	mu              sync.RWMutex
	schemas         map[string]*jsonschema.Schema
	version         string
	loadDuration    time.Duration
	compileDuration time.Duration
}

var _ ValidatorInterface = (*Validator)(nil)

// NewValidator returns an uninitialized Validator. cfg.SchemaOverrideURI,
// when set, replaces the embedded schema.
func NewValidator(cfg config.SchemaConfig, logger logging.Logger) *Validator {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	return &Validator{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.WithField("component", "schema_validator"),
	}
}

// Initialize loads and compiles the schema. Calling it again is a no-op
// until Shutdown.
func (v *Validator) Initialize(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.schemas != nil {
		return nil
	}

	source := "embedded"
	data := embeddedSchemaContent
	start := time.Now()
	if uri := v.cfg.SchemaOverrideURI; uri != "" {
		source = uri
		var err error
		if data, err = loadSchemaFromURI(ctx, uri, v.logger, v.httpClient); err != nil {
			v.logger.Error("Schema loading failed.", "source", source, "error", err)
			return err
		}
	}
	v.loadDuration = time.Since(start)
	if len(data) == 0 {
		return NewValidationError(ErrSchemaLoadFailed, "schema document is empty", nil).WithContext("source", source)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return NewValidationError(ErrSchemaLoadFailed, "schema document is not valid JSON", err).WithContext("source", source)
	}

	start = time.Now()
	schemas, err := compileDefinitions(doc, data)
	v.compileDuration = time.Since(start)
	if err != nil {
		v.logger.Error("Schema compilation failed.", "source", source, "error", err)
		return err
	}

	v.schemas = schemas
	v.version = detectVersion(doc)
	if v.version == unknownVersion {
		v.logger.Warn("Could not detect schema version.", "source", source)
	}
	v.logger.Debug("Schema validator initialized.",
		"source", source,
		"version", v.version,
		"definitions", len(schemas),
		"loadDuration", v.loadDuration,
		"compileDuration", v.compileDuration)
	return nil
}

// compileDefinitions compiles every entry under $defs with a fresh compiler.
func compileDefinitions(doc map[string]any, data []byte) (map[string]*jsonschema.Schema, error) {
	defs, _ := doc["$defs"].(map[string]any)
	if len(defs) == 0 {
		return nil, NewValidationError(ErrSchemaCompileFailed, "schema has no $defs", nil)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true
	compiler.AssertContent = true
	if err := compiler.AddResource(resourceID, bytes.NewReader(data)); err != nil {
		return nil, NewValidationError(ErrSchemaLoadFailed, "failed to add schema resource", err)
	}

	out := make(map[string]*jsonschema.Schema, len(defs))
	for name := range defs {
		s, err := compiler.Compile(resourceID + "#/$defs/" + name)
		if err != nil {
			e := NewValidationError(ErrSchemaCompileFailed, "failed to compile definition", err)
			e.Schema = name
			return nil, e
		}
		out[name] = s
	}
	return out, nil
}

// Validate checks data against the definition called name.
func (v *Validator) Validate(_ context.Context, name string, data []byte) error {
	v.mu.RLock()
	schemas := v.schemas
	v.mu.RUnlock()
	if schemas == nil {
		return NewValidationError(ErrSchemaNotFound, "schema validator not initialized", nil)
	}
	s, ok := schemas[name]
	if !ok {
		e := NewValidationError(ErrSchemaNotFound, "unknown schema definition", nil).
			WithContext("available", definitionNames(schemas))
		e.Schema = name
		return e
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		e := NewValidationError(ErrInvalidJSONFormat, "backend response is not valid JSON", err).
			WithContext("dataPreview", calculatePreview(data))
		e.Schema = name
		return e
	}

	if err := s.Validate(instance); err != nil {
		var valErr *jsonschema.ValidationError
		if errors.As(err, &valErr) {
			v.logger.Debug("Schema validation failed.", "schema", name, "error", valErr.Message)
			return fromSchemaError(valErr, name, data)
		}
		e := NewValidationError(ErrValidationFailed, "schema validation failed", err)
		e.Schema = name
		return e
	}
	return nil
}

// HasSchema reports whether a definition called name was compiled.
func (v *Validator) HasSchema(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.schemas[name]
	return ok
}

func (v *Validator) IsInitialized() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.schemas != nil
}

func (v *Validator) GetLoadDuration() time.Duration {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loadDuration
}

func (v *Validator) GetCompileDuration() time.Duration {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.compileDuration
}

// GetSchemaVersion returns the version detected at Initialize.
func (v *Validator) GetSchemaVersion() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// Shutdown drops the compiled definitions and idle override connections.
// The validator can be initialized again afterwards.
func (v *Validator) Shutdown() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.httpClient.CloseIdleConnections()
	v.schemas = nil
	v.version = ""
	return nil
}

func definitionNames(schemas map[string]*jsonschema.Schema) []string {
	names := make([]string, 0, len(schemas))
	for k := range schemas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

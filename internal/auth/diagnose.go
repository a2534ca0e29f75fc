// file: internal/auth/diagnose.go
package auth

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/pkg/util/stringutil"
	"github.com/zalando/go-keyring"
)

// DiagnosticResult is the outcome of one keyring probe.
type DiagnosticResult struct {
	Name        string
	Success     bool
	Error       error
	Description string
	Duration    time.Duration
}

const probeUser = "norbert-diagnostic-probe"

// DiagnoseKeyring writes, reads back and deletes a probe entry under
// service. It stops at the first failing step.
func DiagnoseKeyring(service string) []DiagnosticResult {
	if service == "" {
		service = DefaultKeyringService
	}
	value := fmt.Sprintf("probe-%d", time.Now().UnixNano())
	var results []DiagnosticResult

	steps := []struct {
		name string
		desc string
		run  func() error
	}{
		{"Keyring Write", "Stored a probe entry", func() error {
			return keyring.Set(service, probeUser, value)
		}},
		{"Keyring Read", "Read the probe entry back", func() error {
			got, err := keyring.Get(service, probeUser)
			if err != nil {
				return err
			}
			if got != value {
				return errors.Newf("read back %d bytes, want %d", len(got), len(value))
			}
			return nil
		}},
		{"Keyring Delete", "Deleted the probe entry", func() error {
			return keyring.Delete(service, probeUser)
		}},
	}

	for _, step := range steps {
		start := time.Now()
		err := step.run()
		r := DiagnosticResult{Name: step.name, Success: err == nil, Error: err, Description: step.desc, Duration: time.Since(start)}
		if err != nil {
			r.Description = "Failed: " + step.desc
		}
		results = append(results, r)
		if err != nil {
			break
		}
	}
	return results
}

// FormatDiagnosticResult renders one result as a status line.
func FormatDiagnosticResult(result DiagnosticResult) string {
	status := "PASS"
	icon := "✅"
	detail := result.Description
	if !result.Success {
		status = "FAIL"
		icon = "❌"
		if result.Error != nil {
			const maxErrLen = 50
			detail = fmt.Sprintf("%s - %s", result.Description, stringutil.TruncateString(result.Error.Error(), maxErrLen))
		}
	}
	return fmt.Sprintf("%s %-20s %s (%s)", icon, result.Name+"...", status, detail)
}

// file: internal/schema/version.go
package schema

import "strings"

const unknownVersion = "[unknown]"

// detectVersion reads the top-level "version" field, falling back to the
// draft named by $schema.
func detectVersion(doc map[string]any) string {
	if version, ok := doc["version"].(string); ok && version != "" {
		return version
	}
	draft, _ := doc["$schema"].(string)
	switch {
	case strings.Contains(draft, "2020-12"):
		return "draft-2020-12"
	case strings.Contains(draft, "draft-07"):
		return "draft-07"
	default:
		return unknownVersion
	}
}

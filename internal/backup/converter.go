// Copyright 2025 James Ross
package backup

import (
	"fmt"

	"github.com/kgraph/controlplane/internal/apierr"
)

// converter upgrades a Container from one schema_version to the next. The
// chain is applied repeatedly until the container reaches
// CurrentSchemaVersion, so each converter only needs to know about its own
// immediate predecessor (spec.md §7 "per-schema-version converter chain").
type converter func(Container) (Container, error)

// converters is keyed by the schema_version a converter upgrades FROM.
// Registering here is how a future schema bump adds a migration step
// without touching Restore's control flow.
var converters = map[int]converter{}

// RegisterConverter adds an upgrade step from schemaVersion to
// schemaVersion+1. Intended for call from an init() in a future
// schema-bump changeset, not from steady-state code.
func RegisterConverter(schemaVersion int, fn converter) {
	converters[schemaVersion] = fn
}

// Upgrade walks c forward through the converter chain to
// CurrentSchemaVersion, or fails with Unprocessable if c is newer than
// this build understands (spec.md §7).
func Upgrade(c Container) (Container, error) {
	if c.SchemaVersion > CurrentSchemaVersion {
		return Container{}, apierr.Unprocessable("backup_schema_too_new",
			fmt.Sprintf("backup schema_version %d is newer than this build's %d", c.SchemaVersion, CurrentSchemaVersion))
	}
	for c.SchemaVersion < CurrentSchemaVersion {
		up, ok := converters[c.SchemaVersion]
		if !ok {
			return Container{}, apierr.Unprocessable("backup_schema_no_converter",
				fmt.Sprintf("no converter registered from schema_version %d", c.SchemaVersion))
		}
		upgraded, err := up(c)
		if err != nil {
			return Container{}, apierr.Unprocessable("backup_schema_conversion_failed", err.Error())
		}
		upgraded.SchemaVersion = c.SchemaVersion + 1
		c = upgraded
	}
	return c, nil
}

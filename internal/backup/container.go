// Copyright 2025 James Ross
// Package backup implements the self-describing backup container
// (spec.md §6.9) and the schema-version converter chain spec.md §7
// ("incompatible schema version" is an Unprocessable error) requires.
package backup

import (
	"context"

	"github.com/kgraph/controlplane/internal/apierr"
	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/graph"
)

// CurrentSchemaVersion is the schema_version this build writes and the
// newest version its converter chain upgrades old containers to.
const CurrentSchemaVersion = 1

// Type distinguishes a full graph dump from a partial one (e.g. the
// Checkpoint Guard's pre-op snapshot).
type Type string

const (
	TypeFull    Type = "full_backup"
	TypePartial Type = "partial_backup"
)

// Statistics summarizes a container's payload for display without
// deserializing the full data block.
type Statistics struct {
	ConceptCount      int `json:"concept_count"`
	SourceCount       int `json:"source_count"`
	InstanceCount     int `json:"instance_count"`
	RelationshipCount int `json:"relationship_count"`
	DocumentCount     int `json:"document_count"`
	OntologyCount     int `json:"ontology_count"`
}

// Container is the backup wire format (spec.md §6.9).
type Container struct {
	Version       string             `json:"version"`
	SchemaVersion int                `json:"schema_version"`
	Type          Type               `json:"type"`
	Timestamp     clock.Instant      `json:"timestamp"`
	Data          graph.BackupData   `json:"data"`
	Statistics    Statistics         `json:"statistics"`
}

// Create exports the current graph state into a new Container (spec.md
// §6.9; used by both `POST /admin/backup` and the Checkpoint Guard).
func Create(ctx context.Context, facade graph.Facade, clk clock.Clock, typ Type) (Container, error) {
	data, err := facade.Export(ctx)
	if err != nil {
		return Container{}, apierr.Unexpected(err)
	}
	return Container{
		Version:       "1.0",
		SchemaVersion: CurrentSchemaVersion,
		Type:          typ,
		Timestamp:     clk.Now(),
		Data:          data,
		Statistics:    statisticsFor(data),
	}, nil
}

func statisticsFor(data graph.BackupData) Statistics {
	return Statistics{
		ConceptCount:      len(data.Concepts),
		SourceCount:       len(data.Sources),
		InstanceCount:     len(data.Instances),
		RelationshipCount: len(data.Relationships),
		DocumentCount:     len(data.DocumentMeta),
		OntologyCount:     len(data.Ontologies),
	}
}

// Restore imports a Container's data into facade after upgrading it to
// CurrentSchemaVersion via the converter chain (spec.md §7
// "Unprocessable (422): ... incompatible schema version").
func Restore(ctx context.Context, facade graph.Facade, c Container, replace bool) error {
	upgraded, err := Upgrade(c)
	if err != nil {
		return err
	}
	if err := facade.Import(ctx, upgraded.Data, replace); err != nil {
		return apierr.Unexpected(err)
	}
	return nil
}

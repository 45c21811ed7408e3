// Package schema declares the field sets shared by every canalworks table.
// The store derives its audit columns from these descriptors.
package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/mixin"
)

// Audit sources.
const (
	SourceUser      = "user"
	SourceImport    = "import"
	SourceSystem    = "system"
	SourceMigration = "migration"
)

// AuditMixin provides the audit fields written alongside every work
// package, dependent record and hierarchy node.
type AuditMixin struct {
	mixin.Schema
}

// Fields of the AuditMixin.
func (AuditMixin) Fields() []ent.Field {
	return []ent.Field{
		field.Time("created_at").
			Default(time.Now).
			Immutable().
			Comment("When the row was created"),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now).
			Comment("When the row was last updated"),
		field.String("created_by").
			NotEmpty().
			Comment("Actor who created the row, or 'system'"),
		field.String("updated_by").
			NotEmpty().
			Comment("Actor who last updated the row, or 'system'"),
		field.Enum("source").
			Values(SourceUser, SourceImport, SourceSystem, SourceMigration).
			Comment("Origin of the change"),
		field.String("correlation_id").
			Optional().
			Nillable().
			Comment("Links the rows written by one submission"),
	}
}

// AuditColumns returns the names of the audit fields in declaration order.
func AuditColumns() []string {
	fields := AuditMixin{}.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Descriptor().Name
	}
	return names
}

// ValidSource reports whether s is an accepted audit source.
func ValidSource(s string) bool {
	switch s {
	case SourceUser, SourceImport, SourceSystem, SourceMigration:
		return true
	}
	return false
}

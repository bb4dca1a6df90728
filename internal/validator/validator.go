// Package validator checks cforge output against its CUE contract before
// anything is written. A violation means a selection, corpus or tagging
// bug upstream; callers abort the unit rather than emit bad data.
package validator

import (
	"embed"
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaFS embed.FS

const (
	RecordDef   = "#Record"
	TagTableDef = "#TagTable"
	TablesDef   = "#Tables"
)

// Validator holds the compiled schema. A cue.Context is not safe for
// concurrent use, so callers either give each goroutine its own Validator
// or serialize access.
type Validator struct {
	ctx    *cue.Context
	schema cue.Value
}

// New compiles the embedded schema.
func New() (*Validator, error) {
	ctx := cuecontext.New()

	schemaBytes, err := schemaFS.ReadFile("schema.cue")
	if err != nil {
		return nil, fmt.Errorf("loading embedded schema: %w", err)
	}

	schema := ctx.CompileBytes(schemaBytes, cue.Filename("schema.cue"))
	if schema.Err() != nil {
		return nil, fmt.Errorf("compiling schema: %w", schema.Err())
	}

	return &Validator{
		ctx:    ctx,
		schema: schema,
	}, nil
}

// ValidateRecord checks one corpus record.
func (v *Validator) ValidateRecord(record any) error {
	return v.validate(record, RecordDef)
}

// ValidateTables checks a relational corpus snapshot.
func (v *Validator) ValidateTables(tables any) error {
	return v.validate(tables, TablesDef)
}

// ValidateTagTable checks a tag table. Beyond the schema, ids must match
// their position so the table is exactly 0..N.
func (v *Validator) ValidateTagTable(table any) error {
	jsonBytes, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("marshaling tag table to JSON: %w", err)
	}
	if err := v.ValidateJSON(jsonBytes, TagTableDef); err != nil {
		return err
	}

	var ids []struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(jsonBytes, &ids); err != nil {
		return fmt.Errorf("reading tag ids: %w", err)
	}
	for i, tag := range ids {
		if tag.ID != i {
			return fmt.Errorf("schema validation failed: tag at index %d has id %d", i, tag.ID)
		}
	}
	return nil
}

func (v *Validator) validate(data any, def string) error {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling data to JSON: %w", err)
	}
	return v.ValidateJSON(jsonBytes, def)
}

// ValidateJSON validates JSON bytes against the named definition.
func (v *Validator) ValidateJSON(jsonBytes []byte, def string) error {
	unified, err := v.unify(jsonBytes, def)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", def, err)
	}
	return nil
}

// ValidationErrors lists every violation of def instead of only the first.
func (v *Validator) ValidationErrors(data any, def string) []string {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return []string{fmt.Sprintf("marshal error: %v", err)}
	}
	unified, err := v.unify(jsonBytes, def)
	if err != nil {
		return []string{err.Error()}
	}
	err = unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs []string
	for _, e := range errors.Errors(err) {
		errs = append(errs, e.Error())
	}
	return errs
}

func (v *Validator) unify(jsonBytes []byte, def string) (cue.Value, error) {
	dataValue := v.ctx.CompileBytes(jsonBytes)
	if dataValue.Err() != nil {
		return cue.Value{}, fmt.Errorf("compiling data as CUE: %w", dataValue.Err())
	}

	defValue := v.schema.LookupPath(cue.ParsePath(def))
	// A definition with comprehensions over unset fields reports an
	// incomplete error on its own; only a missing definition is fatal here.
	if !defValue.Exists() {
		return cue.Value{}, fmt.Errorf("schema definition %s not found", def)
	}

	return defValue.Unify(dataValue), nil
}

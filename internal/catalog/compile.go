package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// schema constrains every entry under `operations`. Defaults live here so
// catalog files only spell out what differs.
const schema = `
#Operation: {
	apply:       "upsert" | "patch" | "remove" | "upsertMany" | "none"
	policy:      *"coalesce" | "supersede"
	keyField:    *"id" | string
	description: *"" | string
}
`

// CompileError reports a catalog problem, with a CUE position when known.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileString compiles catalog source. filename is used in positions.
//
// Expected shape:
//
//	operations: {
//		fetchEntity: { apply: "upsert" }
//		updateEntity: { apply: "patch", policy: "supersede" }
//	}
func CompileString(filename, src string) (*Catalog, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	return Compile(v)
}

// LoadFile reads and compiles a single .cue file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return CompileString(filepath.Base(path), string(data))
}

// LoadDir loads the CUE package in dir (all of its .cue files unified) and
// compiles it.
func LoadDir(dir string) (*Catalog, error) {
	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("load catalog %s: no CUE instances", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", dir, inst.Err)
	}
	return Compile(ctx.BuildInstance(inst))
}

// Load compiles path as a directory package or a single file.
func Load(path string) (*Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadFile(path)
}

// Compile converts a CUE value holding an `operations` struct into a Catalog.
func Compile(v cue.Value) (*Catalog, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	opsVal := v.LookupPath(cue.ParsePath("operations"))
	if !opsVal.Exists() {
		return nil, &CompileError{Field: "operations", Message: "operations is required", Pos: v.Pos()}
	}

	def := v.Context().CompileString(schema).LookupPath(cue.ParsePath("#Operation"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("catalog schema: %w", err)
	}

	iter, err := opsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var kinds []Kind
	for iter.Next() {
		name := iter.Label()
		op := iter.Value().Unify(def)
		if err := op.Validate(cue.Concrete(true)); err != nil {
			return nil, formatCUEError(err)
		}

		k := Kind{Name: name}
		if k.Apply, err = stringField[ApplyMode](op, "apply"); err != nil {
			return nil, err
		}
		if k.Policy, err = stringField[Policy](op, "policy"); err != nil {
			return nil, err
		}
		if k.KeyField, err = stringField[string](op, "keyField"); err != nil {
			return nil, err
		}
		if k.Description, err = stringField[string](op, "description"); err != nil {
			return nil, err
		}
		if k.Apply != ApplyUpsertMany {
			k.KeyField = ""
		}
		kinds = append(kinds, k)
	}

	c, err := New(kinds...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func stringField[T ~string](v cue.Value, field string) (T, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if d, ok := fv.Default(); ok {
		fv = d
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return T(s), nil
}

// formatCUEError keeps the first CUE error together with its position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}

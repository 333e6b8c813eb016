package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// CUEParser decodes CUE deployment files, checking them against the
// built-in #Deployment schema first.
type CUEParser struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	schema := ctx.CompileString(deploymentSchema, cue.Filename("schema.cue"))
	return &CUEParser{
		ctx:    ctx,
		schema: schema.LookupPath(cue.ParsePath("#Deployment")),
	}
}

// Parse compiles content, unifies it with the schema and decodes it. The
// deployment may sit at the top level or under a "deployment" field.
func (cp *CUEParser) Parse(file string, content []byte) (*DeploymentConfig, error) {
	if err := cp.schema.Err(); err != nil {
		return nil, fmt.Errorf("built-in schema does not compile: %w", err)
	}

	val := cp.ctx.CompileBytes(content, cue.Filename(file))
	if err := val.Err(); err != nil {
		return nil, cp.convertCUEErrors(err)
	}

	if nested := val.LookupPath(cue.ParsePath("deployment")); nested.Exists() {
		val = nested
	}

	unified := cp.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cp.convertCUEErrors(err)
	}

	var cfg DeploymentConfig
	if err := unified.Decode(&cfg); err != nil {
		return nil, ValidationErrors{{File: file, Message: fmt.Sprintf("failed to decode deployment: %v", err)}}
	}
	return &cfg, nil
}

// convertCUEErrors converts CUE errors to positioned validation errors.
func (cp *CUEParser) convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}

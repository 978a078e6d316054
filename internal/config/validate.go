package config

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// Validation error codes (E200-E299)
const (
	ErrSchema          = "E200" // document does not match the schema
	ErrDuplicateNode   = "E201" // node name used twice
	ErrDuplicateGroup  = "E202" // group name used twice
	ErrUnknownMember   = "E203" // group member is not a configured node
	ErrDuplicateMember = "E204" // node listed twice in one group
	ErrUnknownGroup    = "E205" // memberOf or mutexGroup names no group
	ErrNotInGroup      = "E206" // memberOf or mutexGroup lists a group without the node
	ErrBadAction       = "E207" // unknown rule action
	ErrDuplicateAddr   = "E208" // two nodes share an address
)

// ValidationError is one configuration problem.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("invalid configuration (%d errors): %s", len(es), strings.Join(msgs, "; "))
}

//go:embed schema.cue
var schemaSource string

var (
	schemaMu   sync.Mutex // cue.Context is not safe for concurrent use
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		schemaDef = v.LookupPath(cue.ParsePath("#Config"))
		schemaErr = schemaDef.Err()
	})
	return schemaCtx, schemaDef, schemaErr
}

// validateSchema checks the raw document against the embedded CUE schema.
func validateSchema(data []byte) ValidationErrors {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	ctx, schema, err := loadSchema()
	if err != nil {
		return ValidationErrors{{Field: "schema", Message: err.Error(), Code: ErrSchema}}
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ValidationErrors{{Field: "document", Message: err.Error(), Code: ErrSchema}}
	}
	if doc == nil {
		doc = map[string]any{}
	}

	v := schema.Unify(ctx.Encode(doc))
	err = v.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		field := strings.Join(e.Path(), ".")
		if field == "" {
			field = "document"
		}
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: ErrSchema})
	}
	return errs
}

// validateSemantics checks cross references the schema cannot express.
func validateSemantics(f *File) ValidationErrors {
	var errs ValidationErrors
	add := func(code, field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	nodes := make(map[string]bool, len(f.Configuration))
	addrs := make(map[string]string, len(f.Configuration))
	for i, n := range f.Configuration {
		field := fmt.Sprintf("configuration[%d]", i)
		if nodes[n.Name] {
			add(ErrDuplicateNode, field+".name", "node %q is defined more than once", n.Name)
		}
		nodes[n.Name] = true
		if other, ok := addrs[n.Addr()]; ok {
			add(ErrDuplicateAddr, field+".port", "address %s is also used by %q", n.Addr(), other)
		} else {
			addrs[n.Addr()] = n.Name
		}
	}

	groups := make(map[string][]string, len(f.Groups))
	for i, g := range f.Groups {
		field := fmt.Sprintf("groups[%d]", i)
		if _, dup := groups[g.Name]; dup {
			add(ErrDuplicateGroup, field+".name", "group %q is defined more than once", g.Name)
		}
		groups[g.Name] = g.Members
		seen := make(map[string]bool, len(g.Members))
		for j, m := range g.Members {
			if !nodes[m] {
				add(ErrUnknownMember, fmt.Sprintf("%s.members[%d]", field, j), "%q is not a configured node", m)
			}
			if seen[m] {
				add(ErrDuplicateMember, fmt.Sprintf("%s.members[%d]", field, j), "%q is listed more than once", m)
			}
			seen[m] = true
		}
	}

	for i, n := range f.Configuration {
		field := fmt.Sprintf("configuration[%d]", i)
		for j, g := range n.MemberOf {
			members, ok := groups[g]
			switch {
			case !ok:
				add(ErrUnknownGroup, fmt.Sprintf("%s.memberOf[%d]", field, j), "group %q is not defined", g)
			case !slices.Contains(members, n.Name):
				add(ErrNotInGroup, fmt.Sprintf("%s.memberOf[%d]", field, j), "group %q does not list %q", g, n.Name)
			}
		}
		if n.MutexGroup != "" {
			members, ok := groups[n.MutexGroup]
			switch {
			case !ok:
				add(ErrUnknownGroup, field+".mutexGroup", "group %q is not defined", n.MutexGroup)
			case !slices.Contains(members, n.Name):
				add(ErrNotInGroup, field+".mutexGroup", "group %q does not list %q", n.MutexGroup, n.Name)
			}
		}
	}
	return errs
}

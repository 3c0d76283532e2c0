package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/typeexpr"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/comalice/hsmkit/internal/primitives"
)

// ParseStmt parses one action statement:
//
//	field = <expr>
//	raise EVENT
//	send EVENT to INSTANCE
//	log "message"
func ParseStmt(src string, loc primitives.Location) (primitives.Stmt, error) {
	s := strings.TrimSpace(src)
	word, rest, _ := strings.Cut(s, " ")
	rest = strings.TrimSpace(rest)
	switch word {
	case "raise":
		if !hclsyntax.ValidIdentifier(rest) {
			return nil, fmt.Errorf("%s: raise needs an event name, got %q", loc, rest)
		}
		return primitives.Raise{Event: rest}, nil
	case "send":
		ev, target, ok := strings.Cut(rest, " to ")
		ev, target = strings.TrimSpace(ev), strings.TrimSpace(target)
		if !ok || !hclsyntax.ValidIdentifier(ev) || target == "" {
			return nil, fmt.Errorf("%s: expected \"send EVENT to INSTANCE\", got %q", loc, s)
		}
		return primitives.Send{Event: ev, Target: target}, nil
	case "log":
		msg := rest
		if strings.HasPrefix(rest, `"`) {
			var err error
			if msg, err = strconv.Unquote(rest); err != nil {
				return nil, fmt.Errorf("%s: log message: %w", loc, err)
			}
		}
		return primitives.Log{Message: msg}, nil
	}

	i := strings.IndexByte(s, '=')
	if i <= 0 || i+1 < len(s) && s[i+1] == '=' {
		return nil, fmt.Errorf("%s: unrecognized statement %q", loc, s)
	}
	field := strings.TrimSpace(s[:i])
	if !hclsyntax.ValidIdentifier(field) || field == EventRoot {
		return nil, fmt.Errorf("%s: cannot assign to %q", loc, field)
	}
	value, err := Parse(s[i+1:], loc)
	if err != nil {
		return nil, err
	}
	return primitives.Assign{Field: field, Value: value}, nil
}

// ParseType parses a type constraint such as "number" or "list(string)".
func ParseType(src string, loc primitives.Location) (cty.Type, error) {
	start := hcl.Pos{Line: max(loc.Line, 1), Column: max(loc.Column, 1)}
	node, diags := hclsyntax.ParseExpression([]byte(src), loc.File, start)
	if diags.HasErrors() {
		return cty.NilType, fmt.Errorf("parse type %q: %w", src, diags)
	}
	ty, diags := typeexpr.Type(node)
	if diags.HasErrors() {
		return cty.NilType, fmt.Errorf("type %q: %w", src, diags)
	}
	return ty, nil
}

package plan

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filter selects plan actions with a boolean expression over the fields
// kind, name, type, category, action and reason, for example
// `kind == "channel" && type == "forum"`.
type Filter struct {
	Source  string
	program *vm.Program
}

func filterEnv(a Action) map[string]interface{} {
	return map[string]interface{}{
		"kind":     string(a.Kind),
		"name":     a.Name,
		"type":     a.Type,
		"category": a.Category,
		"action":   string(a.Action),
		"reason":   a.Reason,
	}
}

// CompileFilter validates and compiles a filter expression.
func CompileFilter(source string) (*Filter, error) {
	if source == "" {
		return nil, fmt.Errorf("empty expression")
	}
	program, err := expr.Compile(source, expr.Env(filterEnv(Action{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("expression compile error: %w", err)
	}
	return &Filter{Source: source, program: program}, nil
}

// Match evaluates the filter against one action.
func (f *Filter) Match(a Action) (bool, error) {
	out, err := expr.Run(f.program, filterEnv(a))
	if err != nil {
		return false, fmt.Errorf("expression eval error: %w", err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// Apply returns a copy of p holding only the matching actions. A nil
// filter returns p unchanged.
func (f *Filter) Apply(p *Plan) (*Plan, error) {
	if f == nil {
		return p, nil
	}
	out := &Plan{GuildID: p.GuildID}
	for _, a := range p.Actions {
		ok, err := f.Match(a)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Actions = append(out.Actions, a)
			if a.Pending() {
				out.HasChanges = true
			}
		}
	}
	return out, nil
}

package internal

import (
	"encoding/json"
	"log"

	"github.com/Knetic/govaluate"
)

// ExclusionRule drops an inbound event before extraction when its expression
// evaluates to true against the flattened callback payload. Nested keys use
// govaluate's bracket syntax, e.g. `[event.bot_id] != ""`.
//
// No rules are configured by default: bot-originated messages are processed
// like any other. Operators who want the old bot exclusion back add a single
// rule for it in config.
type ExclusionRule struct {
	Name string `yaml:"name"`
	When string `yaml:"when"`
}

type compiledExclusion struct {
	name string
	expr *govaluate.EvaluableExpression
}

type ExclusionEngine struct {
	rules  []compiledExclusion
	logger *log.Logger
}

func NewExclusionEngine(rules []ExclusionRule, logger *log.Logger) (*ExclusionEngine, error) {
	if logger == nil {
		logger = log.Default()
	}
	compiled := make([]compiledExclusion, 0, len(rules))
	for _, rule := range rules {
		expr, err := govaluate.NewEvaluableExpression(rule.When)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledExclusion{name: rule.Name, expr: expr})
	}
	return &ExclusionEngine{rules: compiled, logger: logger}, nil
}

// Empty reports whether the engine has no rules to evaluate.
func (x *ExclusionEngine) Empty() bool {
	return x == nil || len(x.rules) == 0
}

// Excluded evaluates every rule against the flattened payload and returns
// the name of the first match. Evaluation errors (typically missing keys)
// count as no-match, so rules referencing optional fields are safe.
func (x *ExclusionEngine) Excluded(payload map[string]interface{}) (string, bool) {
	if x.Empty() {
		return "", false
	}
	params := Flatten(payload)
	for _, rule := range x.rules {
		result, err := rule.expr.Evaluate(params)
		if err != nil {
			continue
		}
		if matched, _ := result.(bool); matched {
			return rule.name, true
		}
	}
	return "", false
}

// ExcludedRaw is Excluded over an undecoded JSON body. Bodies that do not
// decode to an object never match.
func (x *ExclusionEngine) ExcludedRaw(raw []byte) (string, bool) {
	if x.Empty() {
		return "", false
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		x.logger.Printf("exclusion decode failed: %v", err)
		return "", false
	}
	return x.Excluded(payload)
}

package validation

import (
	"fmt"

	"github.com/rendis/rulekit/pkg/schema"
)

// validateSemantic performs the checks JSON Schema cannot express:
// unique sibling rule names, exactly one rule body, supported kinds.
// lookup may be nil to skip the kind check.
func validateSemantic(wf *schema.Workflow, lookup KindLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if wf.Name == "" {
		result.AddError("/name", schema.ErrCodeValidation, "workflow name is required")
	}

	validateRules(wf.Rules, "/rules", lookup, result)

	if len(wf.Rules) > 0 && enabledCount(wf.Rules) == 0 {
		result.AddWarning("/rules", schema.ErrCodeValidation, "every rule is disabled; evaluation will return no results")
	}

	return result
}

// validateRules checks one level of sibling rules and recurses into nested rules.
func validateRules(rules []schema.Rule, path string, lookup KindLookup, result *schema.ValidationResult) {
	seen := make(map[string]int, len(rules))
	for i := range rules {
		r := &rules[i]
		rulePath := fmt.Sprintf("%s/%d", path, i)

		if r.Name == "" {
			result.AddError(rulePath+"/name", schema.ErrCodeValidation, "rule name is required")
		} else if first, dup := seen[r.Name]; dup {
			result.AddError(rulePath+"/name", schema.ErrCodeDuplicateRule,
				fmt.Sprintf("duplicate rule name %q (first declared at %s/%d)", r.Name, path, first))
		} else {
			seen[r.Name] = i
		}

		switch {
		case r.IsNested() && r.Expression != "":
			result.AddError(rulePath, schema.ErrCodeValidation,
				fmt.Sprintf("rule %q has both an expression and nested rules", r.Name))
		case !r.IsNested() && r.Expression == "":
			result.AddError(rulePath, schema.ErrCodeValidation,
				fmt.Sprintf("rule %q has neither an expression nor nested rules", r.Name))
		}

		if r.IsNested() {
			if op := r.Operator.OrDefault(); op != schema.OperatorAnd && op != schema.OperatorOr {
				result.AddError(rulePath+"/operator", schema.ErrCodeValidation,
					fmt.Sprintf("unknown operator %q; expected \"and\" or \"or\"", r.Operator))
			}
			if r.Kind != "" {
				result.AddWarning(rulePath+"/kind", schema.ErrCodeValidation,
					"kind is ignored on a rule with nested rules")
			}
			if enabledCount(r.Rules) == 0 {
				result.AddWarning(rulePath+"/rules", schema.ErrCodeValidation,
					fmt.Sprintf("every nested rule of %q is disabled", r.Name))
			}
			validateRules(r.Rules, rulePath+"/rules", lookup, result)
			continue
		}

		if r.Operator != "" {
			result.AddWarning(rulePath+"/operator", schema.ErrCodeValidation,
				"operator is ignored on a rule without nested rules")
		}
		if lookup != nil && !lookup.Supports(r.Kind) {
			result.AddError(rulePath+"/kind", schema.ErrCodeValidation,
				fmt.Sprintf("unknown expression kind %q", r.Kind))
		}
	}
}

func enabledCount(rules []schema.Rule) int {
	n := 0
	for _, r := range rules {
		if !r.Disabled {
			n++
		}
	}
	return n
}

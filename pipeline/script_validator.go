package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

// ScriptValidator checks generated plot scripts before they reach the
// interpreter. The Starlark sandbox already withholds every dangerous
// capability; this gate exists to reject junk early with an error message the
// model can act on, instead of a confusing runtime fault.
type ScriptValidator struct {
	maxLen      int
	forbidden   []*regexp.Regexp
	entryPoints []string
}

// NewScriptValidator creates a validator with default settings.
func NewScriptValidator() *ScriptValidator {
	return &ScriptValidator{
		maxLen: 20000,
		forbidden: []*regexp.Regexp{
			// load() is Starlark's module mechanism; scripts get no modules.
			regexp.MustCompile(`\bload\s*\(`),
			// Python habits that Starlark rejects at parse time, caught
			// here for a clearer message.
			regexp.MustCompile(`(?m)^\s*(?:import|from)\s+\w+`),
			regexp.MustCompile(`\bwhile\b`),
			regexp.MustCompile(`\b(?:open|exec|eval|compile|__import__)\s*\(`),
		},
		entryPoints: []string{"bar(", "line(", "pie(", "scatter("},
	}
}

// Validate returns a model-actionable error for scripts that cannot work.
func (v *ScriptValidator) Validate(script string) error {
	if strings.TrimSpace(script) == "" {
		return fmt.Errorf("script is empty")
	}
	if len(script) > v.maxLen {
		return fmt.Errorf("script exceeds %d bytes", v.maxLen)
	}

	for _, re := range v.forbidden {
		if loc := re.FindString(script); loc != "" {
			return fmt.Errorf("script uses unsupported construct %q: only the provided chart functions and column data are available", strings.TrimSpace(loc))
		}
	}

	for _, ep := range v.entryPoints {
		if strings.Contains(script, ep) {
			return nil
		}
	}
	return fmt.Errorf("script never calls a chart function (expected one of bar, line, pie, scatter)")
}

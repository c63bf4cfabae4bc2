package stack

import (
	"regexp"
	"sort"
)

// =============================================================================
// Variable Extraction Functions
// =============================================================================

// varPlaceholderRegex matches ${VAR} and ${VAR:-default} patterns.
// Groups:
//   - Group 1: Variable name (required)
//   - Group 2: The :-default suffix when present (may be empty)
var varPlaceholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// Variable is a ${VAR} placeholder found in raw stack content.
type Variable struct {
	Name       string
	HasDefault bool
}

// ExtractVariables extracts variable placeholders from raw stack content,
// before interpolation. Returns unique variables sorted by name; a variable
// referenced both with and without a default reports HasDefault=false, since
// at least one use site needs the variable set.
func ExtractVariables(content string) []Variable {
	byName := make(map[string]bool) // name -> every use has a default

	matches := varPlaceholderRegex.FindAllStringSubmatch(content, -1)
	for _, match := range matches {
		name := match[1]
		hasDefault := match[2] != ""
		if prev, seen := byName[name]; seen {
			byName[name] = prev && hasDefault
		} else {
			byName[name] = hasDefault
		}
	}

	vars := make([]Variable, 0, len(byName))
	for name, hasDefault := range byName {
		vars = append(vars, Variable{Name: name, HasDefault: hasDefault})
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	return vars
}

// MissingVariables returns the names of variables the content requires
// (no default at some use site) that are absent from env, sorted.
func MissingVariables(content string, env map[string]string) []string {
	var missing []string
	for _, v := range ExtractVariables(content) {
		if v.HasDefault {
			continue
		}
		if _, ok := env[v.Name]; !ok {
			missing = append(missing, v.Name)
		}
	}
	return missing
}

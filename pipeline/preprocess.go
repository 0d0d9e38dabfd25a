package pipeline

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrPreprocess = errors.New("preprocess shader")

// ShaderDef is a preprocessor definition. Flags are defined with Define,
// values that are substituted into the source with DefineValue.
type ShaderDef struct {
	Name  string
	Value string
}

func Define(name string) ShaderDef {
	return ShaderDef{Name: name, Value: "true"}
}

func DefineValue(name string, value any) ShaderDef {
	return ShaderDef{Name: name, Value: fmt.Sprint(value)}
}

var reSubstitution = regexp.MustCompile(`#\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Preprocess evaluates #ifdef, #ifndef, #else and #endif directives and
// replaces #{NAME} with the value of the definition NAME.
func Preprocess(source string, defs []ShaderDef) (string, error) {
	values := make(map[string]string, len(defs))
	for _, def := range defs {
		values[def.Name] = def.Value
	}

	type scope struct {
		active     bool
		parent     bool
		seenElse   bool
		lineNumber int
	}

	var stack []scope
	active := true

	var out strings.Builder

	for idx, line := range strings.Split(source, "\n") {
		lineNumber := idx + 1

		directive, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		arg = strings.TrimSpace(arg)

		switch directive {
		case "#ifdef", "#ifndef":
			if arg == "" {
				return "", fmt.Errorf("%w: line %d: %s without name", ErrPreprocess, lineNumber, directive)
			}

			_, defined := values[arg]
			condition := defined == (directive == "#ifdef")

			stack = append(stack, scope{active: condition, parent: active, lineNumber: lineNumber})
			active = active && condition
			continue

		case "#else":
			if len(stack) == 0 {
				return "", fmt.Errorf("%w: line %d: #else without #ifdef", ErrPreprocess, lineNumber)
			}

			top := &stack[len(stack)-1]
			if top.seenElse {
				return "", fmt.Errorf("%w: line %d: duplicate #else", ErrPreprocess, lineNumber)
			}

			top.seenElse = true
			top.active = !top.active
			active = top.parent && top.active
			continue

		case "#endif":
			if len(stack) == 0 {
				return "", fmt.Errorf("%w: line %d: #endif without #ifdef", ErrPreprocess, lineNumber)
			}

			active = stack[len(stack)-1].parent
			stack = stack[:len(stack)-1]
			continue
		}

		if !active {
			continue
		}

		var substErr error
		line = reSubstitution.ReplaceAllStringFunc(line, func(match string) string {
			name := match[2 : len(match)-1]

			value, ok := values[name]
			if !ok && substErr == nil {
				substErr = fmt.Errorf("%w: line %d: undefined value %q", ErrPreprocess, lineNumber, name)
			}

			return value
		})

		if substErr != nil {
			return "", substErr
		}

		out.WriteString(line)
		out.WriteByte('\n')
	}

	if len(stack) > 0 {
		return "", fmt.Errorf("%w: unterminated conditional opened in line %d", ErrPreprocess, stack[len(stack)-1].lineNumber)
	}

	return strings.TrimSuffix(out.String(), "\n"), nil
}

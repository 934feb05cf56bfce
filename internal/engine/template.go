package engine

import "strings"

// expand substitutes ${name} references in s using lookup. Unknown
// references are left verbatim; a command's shell may still resolve them
// from the process environment.
func expand(s string, lookup func(string) (string, bool)) string {
	var sb strings.Builder
	rest := s
	for {
		i := strings.Index(rest, "${")
		if i < 0 {
			break
		}
		j := strings.Index(rest[i:], "}")
		if j < 0 {
			break
		}
		sb.WriteString(rest[:i])
		name := rest[i+2 : i+j]
		if val, ok := lookup(name); ok {
			sb.WriteString(val)
		} else {
			sb.WriteString(rest[i : i+j+1])
		}
		rest = rest[i+j+1:]
	}
	sb.WriteString(rest)
	return sb.String()
}

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

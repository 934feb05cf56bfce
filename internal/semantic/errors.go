package semantic

import (
	"fmt"
	"strings"

	"github.com/flowscript/flow/internal/lexer"
)

// Error is one semantic problem found in a workflow. Name identifies the
// declaration at fault (step, notify rule or env key).
type Error struct {
	Name    string
	Message string
	Pos     lexer.Pos
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Message)
}

// ErrorList is the batch of all semantic errors found in one pass. It is
// never empty when returned.
type ErrorList []Error

func (l ErrorList) Error() string {
	if len(l) == 1 {
		return l[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d semantic errors:", len(l))
	for _, e := range l {
		sb.WriteString("\n  " + e.Error())
	}
	return sb.String()
}

package domain

// VariableScope says where a variable was found.
type VariableScope string

const (
	ScopeLocal    VariableScope = "local"
	ScopeArgument VariableScope = "argument"
	ScopeThis     VariableScope = "this"
	ScopeField    VariableScope = "field"
	ScopeProperty VariableScope = "property"
	ScopeElement  VariableScope = "element"
)

// Variable is one inspectable value as shown to the caller. Value is the
// rendered display string; Expandable signals that children exist and can be
// fetched with another inspect call. Variables are produced fresh on every
// request and never survive a resume.
type Variable struct {
	Name       string        `json:"name"`
	TypeName   string        `json:"type"`
	Value      string        `json:"value"`
	Scope      VariableScope `json:"scope,omitempty"`
	Expandable bool          `json:"expandable"`
	ChildCount int           `json:"child_count,omitempty"`
	Path       string        `json:"path,omitempty"`
}

// VariableNode is a Variable plus its expanded children, used by inspect
// when a depth greater than one is requested.
type VariableNode struct {
	Variable
	Children []*VariableNode `json:"children,omitempty"`
}

// StackFrame is one entry of a thread's call stack, innermost first.
type StackFrame struct {
	Index    int             `json:"index"`
	Method   string          `json:"method"`
	Module   string          `json:"module,omitempty"`
	Location *SourceLocation `json:"location,omitempty"`
	Internal bool            `json:"internal,omitempty"` // runtime/native glue frame
}

// ThreadInfo describes one managed thread.
type ThreadInfo struct {
	ID      int    `json:"id"`
	Name    string `json:"name,omitempty"`
	Current bool   `json:"current,omitempty"` // thread that caused the stop
}

// EvalResult is the outcome of a successful expression evaluation.
type EvalResult struct {
	Expression string `json:"expression"`
	Value      string `json:"value"`
	TypeName   string `json:"type"`
	Expandable bool   `json:"expandable"`
}

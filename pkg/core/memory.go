package core

import "context"

// MemoryContext is the opaque package returned by an external context
// provider. The engine injects Text into prompts and never mutates it.
type MemoryContext struct {
	Text     string
	Metadata map[string]string
}

// ContextProvider retrieves memory context relevant to a goal.
type ContextProvider interface {
	GetMemoryContext(ctx context.Context, goal Goal) (MemoryContext, error)
}

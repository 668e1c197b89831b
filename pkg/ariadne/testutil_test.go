package ariadne

// Test state types and helper nodes shared across engine tests.

// Counter is a minimal state for linear execution tests.
type Counter struct {
	Value int
}

// Trace records which nodes ran and in what order.
type Trace struct {
	Steps []string
	Done  bool
}

func increment(ctx Context, s Counter) (Counter, error) {
	s.Value++
	return s, nil
}

func passthrough[S any](ctx Context, s S) (S, error) {
	return s, nil
}

func makeTracingNode(name string) NodeFunc[Trace] {
	return func(ctx Context, s Trace) (Trace, error) {
		s.Steps = append(s.Steps, name)
		return s, nil
	}
}

func makeFailingNode[S any](err error) NodeFunc[S] {
	return func(ctx Context, s S) (S, error) {
		return s, err
	}
}

func makePanicNode[S any](value any) NodeFunc[S] {
	return func(ctx Context, s S) (S, error) {
		panic(value)
	}
}

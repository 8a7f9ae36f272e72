package embedding

import "context"

// Breaker runs f or rejects it without calling it.
type Breaker interface {
	Call(ctx context.Context, f func(context.Context) error) error
}

// Guard routes every Encode through b.
func Guard(p Provider, b Breaker) Provider {
	return guarded{Provider: p, b: b}
}

type guarded struct {
	Provider
	b Breaker
}

func (g guarded) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := g.b.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.Provider.Encode(ctx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

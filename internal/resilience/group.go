package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [Group] failed or was
// rejected by its breaker.
var ErrAllFailed = errors.New("resilience: all members failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group holds an ordered list of interchangeable values (for example API
// endpoints), each guarded by its own [Breaker]. Members are tried in the
// order they were added.
//
// Members must be added before the group is shared between goroutines.
type Group[T any] struct {
	cfg     BreakerConfig
	members []member[T]
}

// NewGroup creates an empty group. cfg is the template for each member's
// breaker; its Name is replaced by the member name.
func NewGroup[T any](cfg BreakerConfig) *Group[T] {
	return &Group[T]{cfg: cfg}
}

// Add appends a member.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(cfg),
	})
}

// Len returns the number of members.
func (g *Group[T]) Len() int { return len(g.members) }

// States returns each member's breaker state keyed by member name.
func (g *Group[T]) States() map[string]State {
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Do calls fn for each member in order until one succeeds. It returns
// [ErrAllFailed] wrapping the last error when none does.
func Do[T, R any](g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error = errors.New("no members")
	)
	for _, m := range g.members {
		var result R
		err := m.breaker.Do(func() error {
			var err error
			result, err = fn(m.value)
			return err
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping member, circuit open", "member", m.name)
			continue
		}
		slog.Warn("member failed, trying next", "member", m.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

package provider

import "context"

// Source produces the values of a streaming provision. It must call emit for
// every new value and return when ctx is canceled. Emitting nil withdraws the
// current offer, a later value renews it. A returned error other than
// ctx.Err() is reported and withdraws the match.
type Source func(ctx context.Context, emit func(value any)) error

// Provision is the answer of a Factory for a matched name
type Provision struct {
	value  any
	source Source
}

// Single provides a fixed value. A nil value rejects the match.
func Single(value any) Provision {
	return Provision{value: value}
}

// Stream provides a changing value
func Stream(source Source) Provision {
	return Provision{source: source}
}

// IsStream reports whether the provision was created by Stream
func (p Provision) IsStream() bool {
	return p.source != nil
}

// Offered reports whether a Single provision accepts the match. A Stream
// decides with its first value, so Offered is false for it.
func (p Provision) Offered() bool {
	return p.source == nil && p.value != nil
}

// Factory is called with every matched record name
type Factory func(name string) (Provision, error)

// Options configure a provider
type Options struct {
	// Recursive allows Stream provisions for multicast providers
	Recursive bool
	// Unicast selects the unicast variant
	Unicast bool
}

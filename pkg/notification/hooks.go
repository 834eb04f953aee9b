package notification

import "context"

// Filter decides whether an incoming message should be displayed. The
// decision is final: a false return drops the message silently, an error
// fails the message (errors are propagated, never swallowed).
type Filter interface {
	ShouldDisplay(ctx context.Context, data map[string]string) (bool, error)
}

// FilterFunc adapts a plain function to the Filter interface.
type FilterFunc func(ctx context.Context, data map[string]string) (bool, error)

func (f FilterFunc) ShouldDisplay(ctx context.Context, data map[string]string) (bool, error) {
	return f(ctx, data)
}

// NavigationHandler receives the navigation intent of a tapped notification.
// Page and id are read from the conventional "pageName" and "id" data keys;
// the full data map is passed through untouched.
type NavigationHandler interface {
	Navigate(ctx context.Context, page, id string, data map[string]string) error
}

// NavigationFunc adapts a plain function to the NavigationHandler interface.
type NavigationFunc func(ctx context.Context, page, id string, data map[string]string) error

func (f NavigationFunc) Navigate(ctx context.Context, page, id string, data map[string]string) error {
	return f(ctx, page, id, data)
}

// TapHandler observes every tap event before navigation forwarding. Handlers
// are best-effort; a failing handler does not suppress navigation.
type TapHandler interface {
	HandleTap(ctx context.Context, tap TapEvent) error
}

// TapFunc adapts a plain function to the TapHandler interface.
type TapFunc func(ctx context.Context, tap TapEvent) error

func (f TapFunc) HandleTap(ctx context.Context, tap TapEvent) error {
	return f(ctx, tap)
}

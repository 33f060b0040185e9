package noop

import (
	"context"

	"github.com/chirino/spacechat/internal/registry/notify"
)

func init() {
	notify.Register(notify.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (notify.Sink, error) {
			return Sink{}, nil
		},
	})
}

// Sink drops every event.
type Sink struct{}

func (Sink) Notify(context.Context, notify.Event) error { return nil }
func (Sink) Close() error                               { return nil }

var _ notify.Sink = Sink{}

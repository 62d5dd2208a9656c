package dispatcher

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// test echoes the event back transformed, for queue smoke tests.
func (d *Dispatcher) test(ctx context.Context, ev *Event) Result {
	echo := make(map[string]string, len(ev.Trigger)+len(ev.Data))
	for k, v := range ev.Trigger {
		echo[k] = strings.ToUpper(stringify(v))
	}
	for k, v := range ev.Data {
		echo[k] = reverse(stringify(v))
	}
	d.logger.Debug("test automation event", zap.Int64("event_id", ev.ID), zap.Any("echo", echo))
	return Complete()
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

// socialInvite is retired. Queued rows still drain as completed.
func (d *Dispatcher) socialInvite(ctx context.Context, ev *Event) Result {
	return Complete()
}

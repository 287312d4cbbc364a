package guard

import (
	"github.com/airenas/go-app/pkg/goapp"
)

// LogListener marks the guarded window in the logs.
// In the gateway the real protection is the shutdown drain, the
// listener only makes the state visible.
type LogListener struct{}

func (l *LogListener) Register() {
	goapp.Log.Info().Msg("unload guard registered")
}

func (l *LogListener) Unregister() {
	goapp.Log.Info().Msg("unload guard unregistered")
}

// StaticConfirmer answers every leave question the same way
type StaticConfirmer struct {
	Answer bool
}

func (c *StaticConfirmer) Confirm(msg string) bool {
	goapp.Log.Info().Str("msg", msg).Bool("answer", c.Answer).Msg("confirm")
	return c.Answer
}

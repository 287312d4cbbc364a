package utils

import (
	"fmt"
	"net/http"

	"github.com/airenas/go-app/pkg/goapp"

	_ "net/http/pprof"
)

// RunPerfEndpoint serves pprof on debug.port when the key is set.
func RunPerfEndpoint() {
	port := goapp.Config.GetInt("debug.port")
	if port <= 0 {
		goapp.Log.Info().Msg("no debug.port - skip pprof endpoint")
		return
	}
	addr := fmt.Sprintf(":%d", port)
	goapp.Log.Info().Str("addr", addr).Msg("starting pprof endpoint")
	if err := http.ListenAndServe(addr, nil); err != nil {
		goapp.Log.Error().Err(err).Msg("pprof endpoint stopped")
	}
}

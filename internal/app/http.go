package app

import (
	"github.com/valyala/fasthttp"

	"statehouse/pkg/api"
	"statehouse/pkg/logger"
)

// startHTTP builds the API server and serves it in the background. The
// returned channel yields the fatal listen error, if any.
func (a *App) startHTTP() <-chan error {
	build := api.BuildInfo{Version: a.version, Commit: a.commit, BuildDate: a.buildDate}
	srv := api.NewServer(a.eng, build, a.eff.Config.Server.RateLimit.RPS, a.eff.Config.Server.RateLimit.Burst)

	a.srvFast = &fasthttp.Server{
		Handler:            srv.Handler(),
		Name:               "statehouse",
		StreamRequestBody:  true,
		MaxRequestBodySize: 16 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listening", "addr", a.eff.Addr)
		if err := a.srvFast.ListenAndServe(a.eff.Addr); err != nil {
			errCh <- err
		}
	}()
	return errCh
}

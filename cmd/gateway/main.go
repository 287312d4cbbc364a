package main

import (
	"context"
	"time"

	ainform "github.com/airenas/async-api/pkg/inform"
	"github.com/airenas/async-api/pkg/miniofs"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/castgate/castgate/internal/pkg/consul"
	"github.com/castgate/castgate/internal/pkg/draft"
	"github.com/castgate/castgate/internal/pkg/gateway"
	"github.com/castgate/castgate/internal/pkg/guard"
	"github.com/castgate/castgate/internal/pkg/inform"
	"github.com/castgate/castgate/internal/pkg/postgres"
	"github.com/castgate/castgate/internal/pkg/studio"
	"github.com/castgate/castgate/internal/pkg/tracker"
	"github.com/castgate/castgate/internal/pkg/upload"
	"github.com/castgate/castgate/internal/pkg/utils"
	"github.com/castgate/castgate/internal/pkg/worker"
	capi "github.com/hashicorp/consul/api"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/gommon/color"
	"github.com/vgarvardt/gue/v5"
	"github.com/vgarvardt/gue/v5/adapter/pgxv5"
)

func main() {
	goapp.StartWithDefault()

	printBanner()

	go utils.RunPerfEndpoint()

	cfg := goapp.Config
	ctx := context.Background()

	dbConfig, err := pgxpool.ParseConfig(cfg.GetString("db.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	addDBLog(dbConfig)

	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	defer dbPool.Close()

	db, err := postgres.NewDB(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db")
	}

	msgSender, err := postgres.NewSender(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue sender")
	}

	gueClient, err := gue.NewClient(pgxv5.NewConnPool(dbPool))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue")
	}

	filer, err := miniofs.NewFiler(ctx, miniofs.Options{Bucket: cfg.GetString("filer.bucket"),
		URL: cfg.GetString("filer.url"), User: cfg.GetString("filer.user"), Key: cfg.GetString("filer.key")})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init filer")
	}

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	provider, err := initProvider(ctx, cfg)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init studio provider")
	}

	trk := tracker.New(studio.NewProviderBackend(provider), tracker.WithJournal(db))

	grd := guard.New(&guard.LogListener{}, &guard.StaticConfirmer{Answer: cfg.GetBool("guard.allowLeave")})
	defer trk.SubscribeActive(grd.OnActiveChange)()

	go runTrackerCleanup(ctx, trk,
		defaultV(cfg.GetDuration("cleanup.runEvery"), time.Minute*10),
		defaultV(cfg.GetDuration("cleanup.expire"), time.Hour*24))

	storage, err := draft.NewFSStorage(cfg.GetString("draft.dir"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init draft storage")
	}
	drafts := draft.NewStore(storage, draftOptions(cfg)...)

	orch, err := upload.NewOrchestrator(&upload.Data{Tracker: trk, Drafts: drafts, Filer: filer,
		StudioPr: provider, MsgSender: msgSender})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init orchestrator")
	}

	wsh := gateway.NewWSConnKeeper()
	pusher := gateway.NewPusher(wsh)
	defer trk.SubscribeUpdates(pusher.JobUpdate)()

	poller, err := upload.NewPoller(&upload.PollerData{Tracker: trk, StudioPr: provider,
		Navigator: pusher, Notifier: pusher, MsgSender: msgSender,
		GraceDelay: cfg.GetDuration("poll.grace"), Interval: cfg.GetDuration("poll.interval"),
		MaxAttempts: cfg.GetInt("poll.maxAttempts")})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init poller")
	}

	workerDoneCh, err := worker.StartWorkerService(ctx, &worker.ServiceData{GueClient: gueClient,
		WorkerCount: defaultV(cfg.GetInt("worker.count"), 5), MsgSender: msgSender, Tracker: trk, Poller: poller})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start worker service")
	}

	informDoneCh, err := startInform(ctx, cfg, gueClient, db)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start inform service")
	}

	data := &gateway.Data{}
	data.Port = defaultV(cfg.GetInt("port"), 8000)
	data.Uploader = orch
	data.Jobs = trk
	data.Drafts = drafts
	data.WSHandler = wsh

	goapp.Log.Info().Msg("starting web service")
	if err := gateway.StartWebServer(data); err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start web server")
	}
	goapp.Log.Info().Msg("exit web service")

	// keep draining active jobs before killing the workers
	if !grd.WaitIdle(defaultV(cfg.GetDuration("shutdown.drain"), time.Second*10)) {
		goapp.Log.Warn().Msg("drain timeout, jobs still active")
	}
	cancelFunc()
	for _, ch := range []<-chan struct{}{toRO(workerDoneCh), informDoneCh} {
		if ch == nil {
			continue
		}
		select {
		case <-ch:
		case <-time.After(time.Second * 15):
			goapp.Log.Warn().Msg("Timeout gracefull shutdown")
		}
	}
	goapp.Log.Info().Msg("All code returned. Now exit. Bye")
}

func toRO(ch chan struct{}) <-chan struct{} {
	return ch
}

func defaultV[T comparable](v, def T) T {
	var empty T
	if v == empty {
		return def
	}
	return v
}

// runTrackerCleanup periodically drops terminal records older than expire
// so the in-memory set does not grow for the life of the process
func runTrackerCleanup(ctx context.Context, trk *tracker.Tracker, every, expire time.Duration) {
	goapp.Log.Info().Dur("every", every).Dur("expire", expire).Msg("starting tracker cleanup")
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := trk.CleanupOld(time.Now().Add(-expire).UnixMilli()); n > 0 {
				goapp.Log.Info().Int("count", n).Msg("dropped old job records")
			}
		}
	}
}

func initProvider(ctx context.Context, cfg configGetter) (upload.Provider, error) {
	if srvName := cfg.GetString("consul.srvName"); srvName != "" {
		ccfg := capi.DefaultConfig()
		if addr := cfg.GetString("consul.address"); addr != "" {
			ccfg.Address = addr
		}
		pr, err := consul.NewProvider(ccfg, srvName)
		if err != nil {
			return nil, err
		}
		if _, err := pr.StartRegistryLoop(ctx, cfg.GetDuration("consul.checkInterval")); err != nil {
			return nil, err
		}
		return pr, nil
	}
	cl, err := studio.NewClient(cfg.GetString("studio.startUrl"), cfg.GetString("studio.artifactUrl"),
		cfg.GetString("studio.jobsUrl"), cfg.GetString("studio.cancelUrl"))
	if err != nil {
		return nil, err
	}
	return studio.NewSingleProvider(cl, "studio"), nil
}

type configGetter interface {
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetDuration(key string) time.Duration
}

func draftOptions(cfg configGetter) []draft.Option {
	var res []draft.Option
	if ttl := cfg.GetDuration("draft.ttl"); ttl > 0 {
		res = append(res, draft.WithTTL(ttl))
	}
	if size := cfg.GetInt("draft.maxFileSize"); size > 0 {
		res = append(res, draft.WithMaxFileSize(int64(size)))
	}
	return res
}

func startInform(ctx context.Context, cfg configGetter, gueClient *gue.Client, db *postgres.DB) (<-chan struct{}, error) {
	if cfg.GetString("smtp.host") == "" && cfg.GetString("smtp.fakeUrl") == "" {
		goapp.Log.Info().Msg("no smtp configured, inform off")
		return nil, nil
	}
	data := &inform.ServiceData{GueClient: gueClient, WorkerCount: defaultV(cfg.GetInt("worker.count"), 5), DB: db}

	var err error
	data.EmailMaker, err = ainform.NewTemplateEmailMaker(goapp.Config)
	if err != nil {
		return nil, err
	}
	if location := cfg.GetString("worker.location"); location != "" {
		data.Location, err = time.LoadLocation(location)
		if err != nil {
			return nil, err
		}
	}
	if cfg.GetString("smtp.fakeUrl") == "" {
		goapp.Log.Info().Str("sender", "real").Msg("smtp")
		data.EmailSender, err = ainform.NewSimpleEmailSender(goapp.Config)
	} else {
		goapp.Log.Info().Str("sender", "fake").Msg("smtp")
		data.EmailSender, err = inform.NewFakeEmailSender(goapp.Config)
	}
	if err != nil {
		return nil, err
	}
	ch, err := inform.StartWorkerService(ctx, data)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func addDBLog(dbConfig *pgxpool.Config) {
	logFunc := goapp.Log.Info().Msg
	dbConfig.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
		logFunc("before connect")
		return nil
	}
	dbConfig.AfterConnect = func(ctx context.Context, c *pgx.Conn) error {
		logFunc("after connect")
		return nil
	}
	dbConfig.BeforeAcquire = func(ctx context.Context, c *pgx.Conn) bool {
		logFunc("before acquire")
		return true
	}
	dbConfig.AfterRelease = func(c *pgx.Conn) bool {
		logFunc("after release")
		return true
	}
}

var (
	version = "DEV"
)

func printBanner() {
	banner := `
   ______           __  ______      __
  / ____/___ ______/ /_/ ____/___ _/ /____
 / /   / __ ` + "`" + `/ ___/ __/ / __/ __ ` + "`" + `/ __/ _ \
/ /___/ /_/ (__  ) /_/ /_/ / /_/ / /_/  __/
\____/\__,_/____/\__/\____/\__,_/\__/\___/   v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/castgate/castgate"))
}

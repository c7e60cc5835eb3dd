package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jessevdk/go-flags"

	"nuclight.org/tg-archive-bot/app/api"
	"nuclight.org/tg-archive-bot/app/history"
	"nuclight.org/tg-archive-bot/app/ingest"
	"nuclight.org/tg-archive-bot/app/media"
	"nuclight.org/tg-archive-bot/app/notify"
	"nuclight.org/tg-archive-bot/app/retention"
	"nuclight.org/tg-archive-bot/app/storage"
	"nuclight.org/tg-archive-bot/app/telegram"
	e "nuclight.org/tg-archive-bot/pkg/entities"
	"nuclight.org/tg-archive-bot/pkg/logger"
)

var opts struct {
	TelegramAPIToken   string `long:"telegram-api-token" env:"TELEGRAM_API_TOKEN" required:"true" description:"telegram bot api token"`
	TelegramWorkersNum int    `long:"telegram-workers-num" env:"TELEGRAM_WORKERS_NUM" default:"5" description:"number of workers for telegram updates"`
	DBPath             string `long:"db-path" env:"DB_PATH" default:"./data/archive.sqlite" description:"path to the sqlite database file"`
	DataDir            string `long:"data-dir" env:"DATA_DIR" default:"./data" description:"directory for media files"`
	ListenAddr         string `long:"listen-addr" env:"LISTEN_ADDR" default:":8080" description:"http api listen address"`
	ExportDir          string `long:"export-dir" env:"EXPORT_DIR" description:"directory with telegram desktop exports for bulk import"`
	NotifyChatID       int64  `long:"notify-chat-id" env:"NOTIFY_CHAT_ID" description:"chat to forward archived originals to, 0 disables forwarding"`
	MergeWindow        int    `long:"merge-window" env:"MERGE_WINDOW_SECONDS" default:"30" description:"notification merge window in seconds"`
	AMQPURL            string `long:"amqp-url" env:"AMQP_URL" description:"amqp broker url, empty disables event publishing"`
	AMQPExchange       string `long:"amqp-exchange" env:"AMQP_EXCHANGE" default:"archive.events" description:"amqp exchange for archived message events"`
	RetentionDays      int    `long:"retention-days" env:"RETENTION_DAYS" default:"30" description:"group message retention window in days"`
	SentryDSN          string `long:"sentry-dsn" env:"SENTRY_DSN" description:"sentry dsn, empty disables error reporting"`
	Debug              bool   `long:"debug" env:"DEBUG" description:"enable debug logging"`
}

var Revision = "dev"

func main() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	log := logger.NewLogger(opts.Debug)
	log.Info("starting archiver", "revision", Revision)

	if opts.SentryDSN != "" {
		err = sentry.Init(sentry.ClientOptions{Dsn: opts.SentryDSN, Release: Revision})
		if err != nil {
			log.Error("initializing sentry", "error", err)
			os.Exit(1)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.NewSQLite(ctx, opts.DBPath)
	if err != nil {
		log.Error("creating sqlite3 database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("closing sqlite3 database", "error", err)
		}
	}()

	blobs := &media.Manager{
		Dir:   opts.DataDir,
		Store: db,
	}

	var sinks notify.Multi

	if opts.NotifyChatID != 0 {
		forwarder, err := notify.NewTelegram(log, opts.TelegramAPIToken, opts.NotifyChatID)
		if err != nil {
			log.Error("creating telegram forwarder", "error", err)
			os.Exit(1)
		}

		merger := notify.NewMerger(log, time.Duration(opts.MergeWindow)*time.Second, forwarder)
		go merger.Run(ctx)
		sinks = append(sinks, merger)
	}

	if opts.AMQPURL != "" {
		publisher, err := notify.NewAMQP(log, opts.AMQPURL, opts.AMQPExchange)
		if err != nil {
			log.Error("connecting to amqp broker", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Error("closing amqp connection", "error", err)
			}
		}()
		sinks = append(sinks, publisher)
	}

	svc := &ingest.Service{
		Log:   log,
		Store: db,
		Media: blobs,
	}
	if len(sinks) > 0 {
		svc.Sink = sinks
	}

	sweeper := &retention.Sweeper{
		Log:           log,
		Store:         db,
		Media:         blobs,
		RetentionDays: opts.RetentionDays,
	}
	go sweeper.Run(ctx)

	server := &api.Server{
		Log:     log,
		Store:   db,
		DataDir: opts.DataDir,
		Sweeper: sweeper,
	}

	if opts.ExportDir != "" {
		src := &history.ExportSource{Dir: opts.ExportDir}
		server.Import = func(ctx context.Context, chatID string, limit int) (e.ImportResult, error) {
			return svc.ImportHistory(ctx, src, chatID, limit)
		}
	}

	go func() {
		if err := server.Run(ctx, opts.ListenAddr); err != nil {
			log.Error("api server stopped", "error", err)
			cancel()
		}
	}()

	bot := &telegram.Client{
		Log:        log,
		APIToken:   opts.TelegramAPIToken,
		WorkersNum: opts.TelegramWorkersNum,
		Handler:    svc,
	}

	err = bot.Start(ctx)
	if err != nil {
		log.Error("starting bot", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("stopping archiver")

	bot.Wait()

	os.Exit(0)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/api"
	"github.com/BTreeMap/ReplyPipe/internal/appointment"
	"github.com/BTreeMap/ReplyPipe/internal/calendar"
	"github.com/BTreeMap/ReplyPipe/internal/config"
	"github.com/BTreeMap/ReplyPipe/internal/humanize"
	"github.com/BTreeMap/ReplyPipe/internal/llm"
	"github.com/BTreeMap/ReplyPipe/internal/messaging"
	"github.com/BTreeMap/ReplyPipe/internal/metrics"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/pipeline"
	"github.com/BTreeMap/ReplyPipe/internal/scheduler"
	"github.com/BTreeMap/ReplyPipe/internal/session"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/BTreeMap/ReplyPipe/internal/transfer"
	"github.com/BTreeMap/ReplyPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ReplyPipe/internal/whatsapp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// appOptions carries everything run needs from the environment and flags.
type appOptions struct {
	configPath string
	appDSN     string
	waOpts     []whatsapp.Option
	twilioOpts []twiliowhatsapp.Option
	twilioURL  string
	calOpts    []calendar.GoogleOption
	redisOpts  []session.RedisOption
	apiOpts    []api.Option
	smtp       SMTPConfig
	disableWA  bool
	drain      time.Duration
}

// run wires every module and blocks until ctx is done.
func run(ctx context.Context, o appOptions) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	loc, _ := cfg.Location()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	st, err := store.Open(o.appDSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	sessions, sweeper, err := openSessions(ctx, cfg, o.redisOpts)
	if err != nil {
		return err
	}

	cal := openCalendar(ctx, cfg, o.calOpts)
	flow := appointment.NewFlowManager(sessions, cal, st,
		appointment.WithBusinessName(cfg.Business.Name),
		appointment.WithSkipEmail(cfg.Flow.SkipEmail),
		appointment.WithAskPhone(cfg.Flow.AskPhone),
		appointment.WithMaxRetries(cfg.Flow.MaxRetries),
		appointment.WithSlotDuration(cfg.Flow.SlotDuration.Duration),
		appointment.WithWorkingHours(cfg.WorkingHours()),
		appointment.WithClock(func() time.Time { return time.Now().In(loc) }),
		appointment.WithOutcomeHook(m.FlowOutcome),
	)

	providers := llm.BuildProviders(ctx, cfg.ProviderConfigs(), cfg.LLM.DebugDir)
	router := llm.NewRouter(providers,
		llm.WithDefaultProvider(cfg.LLM.DefaultProvider),
		llm.WithBusinessName(cfg.Business.Name),
		llm.WithTimeout(cfg.LLM.Timeout.Duration),
		llm.WithObserver(m),
	)
	defer router.Close()

	hum := humanize.NewHumanizer(
		humanize.WithSensitiveBusinessTypes(cfg.Humanizer.SensitiveBusinessTypes...),
		humanize.WithUncensoredProviders(cfg.Humanizer.UncensoredProviders...),
		humanize.WithRetryDelay(cfg.Humanizer.MinRetryDelay.Duration, cfg.Humanizer.MaxRetryDelay.Duration),
	)

	waSvc, twilioSvc := openChannels(ctx, o)
	if waSvc == nil && twilioSvc == nil {
		return errors.New("no delivery channel configured: connect WhatsApp or set TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN")
	}
	primary, backup := orderChannels(cfg.Delivery.Primary, waSvc, twilioSvc)
	delivery := messaging.NewDeliveryRouter(primary, backup,
		messaging.WithStickyCapacity(cfg.Delivery.StickyCapacity),
		messaging.WithStickyTTL(cfg.Delivery.StickyTTL.Duration),
		messaging.WithSendTimeout(cfg.Delivery.SendTimeout.Duration),
		messaging.WithRouterObserver(m),
	)
	if err := delivery.Start(ctx); err != nil {
		return err
	}
	defer delivery.Stop()

	transfers := transfer.NewManager(st, buildNotifier(cfg, o.smtp, delivery),
		transfer.WithBusinessName(cfg.Business.Name),
		transfer.WithHighValueThreshold(cfg.Transfer.HighValueThreshold),
		transfer.WithNegativeEmotionThreshold(cfg.Transfer.NegativeEmotionThreshold),
		transfer.WithNotifyTimeout(cfg.Transfer.NotifyTimeout.Duration),
		transfer.WithObserver(m),
	)

	orch := pipeline.NewOrchestrator(flow, router, hum, transfers, delivery, st,
		pipeline.WithBusiness(humanize.BusinessContext{Name: cfg.Business.Name, Type: cfg.Business.Type}),
		pipeline.WithSystemPrompt(cfg.Pipeline.SystemPrompt),
		pipeline.WithHistoryLimit(cfg.Pipeline.HistoryLimit),
		pipeline.WithHistoryTTL(cfg.Pipeline.HistoryTTL.Duration),
		pipeline.WithHumanAck(cfg.Pipeline.HumanAck),
		pipeline.WithObserver(m),
	)
	dispatcher := pipeline.NewDispatcher(ctx, orch)
	go dispatcher.Run(ctx, delivery.Messages())

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if sweeper != nil {
		if err := sched.ScheduleSessionReaper(scheduler.DefaultReapSpec, sweeper, m); err != nil {
			return err
		}
	}
	if err := sched.AddJob(scheduler.DefaultReapSpec, scheduler.ReapSessions(orch.History(), nil)); err != nil {
		return err
	}

	apiOpts := append([]api.Option{
		api.WithProviderStatus(router),
		api.WithHistory(orch.History()),
		api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
	}, o.apiOpts...)
	if twilioSvc != nil {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(http.HandlerFunc(twilioSvc.TwilioWebhookHandler)))
	}
	server := api.NewServer(transfers, delivery, apiOpts...)

	slog.Info("ReplyPipe running", "business", cfg.Business.Name, "primary", nameOf(primary), "backup", nameOf(backup), "providers", router.FallbackOrder())
	serveErr := server.Run(ctx)

	drain := o.drain
	if drain <= 0 {
		drain = DefaultShutdownTimeout
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	if err := dispatcher.Close(closeCtx); err != nil {
		slog.Warn("run: dispatcher did not drain", "error", err)
	}
	return serveErr
}

// openSessions returns the session store and, for the in-memory one, its sweeper.
func openSessions(ctx context.Context, cfg config.Config, redisOpts []session.RedisOption) (session.Store, scheduler.Sweeper, error) {
	ttl := cfg.Flow.SessionTTL.Duration
	if len(redisOpts) > 0 {
		rs, err := session.NewRedisStore(ctx, append(redisOpts, session.WithRedisTTL(ttl))...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open redis session store: %w", err)
		}
		slog.Info("openSessions: using redis session store")
		return rs, nil, nil
	}
	ms := session.NewMemoryStore(session.WithTTL(ttl))
	return ms, ms, nil
}

// openCalendar falls back to a not-ready calendar. The flow then offers slots
// from the working hours and records bookings in the application database.
func openCalendar(ctx context.Context, cfg config.Config, opts []calendar.GoogleOption) calendar.Port {
	if len(opts) == 0 {
		slog.Warn("openCalendar: no Google Calendar credentials, bookings will be recorded locally")
		return (*calendar.GoogleCalendar)(nil)
	}
	opts = append([]calendar.GoogleOption{
		calendar.WithCalendarID(cfg.Flow.CalendarID),
		calendar.WithWorkingHours(cfg.WorkingHours()),
	}, opts...)
	gc, err := calendar.NewGoogleCalendar(ctx, opts...)
	if err != nil {
		slog.Error("openCalendar: calendar unavailable, bookings will be recorded locally", "error", err)
		return (*calendar.GoogleCalendar)(nil)
	}
	return gc
}

// openChannels connects whichever channels are configured. Either result may be nil.
func openChannels(ctx context.Context, o appOptions) (*messaging.WhatsAppService, *messaging.TwilioService) {
	var (
		waSvc     *messaging.WhatsAppService
		twilioSvc *messaging.TwilioService
	)
	if !o.disableWA {
		client, err := whatsapp.NewClient(ctx, o.waOpts...)
		if err != nil {
			slog.Error("openChannels: WhatsApp connection failed", "error", err)
		} else {
			waSvc = messaging.NewWhatsAppService(client)
		}
	}
	if o.twilioOpts != nil {
		client, err := twiliowhatsapp.NewClient(o.twilioOpts...)
		if err != nil {
			slog.Error("openChannels: Twilio client failed", "error", err)
		} else {
			var topts []messaging.TwilioOption
			if o.twilioURL != "" {
				topts = append(topts, messaging.WithSignatureValidation(client, o.twilioURL))
			} else {
				slog.Warn("openChannels: TWILIO_WEBHOOK_URL not set, webhook signatures are not checked")
			}
			twilioSvc = messaging.NewTwilioService(client, topts...)
		}
	}
	return waSvc, twilioSvc
}

// orderChannels picks primary and backup. A missing channel is returned as a
// nil interface, never a typed nil.
func orderChannels(preferred string, waSvc *messaging.WhatsAppService, twilioSvc *messaging.TwilioService) (primary, backup messaging.Channel) {
	var wa, tw messaging.Channel
	if waSvc != nil {
		wa = waSvc
	}
	if twilioSvc != nil {
		tw = twilioSvc
	}
	if models.ChannelName(preferred) == models.ChannelTwilio {
		wa, tw = tw, wa
	}
	if wa == nil {
		return tw, nil
	}
	return wa, tw
}

func nameOf(ch messaging.Channel) string {
	if ch == nil {
		return "none"
	}
	return string(ch.Name())
}

// buildNotifier fans operator notifications out to WhatsApp and e-mail.
func buildNotifier(cfg config.Config, smtp SMTPConfig, delivery transfer.MessageSender) transfer.Notifier {
	notifiers := transfer.MultiNotifier{transfer.LogNotifier{}}
	if cfg.Transfer.OperatorPhone != "" {
		notifiers = append(notifiers, transfer.NewWhatsAppNotifier(delivery, []string{cfg.Transfer.OperatorPhone}))
	}
	if len(cfg.Transfer.OperatorEmail) > 0 {
		email, err := transfer.NewEmailNotifier(smtp.Host, smtp.Port, smtp.Username, smtp.Password, smtp.From, cfg.Transfer.OperatorEmail)
		if err != nil {
			slog.Warn("buildNotifier: e-mail notifications disabled", "error", err)
		} else {
			notifiers = append(notifiers, email)
		}
	}
	return notifiers
}

package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/op/go-logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nilm987521/fep/channel"
	"github.com/nilm987521/fep/config"
	"github.com/nilm987521/fep/connmgr"
	"github.com/nilm987521/fep/iso8583"
	fepLogging "github.com/nilm987521/fep/logging"
	"github.com/nilm987521/fep/metrics"
	"github.com/nilm987521/fep/pan"
	"github.com/nilm987521/fep/pending"
	"github.com/nilm987521/fep/pipeline"
	"github.com/nilm987521/fep/processor"
	"github.com/nilm987521/fep/reversal"
	"github.com/nilm987521/fep/txn"
	"github.com/nilm987521/fep/txn/memory"
	"github.com/nilm987521/fep/txn/postgres"
	"github.com/nilm987521/fep/validate"
)

var (
	metricsAddr     string
	rulesFile       string
	dedupWindowMins int
	postgresDSN     string
	panSecretEnv    string
)

// serveCmd is fepd's only long-running command: it wires config load +
// hot-reload, metrics, logging, the PAN vault, a repository, the
// pipeline and reversal service, and the connection manager, then blocks
// until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load channel configuration and run the FEP core until interrupted",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Prometheus /metrics listen address (empty disables)")
	serveCmd.Flags().StringVar(&rulesFile, "rules", "", "validation rule document (text or JSON); empty disables validation")
	serveCmd.Flags().IntVar(&dedupWindowMins, "dedup-window-minutes", 5, "duplicate-transaction probe window")
	serveCmd.Flags().StringVar(&postgresDSN, "postgres-dsn", "", "Postgres DSN for the transaction repository; empty uses the in-memory repository")
	serveCmd.Flags().StringVar(&panSecretEnv, "pan-secret-env", "FEP_PAN_ROOT_SECRET", "environment variable holding the PAN-vault root secret")
}

func runServe(cmd *cobra.Command, args []string) error {
	log, err := fepLogging.New("fepd", parseLevel(logLevel), logFile)
	if err != nil {
		return fmt.Errorf("serve: build logger: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := metrics.NewRegistry()
	if err := registry.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("serve: register metrics: %w", err)
	}
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			log.Infof("metrics listening on %s", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	vault, err := buildVault()
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	repo, closeRepo, err := buildRepository()
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer closeRepo()

	rules, err := buildRuleSet()
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	router := processor.NewRouter(processor.Defaults()...)
	pl := pipeline.New(repo, rules, router, dedupWindowMins, log).WithMetrics(registry).WithVault(vault)
	reversalSvc := reversal.New(repo, pl)

	mgr := connmgr.New(func(cfg channel.Config) *iso8583.Codec {
		return resolveCodec(cfg)
	})
	mgr.SetHandlerResolver(func(cfg channel.Config) channel.Handler {
		return inboundHandler(ctx, cfg.ChannelID, pl, reversalSvc)
	})
	mgr.AddListener(registry.ConnMgrListener())
	mgr.AddListener(logListener(log))

	loader := config.NewLoader(cfgFile)
	snapshot, err := loader.Load()
	if err != nil {
		return fmt.Errorf("serve: load config %s: %w", cfgFile, err)
	}
	mgr.ApplyFull(ctx, snapshot)

	loader.Watch(func(next map[string]channel.Config, err error) {
		if err != nil {
			log.Errorf("config reload: %v", err)
			return
		}
		log.Info("config changed, reconciling connections")
		mgr.ApplyFull(ctx, next)
	})

	go samplePending(ctx, mgr, registry.NewPendingSampler())

	log.Infof("fepd serving %d channel(s) from %s", len(snapshot), cfgFile)
	<-ctx.Done()
	log.Info("shutdown signal received, closing connections")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	for _, id := range mgr.AllIDs() {
		mgr.Remove(drainCtx, id)
	}
	return nil
}

func resolveCodec(cfg channel.Config) *iso8583.Codec {
	schema := iso8583.DefaultSchema()
	frame := iso8583.FrameConfig{HeaderBytes: 4, Encoding: iso8583.ASCIIDigits}
	return iso8583.NewCodec(schema, frame)
}

// samplePending polls every live endpoint's pending registry and feeds
// the aggregate to the metrics sampler until ctx is done.
func samplePending(ctx context.Context, mgr *connmgr.Manager, sampler *metrics.PendingSampler) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var agg pending.Stats
			outstanding := 0
			for _, id := range mgr.AllIDs() {
				ep := mgr.GetConnection(id)
				if ep == nil {
					continue
				}
				st := ep.Registry().Stats()
				agg.Registered += st.Registered
				agg.Completed += st.Completed
				agg.TimedOut += st.TimedOut
				agg.Cancelled += st.Cancelled
				outstanding += ep.Registry().PendingCount()
			}
			sampler.Sample(agg, outstanding)
		}
	}
}

// inboundHandler is the per-channel bridge from the wire to the core:
// network-management messages are acknowledged in place, reversal MTIs
// go through the reversal service so the original is located and marked,
// and everything else runs the pipeline directly.
func inboundHandler(ctx context.Context, channelID string, pl *pipeline.Pipeline, rev *reversal.Service) channel.Handler {
	return func(peerID string, msg *iso8583.Message) (*iso8583.Message, error) {
		switch msg.MTI {
		case "0800":
			return ackResponse(msg, "00"), nil
		case "0400", "0420":
			originalID, _ := msg.FieldString(90)
			reason, _ := msg.FieldString(25)
			result, err := rev.Reverse(ctx, originalID, reason)
			if err != nil {
				return ackResponse(msg, "12"), nil
			}
			resp := ackResponse(msg, result.Transaction.ResponseCode)
			return resp, nil
		default:
			result, err := pl.ExecuteOnChannel(ctx, msg, processor.DeriveType(msg), channelID)
			if err != nil {
				return nil, err
			}
			return result.Response, nil
		}
	}
}

// ackResponse builds the 0x10-class reply to msg carrying code in
// field 39, echoing the request's STAN.
func ackResponse(msg *iso8583.Message, code string) *iso8583.Message {
	mti := msg.MTI
	if len(mti) == 4 {
		b := []byte(mti)
		b[2] = '1'
		mti = string(b)
	}
	resp := iso8583.NewMessage(mti, nil)
	if stan, ok := msg.STAN(); ok {
		resp.SetFieldString(11, stan)
	}
	resp.SetFieldString(39, code)
	return resp
}

func logListener(log *logging.Logger) connmgr.Listener {
	return func(ev connmgr.Event) {
		switch ev.Kind {
		case connmgr.EventFailed:
			log.Warningf("connection %s: %s failed: %v", ev.ChannelID, ev.Kind, ev.Err)
		case connmgr.EventStateChanged:
			log.Debugf("connection %s: %s -> %s", ev.ChannelID, ev.From, ev.To)
		default:
			log.Infof("connection %s: %s", ev.ChannelID, ev.Kind)
		}
	}
}

func buildVault() (*pan.Vault, error) {
	secret := os.Getenv(panSecretEnv)
	if secret == "" {
		secret = "fepd-dev-only-insecure-root-secret"
	}
	return pan.NewVault([]byte(secret))
}

func buildRepository() (txn.Repository, func(), error) {
	if postgresDSN == "" {
		return memory.New(), func() {}, nil
	}
	repo, err := postgres.Open(postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres repository: %w", err)
	}
	return repo, func() {}, nil
}

func buildRuleSet() (validate.RuleSet, error) {
	if rulesFile == "" {
		return validate.RuleSet{}, nil
	}
	doc, err := os.ReadFile(rulesFile)
	if err != nil {
		return validate.RuleSet{}, fmt.Errorf("read rules file %s: %w", rulesFile, err)
	}
	return validate.Parse(string(doc))
}

func parseLevel(s string) logging.Level {
	lvl, err := logging.LogLevel(s)
	if err != nil {
		return logging.INFO
	}
	return lvl
}

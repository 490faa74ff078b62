// Command agentrtd is the orchestrator daemon: it loads the node registry
// and workflow store, wires the four orchestration stages, and serves the
// bidirectional session protocol over WebSocket (spec.md §6). Grounded on
// the teacher's framework.go bootstrap sequence (config -> registry ->
// providers -> serve).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/flowcore/agentrt/internal/capability"
	"github.com/flowcore/agentrt/internal/capability/builtin"
	"github.com/flowcore/agentrt/internal/config"
	"github.com/flowcore/agentrt/internal/designer"
	"github.com/flowcore/agentrt/internal/executor"
	"github.com/flowcore/agentrt/internal/interaction"
	"github.com/flowcore/agentrt/internal/llmclient"
	"github.com/flowcore/agentrt/internal/logger"
	"github.com/flowcore/agentrt/internal/optimizer"
	"github.com/flowcore/agentrt/internal/permission"
	"github.com/flowcore/agentrt/internal/registry"
	"github.com/flowcore/agentrt/internal/session"
	"github.com/flowcore/agentrt/internal/store"
)

func main() {
	registryPath := flag.String("registry", "registry.yaml", "path to the node registry configuration document")
	listenAddr := flag.String("addr", ":8080", "HTTP/WebSocket listen address")
	flag.Parse()

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	log := logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogJSON)

	adapters := bindBuiltinAdapters()

	f, err := os.Open(*registryPath)
	if err != nil {
		log.Error("failed to open registry document", map[string]interface{}{"path": *registryPath, "error": err.Error()})
		os.Exit(1)
	}
	reg, err := registry.Load(f, log, adapters)
	f.Close()
	if err != nil {
		log.Error("failed to load registry", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	var st *store.Store
	if cfg.RedisAddr != "" {
		st, err = store.NewWithRedisCache(cfg.StoreRoot, log, cfg.RedisAddr)
	} else {
		st, err = store.New(cfg.StoreRoot, log)
	}
	if err != nil {
		log.Error("failed to open workflow store", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	pm := permission.NewManager(log, cfg.PermissionDefaultTTL)
	defer pm.Stop()

	llm := llmclient.New(cfg.LLMAPIKey, "", "")
	dsg := designer.New(llm, reg, st, log)
	pool := executor.NewPool(cfg.WorkerPoolSize)
	opt := optimizer.New(st, reg, dsg, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveSession(w, r, func(sender *wsSender) (*session.Session, string) {
			sessionID := uuid.NewString()
			hub := interaction.New(sender, log)
			ex := executor.New(reg, adapters, pm, hub, pool, log)
			deps := session.Deps{
				Designer:   dsg,
				Executor:   ex,
				Optimizer:  opt,
				Permission: pm,
				Logger:     log,
				Deadline:   cfg.SessionDeadline,
			}
			return session.New(sessionID, r.URL.Query().Get("user"), deps, hub), sessionID
		})
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	srv := &http.Server{Addr: *listenAddr, Handler: mux}

	go func() {
		log.Info("agentrtd listening", map[string]interface{}{"addr": *listenAddr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down", nil)
	_ = srv.Shutdown(context.Background())
}

// bindBuiltinAdapters wires the reference capability adapters; a real
// deployment would register its own instead (spec.md §1 treats node
// implementations as external collaborators).
func bindBuiltinAdapters() *capability.Registry {
	reg := capability.NewRegistry()
	reg.Bind("web_search", builtin.WebSearch{})
	reg.Bind("flight_search", builtin.FlightSearch{})
	reg.Bind("cost_analysis", builtin.CostAnalysis{})
	reg.Bind("preference_matcher", builtin.PreferenceMatcher{})
	reg.Bind("user_query", builtin.UserQuery{Prompt: "Could you clarify your request?"})
	reg.Bind("flight_booking", builtin.FlightBooking{})
	reg.Bind("payment_processing", builtin.PaymentProcessing{})
	reg.Bind("result_summarizer", builtin.ResultSummarizer{})
	return reg
}

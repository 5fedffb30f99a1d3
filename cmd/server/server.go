package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	ltiHandler "github.com/edulaunch/ltiauth/internal/controller/http/lti"
	launchStore "github.com/edulaunch/ltiauth/internal/launch/store"
	regSqlite "github.com/edulaunch/ltiauth/internal/repositories/registration/sqlite"
	"github.com/edulaunch/ltiauth/pkg/common/jwkscache"
	"github.com/edulaunch/ltiauth/pkg/common/keys"
	"github.com/edulaunch/ltiauth/pkg/common/logger"
	"github.com/edulaunch/ltiauth/pkg/launch"
)

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	_ = godotenv.Load()

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	logger.Initialize(level)
	logger.Info("starting server")

	// Initialize signing keys early so that if we generate a dev key, the
	// PEM export instructions are printed immediately at startup.
	keySvc, err := keys.FromEnv()
	if err != nil {
		logger.Error("init keys: %v", err)
		os.Exit(1)
	}

	dbPath := os.Getenv("SQLITE_PATH")
	if dbPath == "" {
		dbPath = "./registrations.db"
	}
	registrations, err := regSqlite.NewSQLiteRepo(dbPath)
	if err != nil {
		logger.Error("init registration repo: %v", err)
		os.Exit(1)
	}

	stateTTL := launchStore.DefaultStateTTL
	if v := os.Getenv("LAUNCH_STATE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			stateTTL = d
		} else {
			logger.Warn("invalid LAUNCH_STATE_TTL %q, using default", v)
		}
	}
	limitIP := os.Getenv("LIMIT_IP_ADDRESSES") != "false"

	var stateStore launch.RequestStore
	var sqliteState *launchStore.SQLiteStateStore
	if os.Getenv("LAUNCH_STATE_BACKEND") == "sqlite" {
		statePath := os.Getenv("STATE_SQLITE_PATH")
		if statePath == "" {
			statePath = "./launch_states.db"
		}
		sqliteState, err = launchStore.NewSQLiteStateStore(statePath, stateTTL)
		if err != nil {
			logger.Error("init state store: %v", err)
			os.Exit(1)
		}
		sqliteState.SetLimitIPAddress(limitIP)
		sqliteState.SetIPMismatchHandler(logIPMismatch)
		stateStore = sqliteState
	} else {
		mem := launchStore.NewStateStore(stateTTL)
		mem.SetLimitIPAddress(limitIP)
		mem.SetIPMismatchHandler(logIPMismatch)
		stateStore = mem
	}
	st := launchStore.NewOptimisticStore(launchStore.NewSessionStore(0), stateStore)

	h := ltiHandler.NewHandler(registrations, st, keySvc, jwkscache.Default())
	if target := os.Getenv("DEFAULT_TARGET_URL"); target != "" {
		h.SetDefaultTargetURL(target)
	}

	router := chi.NewRouter()
	const maxBodySize = 2_100_000
	router.Use(middleware.RequestSize(maxBodySize))
	router.Use(middleware.Recoverer)
	router.Mount("/", h.Router())

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	addr := ":" + port
	server := &http.Server{Addr: addr, Handler: withCORS(router)}

	go func() {
		logger.Info("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown: %v", err)
	}
	registrations.Disconnect()
	if sqliteState != nil {
		sqliteState.Disconnect()
	}
	logger.Info("server stopped")
}

func logIPMismatch(initialIP, currentIP string) {
	logger.Warn("launch completion IP mismatch: initiated from %s, completed from %s", initialIP, currentIP)
}

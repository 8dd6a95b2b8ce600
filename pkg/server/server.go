// Package server exposes the rating engine over HTTP. The engine core does
// no network I/O of its own; the server is a thin client of the tariff
// registry, the estimator, and contract storage.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"

	"github.com/gridrater/gridrater/pkg/clock"
	"github.com/gridrater/gridrater/pkg/log"
	"github.com/gridrater/gridrater/pkg/storage"
	"github.com/gridrater/gridrater/pkg/tariff"
)

type contextKey string

const userEmailContextKey contextKey = "userEmail"

// tokenVerifier is a function that validates an OIDC ID token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// Server handles the HTTP API for publishing tariffs and evaluating
// charges against them.
type Server struct {
	storage  storage.Database
	registry tariff.Registry
	clk      clock.Clock

	listenAddr string
	httpServer *http.Server

	adminEmails  []string
	oidcAudience string
	oidcVerifier tokenVerifier
	bypassAuth   bool
	serverName   string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(db storage.Database, reg tariff.Registry, clk clock.Clock) *Server {
	srv := &Server{
		storage:    db,
		registry:   reg,
		clk:        clk,
		serverName: "gridrater",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to publish and mutate tariffs")
	oidcAudience := lflag.String("oidc-audience", "", "Google OIDC audience/client ID to validate bearer tokens against")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *adminEmails != "" {
			srv.adminEmails = strings.Split(*adminEmails, ",")
			for i, email := range srv.adminEmails {
				srv.adminEmails[i] = strings.TrimSpace(email)
			}
		}
		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.oidcAudience = *oidcAudience
			srv.oidcVerifier = provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify
		}
		if srv.oidcAudience == "" && len(srv.adminEmails) == 0 {
			srv.bypassAuth = true
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/tariffs", s.handlePublishTariff)
	apiMux.HandleFunc("GET /api/tariffs", s.handleListTariffs)
	apiMux.HandleFunc("GET /api/tariffs/{id}", s.handleGetTariff)
	apiMux.HandleFunc("POST /api/tariffs/{id}/state", s.handleSetTariffState)
	apiMux.HandleFunc("POST /api/tariffs/{id}/charge", s.handleCharge)
	apiMux.HandleFunc("POST /api/tariffs/{id}/estimate", s.handleEstimate)
	apiMux.HandleFunc("POST /api/tariffs/{id}/hourlyCharge", s.handleAddHourlyCharge)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(mux))
}

// LoadContracts recompiles every stored contract into the registry. Stored
// contracts were covered when published, so a compile failure here means
// the contract was corrupted in storage; it is logged and skipped rather
// than failing startup. Recovered tariffs come back OFFERED; lifecycle
// history beyond the contract itself is not persisted.
func (s *Server) LoadContracts(ctx context.Context) error {
	contracts, err := s.storage.ListContracts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list contracts: %w", err)
	}
	for i := range contracts {
		t := tariff.New(&contracts[i], s.clk)
		if err := t.Init(ctx, s.registry); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to restore stored tariff",
				slog.String("tariffID", contracts[i].ID),
				slog.Any("error", err),
			)
			continue
		}
		t.SetState(tariff.StateOffered)
	}
	log.Ctx(ctx).InfoContext(ctx, "restored tariffs from storage",
		slog.Int("count", len(s.registry.All())))
	return nil
}

// Run starts the HTTP server and blocks until the context is canceled or an
// error occurs. It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

// isAdmin returns true if the user's email is in the adminEmails list.
func (s *Server) isAdmin(email string) bool {
	for _, adminEmail := range s.adminEmails {
		if email == adminEmail {
			return true
		}
	}
	return false
}

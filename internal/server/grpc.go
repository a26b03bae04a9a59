package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/persistence"
	"VaultLedger/internal/projection"
	"VaultLedger/internal/query"

	"github.com/google/uuid"
	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer wraps the gRPC server and the HTTP/JSON mux.
type GRPCServer struct {
	grpcServer   *grpc.Server
	httpServer   *http.Server
	grpcAddr     string
	httpAddr     string
	deps         *ServerDeps
	healthServer *health.Server
	log          zerolog.Logger
}

// ServerDeps holds the dependencies of the API surface.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.AdminIngestService
	SnapshotMgr   *persistence.SnapshotManager
	HealthChecker *observability.HealthChecker
	StartTime     time.Time
	Log           zerolog.Logger
}

func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:   grpcServer,
		grpcAddr:     grpcAddr,
		httpAddr:     httpAddr,
		deps:         deps,
		healthServer: healthServer,
		log:          deps.Log.With().Str("component", "server").Logger(),
	}
}

// StartGRPC starts the gRPC server. Blocks until ctx is cancelled.
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP/JSON API for tooling, dashboards, and
// curl. Routes are registered on a gateway mux directly; the service has
// no generated proto surface yet.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	mux := gwruntime.NewServeMux()

	if err := s.registerQueryRoutes(mux); err != nil {
		return fmt.Errorf("register query routes: %w", err)
	}
	if err := s.registerIngestRoutes(mux); err != nil {
		return fmt.Errorf("register ingest routes: %w", err)
	}
	if err := s.registerAdminRoutes(mux); err != nil {
		return fmt.Errorf("register admin routes: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.deps.HealthChecker != nil {
		httpMux.HandleFunc("/healthz", s.deps.HealthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.deps.HealthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================================
// Query routes
// ============================================================================

func (s *GRPCServer) registerQueryRoutes(mux *gwruntime.ServeMux) error {
	qs := s.deps.QueryService

	if err := mux.HandlePath("GET", "/v1/accounts/{account}/balance", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		account, err := uuid.Parse(pathParams["account"])
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid account: %w", err))
			return
		}
		bal, err := qs.GetBalance(r.Context(), account)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, bal)
	}); err != nil {
		return err
	}

	if err := mux.HandlePath("GET", "/v1/accounts/{account}/positions", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		account, err := uuid.Parse(pathParams["account"])
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid account: %w", err))
			return
		}
		positions, err := qs.GetPositions(r.Context(), account)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, map[string]interface{}{"positions": positions})
	}); err != nil {
		return err
	}

	if err := mux.HandlePath("GET", "/v1/accounts/{account}/actions", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		account, err := uuid.Parse(pathParams["account"])
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid account: %w", err))
			return
		}
		history, err := qs.GetActionHistory(r.Context(), account, queryLimit(r, 50, 200))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, map[string]interface{}{"actions": history})
	}); err != nil {
		return err
	}

	if err := mux.HandlePath("GET", "/v1/accounts/{account}/journals", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		account, err := uuid.Parse(pathParams["account"])
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid account: %w", err))
			return
		}
		var afterSeq *int64
		if v := r.URL.Query().Get("from_sequence"); v != "" {
			seq, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid from_sequence: %w", err))
				return
			}
			afterSeq = &seq
		}
		journals, err := qs.GetJournalHistory(r.Context(), account, queryLimit(r, 100, 500), afterSeq)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, map[string]interface{}{"journals": journals})
	}); err != nil {
		return err
	}

	if err := mux.HandlePath("GET", "/v1/vaults/{vault}/positions", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		positions, err := qs.GetVaultPositions(r.Context(), pathParams["vault"], queryLimit(r, 100, 1000))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, map[string]interface{}{"positions": positions})
	}); err != nil {
		return err
	}

	if err := mux.HandlePath("GET", "/v1/vaults/{vault}/stats", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		stats, err := qs.GetVaultStats(r.Context(), pathParams["vault"])
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, stats)
	}); err != nil {
		return err
	}

	return mux.HandlePath("GET", "/v1/state", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		info, err := qs.GetStateInfo(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, info)
	})
}

// ============================================================================
// Ingest routes
// ============================================================================

type injectPriceRequest struct {
	Symbol        string `json:"symbol"`
	Price         string `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
}

type injectActionRequest struct {
	Vault         string `json:"vault"`
	Kind          string `json:"kind"`
	Account       string `json:"account"`
	Owner         string `json:"owner,omitempty"`
	TokenID       uint64 `json:"token_id,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	UseInsurance  bool   `json:"use_insurance,omitempty"`
	Recipient     string `json:"recipient,omitempty"`
	BatchSequence int64  `json:"batch_sequence"`
}

type injectSweepRequest struct {
	Vault         string   `json:"vault"`
	Caller        string   `json:"caller"`
	Recipient     string   `json:"recipient"`
	TokenIDs      []uint64 `json:"token_ids"`
	SweepSequence int64    `json:"sweep_sequence"`
}

func (s *GRPCServer) registerIngestRoutes(mux *gwruntime.ServeMux) error {
	svc := s.deps.IngestService

	if err := mux.HandlePath("POST", "/v1/ingest/price", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		var req injectPriceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := svc.InjectFloorPrice(r.Context(), req.Symbol, req.Price, req.PriceSequence); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, map[string]bool{"accepted": true})
	}); err != nil {
		return err
	}

	if err := mux.HandlePath("POST", "/v1/ingest/action", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		var req injectActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		spec, err := specFromRequest(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := svc.InjectActionBatch(r.Context(), req.Vault, spec, req.BatchSequence); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, map[string]bool{"accepted": true})
	}); err != nil {
		return err
	}

	return mux.HandlePath("POST", "/v1/ingest/sweep", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		var req injectSweepRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		caller, err := uuid.Parse(req.Caller)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid caller: %w", err))
			return
		}
		recipient, err := uuid.Parse(req.Recipient)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid recipient: %w", err))
			return
		}
		if err := svc.InjectSweep(r.Context(), req.Vault, caller, recipient, req.TokenIDs, req.SweepSequence); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, map[string]bool{"accepted": true})
	})
}

func specFromRequest(req injectActionRequest) (event.ActionSpec, error) {
	var spec event.ActionSpec

	kind := event.ParseActionKind(req.Kind)
	if kind == event.ActionUnknown {
		return spec, fmt.Errorf("unknown action kind %q", req.Kind)
	}
	account, err := uuid.Parse(req.Account)
	if err != nil {
		return spec, fmt.Errorf("invalid account: %w", err)
	}

	spec = event.ActionSpec{
		Kind:         kind,
		Account:      account,
		TokenID:      req.TokenID,
		Amount:       req.Amount,
		UseInsurance: req.UseInsurance,
	}
	if req.Owner != "" {
		owner, err := uuid.Parse(req.Owner)
		if err != nil {
			return spec, fmt.Errorf("invalid owner: %w", err)
		}
		spec.Owner = owner
	}
	if req.Recipient != "" {
		recipient, err := uuid.Parse(req.Recipient)
		if err != nil {
			return spec, fmt.Errorf("invalid recipient: %w", err)
		}
		spec.Recipient = recipient
	}
	return spec, nil
}

// ============================================================================
// Admin routes
// ============================================================================

func (s *GRPCServer) registerAdminRoutes(mux *gwruntime.ServeMux) error {
	if err := mux.HandlePath("GET", "/v1/admin/integrity", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, report)
	}); err != nil {
		return err
	}

	if err := mux.HandlePath("GET", "/v1/admin/eventlog", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		latestSeq, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, map[string]interface{}{
			"last_sequence": latestSeq,
			"uptime_sec":    int64(time.Since(s.deps.StartTime).Seconds()),
		})
	}); err != nil {
		return err
	}

	return mux.HandlePath("POST", "/v1/admin/rebuild-projections", func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		if err := projection.RebuildProjections(r.Context(), s.deps.DB); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, map[string]bool{"started": true})
	})
}

// ============================================================================
// Helpers
// ============================================================================

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func queryLimit(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

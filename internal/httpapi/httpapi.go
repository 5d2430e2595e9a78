// Package httpapi exposes the kernel's controller/operator surface:
// health/readiness/metrics for every production deployment, JWT-gated
// mutating endpoints over the domain components, and an SSE stream of
// the event bus.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flowkernel/kernel/internal/auth"
	"github.com/flowkernel/kernel/internal/channel"
	"github.com/flowkernel/kernel/internal/consent"
	"github.com/flowkernel/kernel/internal/directory"
	"github.com/flowkernel/kernel/internal/events"
	"github.com/flowkernel/kernel/internal/intent"
	"github.com/flowkernel/kernel/internal/mesh"
	"github.com/flowkernel/kernel/internal/obs"
	"github.com/flowkernel/kernel/internal/policy"
	"github.com/flowkernel/kernel/internal/router"
)

// ReadyProbe decides whether /readyz should report ready. DB is
// optional: a kernel running purely off tokenledger.InMemory (no
// Postgres configured) is ready once it has started.
type ReadyProbe struct {
	DB *sql.DB
}

func (p ReadyProbe) check(ctx context.Context) error {
	if p.DB == nil {
		return nil
	}
	return p.DB.PingContext(ctx)
}

// Kernel bundles the domain components the administrative surface
// operates on. Any field may be nil; handlers that need a missing
// component report 503.
type Kernel struct {
	Consent   *consent.Registry
	Channels  *channel.Registry
	Policies  *policy.Enforcer
	Intents   *intent.Registry
	Directory *directory.Directory
	Router    *router.Router
	Mesh      *mesh.Mesh
	Bus       *events.Bus
}

// OperatorCredential is the bootstrap login the controller process
// checks /v1/login against before minting a JWT. An empty PasswordHash
// disables the endpoint (501), matching a deployment that mints
// operator tokens out of band.
type OperatorCredential struct {
	User            string
	PasswordHash    string
	Address         common.Address
	TokenTTLSeconds int64
}

// API is the HTTP surface over a Kernel.
type API struct {
	kernel   Kernel
	probe    ReadyProbe
	version  string
	operator OperatorCredential
}

func New(kernel Kernel, probe ReadyProbe, version string, operator OperatorCredential) *API {
	return &API{kernel: kernel, probe: probe, version: version, operator: operator}
}

// Handler builds the full middleware-wrapped mux.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /readyz", a.handleReadyz)
	mux.Handle("GET /metrics", obs.Handler())
	mux.HandleFunc("GET /version", a.handleVersion)
	mux.HandleFunc("GET /v1/events", a.handleEventStream)
	mux.HandleFunc("POST /v1/login", a.handleLogin)

	mux.Handle("POST /v1/consent/revoke", a.authenticated(auth.RoleController, http.HandlerFunc(a.handleConsentRevoke)))
	mux.Handle("POST /v1/consent/set-cap", a.authenticated(auth.RoleController, http.HandlerFunc(a.handleConsentSetCap)))
	mux.Handle("POST /v1/channel/pause", a.authenticated(auth.RoleOperator, http.HandlerFunc(a.handleChannelPause)))
	mux.Handle("POST /v1/channel/resume", a.authenticated(auth.RoleOperator, http.HandlerFunc(a.handleChannelResume)))
	mux.Handle("POST /v1/channel/revoke", a.authenticated(auth.RoleController, http.HandlerFunc(a.handleChannelRevoke)))
	mux.Handle("POST /v1/policy/revoke", a.authenticated(auth.RoleController, http.HandlerFunc(a.handlePolicyRevoke)))
	mux.Handle("POST /v1/intent/revoke", a.authenticated(auth.RoleController, http.HandlerFunc(a.handleIntentRevoke)))
	mux.Handle("POST /v1/mesh/tick", a.authenticated(auth.RoleOperator, http.HandlerFunc(a.handleMeshTick)))
	mux.Handle("POST /v1/directory/configure", a.authenticated(auth.RoleController, http.HandlerFunc(a.handleDirectoryConfigure)))

	var h http.Handler = mux
	h = obs.Instrument(h)
	h = RequestID(h)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = Logging(h)
	h = MaxBodyBytes(h, 1<<20)
	return h
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := a.probe.check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "error": err.Error()})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"version": a.version})
}

// handleEventStream is an unauthenticated SSE stream of kernel events,
// mirroring ConsentRegistry.Observe's "anyone may watch" posture.
func (a *API) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if a.kernel.Bus == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := a.kernel.Bus.Subscribe(r.Context())
	for evt := range sub {
		data, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: " + evt.Name + "\ndata: "))
		_, _ = w.Write(data)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

type loginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// handleLogin exchanges an operator passphrase for a controller-role
// JWT. Disabled (501) when no OperatorCredential.PasswordHash is
// configured, e.g. in deployments that mint tokens out of band.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if a.operator.PasswordHash == "" {
		writeJSON(w, http.StatusNotImplemented, errBody("operator login is not configured"))
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	if req.User != a.operator.User {
		writeJSON(w, http.StatusUnauthorized, errBody("invalid credentials"))
		return
	}
	if err := auth.VerifyPassword(a.operator.PasswordHash, req.Password); err != nil {
		writeJSON(w, http.StatusUnauthorized, errBody("invalid credentials"))
		return
	}
	ttl := time.Duration(a.operator.TokenTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	token, err := auth.GenerateToken(a.operator.Address.Hex(), []string{auth.RoleController}, ttl)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "expires_in": int(ttl.Seconds())})
}

type revokeRequest struct {
	AuthHash string `json:"auth_hash"`
	Now      uint64 `json:"now"`
}

func (a *API) handleConsentRevoke(w http.ResponseWriter, r *http.Request) {
	if a.kernel.Consent == nil {
		writeJSON(w, http.StatusServiceUnavailable, errBody("consent registry not configured"))
		return
	}
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	caller := callerFromRequest(r)
	if err := a.kernel.Consent.Revoke(caller, common.HexToHash(req.AuthHash), req.Now); err != nil {
		writeJSON(w, http.StatusConflict, errBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

type setCapRequest struct {
	AuthHash string `json:"auth_hash"`
	NewCap   string `json:"new_cap"`
}

func (a *API) handleConsentSetCap(w http.ResponseWriter, r *http.Request) {
	if a.kernel.Consent == nil {
		writeJSON(w, http.StatusServiceUnavailable, errBody("consent registry not configured"))
		return
	}
	var req setCapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	cap, ok := new(big.Int).SetString(req.NewCap, 10)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errBody("new_cap must be a base-10 integer"))
		return
	}
	caller := callerFromRequest(r)
	if err := a.kernel.Consent.SetCap(caller, common.HexToHash(req.AuthHash), cap); err != nil {
		writeJSON(w, http.StatusConflict, errBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
}

type channelRequest struct {
	ChannelID string `json:"channel_id"`
	Now       uint64 `json:"now"`
}

func (a *API) handleChannelPause(w http.ResponseWriter, r *http.Request) {
	a.channelOp(w, r, func(caller common.Address, id common.Hash, now uint64) error {
		return a.kernel.Channels.Pause(caller, id, now)
	})
}

func (a *API) handleChannelResume(w http.ResponseWriter, r *http.Request) {
	a.channelOp(w, r, func(caller common.Address, id common.Hash, now uint64) error {
		return a.kernel.Channels.Resume(caller, id, now)
	})
}

func (a *API) handleChannelRevoke(w http.ResponseWriter, r *http.Request) {
	a.channelOp(w, r, func(caller common.Address, id common.Hash, now uint64) error {
		return a.kernel.Channels.Revoke(caller, id, now)
	})
}

func (a *API) channelOp(w http.ResponseWriter, r *http.Request, op func(common.Address, common.Hash, uint64) error) {
	if a.kernel.Channels == nil {
		writeJSON(w, http.StatusServiceUnavailable, errBody("channel registry not configured"))
		return
	}
	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	caller := callerFromRequest(r)
	if err := op(caller, common.HexToHash(req.ChannelID), req.Now); err != nil {
		writeJSON(w, http.StatusConflict, errBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type policyRevokeRequest struct {
	PolicyID string `json:"policy_id"`
}

func (a *API) handlePolicyRevoke(w http.ResponseWriter, r *http.Request) {
	if a.kernel.Policies == nil {
		writeJSON(w, http.StatusServiceUnavailable, errBody("policy enforcer not configured"))
		return
	}
	var req policyRevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	caller := callerFromRequest(r)
	if err := a.kernel.Policies.RevokePolicy(caller, common.HexToHash(req.PolicyID)); err != nil {
		writeJSON(w, http.StatusConflict, errBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

type intentRevokeRequest struct {
	IntentHash string `json:"intent_hash"`
}

func (a *API) handleIntentRevoke(w http.ResponseWriter, r *http.Request) {
	if a.kernel.Intents == nil {
		writeJSON(w, http.StatusServiceUnavailable, errBody("intent registry not configured"))
		return
	}
	var req intentRevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	caller := callerFromRequest(r)
	if err := a.kernel.Intents.RevokeIntent(caller, common.HexToHash(req.IntentHash)); err != nil {
		writeJSON(w, http.StatusConflict, errBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

type meshTickRequest struct {
	MaxStepAmount string `json:"max_step_amount"`
	Now           uint64 `json:"now"`
}

func (a *API) handleMeshTick(w http.ResponseWriter, r *http.Request) {
	if a.kernel.Mesh == nil {
		writeJSON(w, http.StatusServiceUnavailable, errBody("mesh not configured"))
		return
	}
	var req meshTickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	step, ok := new(big.Int).SetString(req.MaxStepAmount, 10)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errBody("max_step_amount must be a base-10 integer"))
		return
	}
	caller := callerFromRequest(r)
	if err := a.kernel.Mesh.RebalanceTick(r.Context(), caller, step, req.Now); err != nil {
		writeJSON(w, http.StatusConflict, errBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ticked"})
}

type directoryConfigureRequest struct {
	DomainID    string `json:"domain_id"`
	Adapter     string `json:"adapter"`
	Destination string `json:"destination"`
	Active      bool   `json:"active"`
}

func (a *API) handleDirectoryConfigure(w http.ResponseWriter, r *http.Request) {
	if a.kernel.Directory == nil {
		writeJSON(w, http.StatusServiceUnavailable, errBody("directory not configured"))
		return
	}
	var req directoryConfigureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody(err.Error()))
		return
	}
	caller := callerFromRequest(r)
	err := a.kernel.Directory.SetDomain(caller, common.HexToHash(req.DomainID),
		common.HexToAddress(req.Adapter), common.HexToAddress(req.Destination), req.Active)
	if err != nil {
		writeJSON(w, http.StatusConflict, errBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "configured"})
}

// callerFromRequest resolves the on-chain address the authenticated
// operator is acting as, carried as the JWT subject.
func callerFromRequest(r *http.Request) common.Address {
	userID, _ := auth.UserIDFromContext(r.Context())
	return common.HexToAddress(userID)
}

func errBody(msg string) map[string]any { return map[string]any{"error": msg} }

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/accordsai/claimlane/pkg/authn"
	"github.com/accordsai/claimlane/pkg/httpx"
	"github.com/accordsai/claimlane/services/claims/internal/attestation"
	"github.com/accordsai/claimlane/services/claims/internal/claims"
	"github.com/accordsai/claimlane/services/claims/internal/idempotency"

	"github.com/go-chi/chi/v5"
)

const maxAttestationBodyBytes = 1 << 20 // 1MB

// Options wires a Handler. Attestations is optional; without it the ingress
// route answers 404.
type Options struct {
	Engine       *claims.Engine
	Auth         *authn.Authenticator
	Idempotency  idempotency.Store
	Attestations *attestation.Ingress
	Revoker      CredentialRevoker
	Limiter      *Limiter
	Logger       *slog.Logger
	Now          func() time.Time
}

// CredentialRevoker deletes a stored bearer credential by token hash.
type CredentialRevoker interface {
	RevokeCredential(ctx context.Context, tokenHash string) (bool, error)
}

type Handler struct {
	engine  *claims.Engine
	auth    *authn.Authenticator
	idem    idempotency.Store
	ingress *attestation.Ingress
	revoker CredentialRevoker
	limiter *Limiter
	log     *slog.Logger
	now     func() time.Time
}

func New(opts Options) *Handler {
	h := &Handler{
		engine:  opts.Engine,
		auth:    opts.Auth,
		idem:    opts.Idempotency,
		ingress: opts.Attestations,
		revoker: opts.Revoker,
		limiter: opts.Limiter,
		log:     opts.Logger,
		now:     opts.Now,
	}
	if h.auth == nil {
		h.auth = authn.NewAuthenticator(time.Minute)
	}
	if h.idem == nil {
		h.idem = idempotency.NewMemoryStore(24 * time.Hour)
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.WithRequestID(h.log))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/claims/v1", func(api chi.Router) {
		api.Use(h.limiter.Middleware)

		api.Get("/parameters", h.getParameters)
		api.Put("/parameters/{name}", h.putParameter)
		api.Post("/parameters/pause", h.pause)
		api.Post("/parameters/unpause", h.unpause)
		api.Post("/parameters/owner", h.transferOwnership)

		api.Post("/claims", h.submitClaim)
		api.Get("/claims/{owner}", h.listClaims)
		api.Get("/claims/{owner}/{claim_id}", h.getClaim)
		api.Get("/claims/{owner}/{claim_id}/claimed", h.isClaimed)
		api.Post("/claims/{owner}/{claim_id}/verify", h.verifyClaim)
		api.Post("/claims/{owner}/{claim_id}/payout", h.executePayout)

		api.Get("/identities/{identity}", h.getIdentity)
		api.Get("/rosters/{roster}", h.listRoster)
		api.Put("/rosters/{roster}/{identity}", h.addMember)
		api.Delete("/rosters/{roster}/{identity}", h.removeMember)

		api.Get("/ledger/balance", h.getBalance)
		api.Get("/ledger/availability", h.getAvailability)
		api.Get("/ledger/exposure", h.getExposure)
		api.Post("/ledger/funds", h.addFunds)

		api.Get("/events", h.listEvents)
		api.Get("/events/verify", h.verifyChain)
		api.Get("/snapshot", h.getSnapshot)
		api.Get("/reports", h.getReport)

		api.Post("/attestations", h.ingestAttestation)
		api.Delete("/session", h.revokeSession)
	})
	return r
}

// authenticate resolves the bearer caller or writes 401.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (claims.Identity, bool) {
	id, err := h.auth.AuthenticateBearer(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		if errors.Is(err, authn.ErrUnauthorized) {
			httpx.WriteErrorFor(r, w, 401, "UNAUTHENTICATED", "valid bearer token required", nil)
			return "", false
		}
		httpx.WriteErrorFor(r, w, 500, "AUTH_ERROR", err.Error(), nil)
		return "", false
	}
	return claims.Identity(id), true
}

// mutate authenticates the caller and runs fn at most once per Idempotency-Key.
// Only successful responses are recorded for replay.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, endpoint string, fn func(caller claims.Identity) (int, any, error)) {
	caller, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	actor := idempotency.ActorContext{Identity: string(caller), IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key"))}
	status, body, replayed, err := idempotency.Replay(r.Context(), h.idem, actor, endpoint)
	if err != nil {
		httpx.WriteErrorFor(r, w, 500, "DB_ERROR", err.Error(), nil)
		return
	}
	if replayed {
		w.Header().Set("content-type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(status)
		_, _ = w.Write(body)
		return
	}

	status, resp, err := fn(caller)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := idempotency.Save(r.Context(), h.idem, actor, endpoint, status, resp); err != nil {
		h.log.Error("idempotency save failed", "endpoint", endpoint, "caller", caller, "err", err)
	}
	httpx.WriteJSON(w, status, resp)
}

// revokeSession deletes the caller's own stored token and drops it from the
// authentication cache, so it stops working on this instance at once. Other
// instances keep honouring it until their cache entry expires.
func (h *Handler) revokeSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if h.revoker == nil {
		httpx.WriteErrorFor(r, w, 501, "REVOCATION_UNAVAILABLE", "tokens are not revocable without a credential store", nil)
		return
	}
	token, _ := authn.ParseBearerToken(r.Header.Get("Authorization"))
	tokenHash := authn.HashToken(token)
	revoked, err := h.revoker.RevokeCredential(r.Context(), tokenHash)
	if err != nil {
		httpx.WriteErrorFor(r, w, 500, "DB_ERROR", err.Error(), nil)
		return
	}
	h.auth.Forget(tokenHash)
	h.log.Info("credential revoked", "identity", caller, "revoked", revoked)
	httpx.WriteJSON(w, 200, envelope(r, "revoked", revoked))
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteJSON(w, 200, v)
}

func envelope(r *http.Request, key string, v any) map[string]any {
	return map[string]any{"request_id": httpx.RequestID(r.Context()), key: v}
}

// pathParam returns the unescaped route parameter; chi matches on RawPath
// when the client escaped a slash.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		raw = v
	}
	return strings.TrimSpace(raw)
}

func pathIdentity(r *http.Request, name string) claims.Identity {
	return claims.Identity(pathParam(r, name))
}

func (h *Handler) getParameters(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Params.Current(r.Context())
	h.respond(w, r, envelope(r, "parameters", p), err)
}

func (h *Handler) putParameter(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var update func(caller claims.Identity, v uint64) (claims.ParameterSet, error)
	switch name {
	case "threshold":
		update = func(c claims.Identity, v uint64) (claims.ParameterSet, error) {
			return h.engine.Params.UpdateThreshold(r.Context(), c, v)
		}
	case "fee":
		update = func(c claims.Identity, v uint64) (claims.ParameterSet, error) {
			return h.engine.Params.UpdateFee(r.Context(), c, v)
		}
	case "quorum":
		update = func(c claims.Identity, v uint64) (claims.ParameterSet, error) {
			return h.engine.Params.UpdateQuorum(r.Context(), c, v)
		}
	default:
		httpx.WriteErrorFor(r, w, 404, "NOT_FOUND", "unknown parameter "+strconv.Quote(name), nil)
		return
	}
	var req struct {
		Value *uint64 `json:"value"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteErrorFor(r, w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	if req.Value == nil {
		httpx.WriteErrorFor(r, w, 400, "BAD_REQUEST", "value is required", nil)
		return
	}
	h.mutate(w, r, "PUT /claims/v1/parameters/"+name, func(caller claims.Identity) (int, any, error) {
		p, err := update(caller, *req.Value)
		return 200, envelope(r, "parameters", p), err
	})
}

func (h *Handler) pause(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "POST /claims/v1/parameters/pause", func(caller claims.Identity) (int, any, error) {
		p, err := h.engine.Params.Pause(r.Context(), caller)
		return 200, envelope(r, "parameters", p), err
	})
}

func (h *Handler) unpause(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "POST /claims/v1/parameters/unpause", func(caller claims.Identity) (int, any, error) {
		p, err := h.engine.Params.Unpause(r.Context(), caller)
		return 200, envelope(r, "parameters", p), err
	})
}

func (h *Handler) transferOwnership(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner claims.Identity `json:"owner"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteErrorFor(r, w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	h.mutate(w, r, "POST /claims/v1/parameters/owner", func(caller claims.Identity) (int, any, error) {
		p, err := h.engine.Params.TransferOwnership(r.Context(), caller, req.Owner)
		return 200, envelope(r, "parameters", p), err
	})
}

func (h *Handler) submitClaim(w http.ResponseWriter, r *http.Request) {
	var req claims.SubmitRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteErrorFor(r, w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	h.mutate(w, r, "POST /claims/v1/claims", func(caller claims.Identity) (int, any, error) {
		if req.Owner == "" {
			req.Owner = caller
		}
		c, err := h.engine.Registry.SubmitClaim(r.Context(), caller, req)
		return 201, envelope(r, "claim", c), err
	})
}

func (h *Handler) listClaims(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.Registry.GetClaims(r.Context(), pathIdentity(r, "owner"))
	h.respond(w, r, envelope(r, "claims", list), err)
}

func (h *Handler) getClaim(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.Registry.GetClaim(r.Context(), pathIdentity(r, "owner"), pathParam(r, "claim_id"))
	h.respond(w, r, envelope(r, "claim", c), err)
}

func (h *Handler) isClaimed(w http.ResponseWriter, r *http.Request) {
	ok, err := h.engine.Registry.IsClaimed(r.Context(), pathIdentity(r, "owner"), pathParam(r, "claim_id"))
	h.respond(w, r, envelope(r, "claimed", ok), err)
}

func (h *Handler) verifyClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InsuranceRate *uint64 `json:"insurance_rate"`
		Verified      *bool   `json:"verified"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteErrorFor(r, w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	if req.InsuranceRate == nil || req.Verified == nil {
		httpx.WriteErrorFor(r, w, 400, "BAD_REQUEST", "insurance_rate and verified are required", nil)
		return
	}
	owner, claimID := pathIdentity(r, "owner"), pathParam(r, "claim_id")
	h.mutate(w, r, "POST /claims/v1/claims/"+claims.ClaimKey{Owner: owner, ClaimID: claimID}.String()+"/verify", func(caller claims.Identity) (int, any, error) {
		c, err := h.engine.Verification.Verify(r.Context(), caller, claims.VerifyRequest{
			Owner: owner, ClaimID: claimID, InsuranceRate: *req.InsuranceRate, Verified: *req.Verified,
		})
		return 200, envelope(r, "claim", c), err
	})
}

func (h *Handler) executePayout(w http.ResponseWriter, r *http.Request) {
	owner, claimID := pathIdentity(r, "owner"), pathParam(r, "claim_id")
	h.mutate(w, r, "POST /claims/v1/claims/"+claims.ClaimKey{Owner: owner, ClaimID: claimID}.String()+"/payout", func(caller claims.Identity) (int, any, error) {
		rcpt, err := h.engine.Settlement.ExecutePayout(r.Context(), caller, owner, claimID)
		return 200, envelope(r, "payout", rcpt), err
	})
}

func (h *Handler) getIdentity(w http.ResponseWriter, r *http.Request) {
	ctx, id := r.Context(), pathIdentity(r, "identity")
	out := map[string]any{"identity": id}
	for key, check := range map[string]func() (bool, error){
		"whitelisted": func() (bool, error) { return h.engine.Policy.IsWhitelisted(ctx, id) },
		"blacklisted": func() (bool, error) { return h.engine.Policy.IsBlacklisted(ctx, id) },
		"validator":   func() (bool, error) { return h.engine.Policy.IsAuthorizedValidator(ctx, id) },
		"eligible":    func() (bool, error) { return h.engine.Policy.IsEligibleClaimant(ctx, id) },
	} {
		v, err := check()
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		out[key] = v
	}
	h.respond(w, r, envelope(r, "identity", out), nil)
}

func (h *Handler) roster(w http.ResponseWriter, r *http.Request) (claims.Roster, bool) {
	roster, err := claims.ParseRoster(chi.URLParam(r, "roster"))
	if err != nil {
		httpx.WriteErrorFor(r, w, 404, "NOT_FOUND", err.Error(), nil)
		return "", false
	}
	return roster, true
}

func (h *Handler) listRoster(w http.ResponseWriter, r *http.Request) {
	roster, ok := h.roster(w, r)
	if !ok {
		return
	}
	members, err := h.engine.Policy.Members(r.Context(), roster)
	h.respond(w, r, map[string]any{"request_id": httpx.RequestID(r.Context()), "roster": roster, "members": members}, err)
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	h.changeMember(w, r, true)
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	h.changeMember(w, r, false)
}

func (h *Handler) changeMember(w http.ResponseWriter, r *http.Request, add bool) {
	roster, ok := h.roster(w, r)
	if !ok {
		return
	}
	id := pathIdentity(r, "identity")
	endpoint := "DELETE /claims/v1/rosters/" + string(roster) + "/" + string(id)
	if add {
		endpoint = "PUT /claims/v1/rosters/" + string(roster) + "/" + string(id)
	}
	h.mutate(w, r, endpoint, func(caller claims.Identity) (int, any, error) {
		var changed bool
		var err error
		if add {
			changed, err = h.engine.Policy.Add(r.Context(), caller, roster, id)
		} else {
			changed, err = h.engine.Policy.Remove(r.Context(), caller, roster, id)
		}
		return 200, map[string]any{
			"request_id": httpx.RequestID(r.Context()),
			"roster":     roster,
			"identity":   id,
			"changed":    changed,
		}, err
	})
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.engine.Ledger.Balance(r.Context())
	h.respond(w, r, envelope(r, "balance", b), err)
}

func (h *Handler) getAvailability(w http.ResponseWriter, r *http.Request) {
	amount, err := claims.ParseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	av, err := h.engine.Ledger.CheckAvailability(r.Context(), amount)
	h.respond(w, r, envelope(r, "availability", av), err)
}

func (h *Handler) getExposure(w http.ResponseWriter, r *http.Request) {
	exp, err := h.engine.Ledger.Exposure(r.Context())
	h.respond(w, r, envelope(r, "exposure", exp), err)
}

func (h *Handler) addFunds(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount claims.Amount `json:"amount"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteErrorFor(r, w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	h.mutate(w, r, "POST /claims/v1/ledger/funds", func(caller claims.Identity) (int, any, error) {
		after, err := h.engine.Ledger.AddFunds(r.Context(), caller, req.Amount)
		return 200, envelope(r, "balance", after), err
	})
}

func parseEventFilter(r *http.Request) (claims.EventFilter, error) {
	q := r.URL.Query()
	f := claims.EventFilter{
		Actor:   claims.Identity(strings.TrimSpace(q.Get("actor"))),
		Owner:   claims.Identity(strings.TrimSpace(q.Get("owner"))),
		ClaimID: strings.TrimSpace(q.Get("claim_id")),
	}
	for _, raw := range q["kind"] {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				f.Kinds = append(f.Kinds, claims.EventKind(k))
			}
		}
	}
	if v := q.Get("after_seq"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return f, errors.New("after_seq must be a non-negative integer")
		}
		f.AfterSeq = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	for name, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, errors.New(name + " must be an RFC3339 timestamp")
			}
			*dst = t
		}
	}
	return f, nil
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	f, err := parseEventFilter(r)
	if err != nil {
		httpx.WriteErrorFor(r, w, 400, "BAD_REQUEST", err.Error(), nil)
		return
	}
	events, err := h.engine.Audit.Events(r.Context(), f)
	h.respond(w, r, envelope(r, "events", events), err)
}

func (h *Handler) verifyChain(w http.ResponseWriter, r *http.Request) {
	rep, err := h.engine.Audit.VerifyChain(r.Context())
	if err != nil {
		status, code := statusFor(err)
		httpx.WriteErrorFor(r, w, status, code, err.Error(), rep)
		return
	}
	httpx.WriteJSON(w, 200, envelope(r, "chain", rep))
}

// getReport serves a named period (period=daily|weekly|monthly|quarterly|yearly)
// or an explicit since/until range.
func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var since, until time.Time
	if period := q.Get("period"); period != "" {
		if q.Get("since") != "" || q.Get("until") != "" {
			httpx.WriteErrorFor(r, w, 400, "BAD_REQUEST", "period cannot be combined with since or until", nil)
			return
		}
		var err error
		since, until, err = claims.ReportPeriod(period, h.now())
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
	} else {
		f, err := parseEventFilter(r)
		if err != nil {
			httpx.WriteErrorFor(r, w, 400, "BAD_REQUEST", err.Error(), nil)
			return
		}
		since, until = f.Since, f.Until
	}
	rep, err := h.engine.Audit.Report(r.Context(), since, until)
	h.respond(w, r, envelope(r, "report", rep), err)
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Audit.Snapshot(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	all := make([]claims.Claim, 0, len(snap.Order))
	for _, k := range snap.Order {
		all = append(all, snap.Claims[k])
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"request_id": httpx.RequestID(r.Context()),
		"snapshot":   snap,
		"claims":     all,
	})
}

func (h *Handler) ingestAttestation(w http.ResponseWriter, r *http.Request) {
	if h.ingress == nil {
		httpx.WriteErrorFor(r, w, 404, "NOT_FOUND", "attestation ingress is not configured", nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxAttestationBodyBytes)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpx.WriteErrorFor(r, w, 413, "PAYLOAD_TOO_LARGE", "payload exceeds 1MB limit", nil)
			return
		}
		httpx.WriteErrorFor(r, w, 400, "BAD_BODY", err.Error(), nil)
		return
	}
	res, err := h.ingress.Accept(r.Context(), r.Header, rawBody, h.now())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	status := "applied"
	if res.Replayed {
		status = "replayed"
	}
	body := map[string]any{
		"request_id": httpx.RequestID(r.Context()),
		"status":     status,
		"receipt":    res.Receipt,
	}
	if res.Claim != nil {
		body["claim"] = res.Claim
	}
	httpx.WriteJSON(w, 200, body)
}

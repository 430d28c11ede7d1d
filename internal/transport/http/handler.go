package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"idledger/internal/credential"
	"idledger/internal/identity"
	"idledger/internal/roles"
	"idledger/internal/verification"
	id "idledger/pkg/domain"
	dErrors "idledger/pkg/domain-errors"
	"idledger/pkg/platform/httputil"
	"idledger/pkg/requestcontext"
)

type RoleService interface {
	Grant(ctx context.Context, caller, target id.Principal, role roles.Role) (*roles.GrantResult, error)
	TransferAdmin(ctx context.Context, caller, newAdmin id.Principal) (*roles.GrantResult, error)
	RoleOf(ctx context.Context, caller, p id.Principal) (roles.Role, error)
	HasRole(ctx context.Context, caller, p id.Principal, role roles.Role) (bool, error)
	Admin(ctx context.Context, caller id.Principal) (id.Principal, error)
}

type IdentityService interface {
	Register(ctx context.Context, caller id.Principal, reg identity.Registration) (*identity.Registered, error)
	Get(ctx context.Context, caller, principal id.Principal) (*identity.SubjectView, error)
}

type CredentialService interface {
	Issue(ctx context.Context, caller, subject id.Principal, claim []byte) (*credential.Committed, error)
	Revoke(ctx context.Context, caller, subject id.Principal, fp id.Fingerprint) (*credential.Committed, error)
	Get(ctx context.Context, caller, subject id.Principal, fp id.Fingerprint) (*credential.Credential, error)
	Status(ctx context.Context, caller, subject id.Principal, fp id.Fingerprint) (credential.Status, error)
}

type VerificationService interface {
	Verify(ctx context.Context, caller, subject id.Principal, fp id.Fingerprint) (*verification.Result, error)
}

// Handler serves the registry API. Every route acts as the authenticated
// principal placed in the context by auth.RequireAuth.
type Handler struct {
	logger       *slog.Logger
	roles        RoleService
	identity     IdentityService
	credentials  CredentialService
	verification VerificationService
}

func New(logger *slog.Logger, roleSvc RoleService, identitySvc IdentityService, credentialSvc CredentialService, verificationSvc VerificationService) *Handler {
	return &Handler{
		logger:       logger,
		roles:        roleSvc,
		identity:     identitySvc,
		credentials:  credentialSvc,
		verification: verificationSvc,
	}
}

// Register mounts the API routes on r. Authentication is applied by the caller.
func (h *Handler) Register(r chi.Router) {
	r.Post("/subjects", h.HandleRegisterSubject)
	r.Get("/subjects/{principal}", h.HandleGetSubject)

	r.Get("/admin", h.HandleGetAdmin)
	r.Post("/admin/transfer", h.HandleTransferAdmin)
	r.Post("/roles", h.HandleGrantRole)
	r.Get("/roles/{principal}", h.HandleRoleOf)
	r.Get("/roles/{principal}/{role}", h.HandleHasRole)
	r.Post("/issuers", h.grantFixed(roles.RoleIssuer))
	r.Post("/verifiers", h.grantFixed(roles.RoleVerifier))

	r.Post("/credentials", h.HandleIssueCredential)
	r.Post("/credentials/revoke", h.HandleRevokeCredential)
	r.Post("/credentials/verify", h.HandleVerifyCredential)
	r.Get("/credentials/{subject}/{fingerprint}", h.HandleGetCredential)
	r.Get("/credentials/{subject}/{fingerprint}/status", h.HandleGetStatus)
}

func (h *Handler) HandleRegisterSubject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[RegisterSubjectRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.identity.Register(ctx, requestcontext.Principal(ctx), identity.Registration{
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		ExternalID:   req.ExternalID,
		Organization: req.Organization,
	})
	if err != nil {
		h.fail(ctx, w, "register subject", err)
		return
	}
	resp := toSubject(res.Subject)
	resp.Receipt = toReceipt(res.Commit)
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) HandleGetSubject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := id.ParsePrincipal(chi.URLParam(r, "principal"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.identity.Get(ctx, requestcontext.Principal(ctx), principal)
	if err != nil {
		h.fail(ctx, w, "get subject", err)
		return
	}
	resp := toSubject(view.Subject)
	resp.Profile = toProfile(view.Profile)
	resp.ProfileDegraded = view.ProfileDegraded
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleGetAdmin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	admin, err := h.roles.Admin(ctx, requestcontext.Principal(ctx))
	if err != nil {
		h.fail(ctx, w, "get admin", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AdminResponse{Admin: admin})
}

func (h *Handler) HandleGrantRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[GrantRoleRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.grant(w, r, req.target, req.role)
}

func (h *Handler) grantFixed(role roles.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		req, ok := httputil.DecodeAndPrepare[TargetRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
		if !ok {
			return
		}
		h.grant(w, r, req.target, role)
	}
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request, target id.Principal, role roles.Role) {
	ctx := r.Context()
	res, err := h.roles.Grant(ctx, requestcontext.Principal(ctx), target, role)
	if err != nil {
		h.fail(ctx, w, "grant role", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toGrant(res))
}

func (h *Handler) HandleTransferAdmin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[TransferAdminRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.roles.TransferAdmin(ctx, requestcontext.Principal(ctx), req.newAdmin)
	if err != nil {
		h.fail(ctx, w, "transfer admin", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toGrant(res))
}

func (h *Handler) HandleRoleOf(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := id.ParsePrincipal(chi.URLParam(r, "principal"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	role, err := h.roles.RoleOf(ctx, requestcontext.Principal(ctx), principal)
	if err != nil {
		h.fail(ctx, w, "role of", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RoleResponse{Principal: principal, Role: role})
}

func (h *Handler) HandleHasRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := id.ParsePrincipal(chi.URLParam(r, "principal"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	role, err := roles.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	has, err := h.roles.HasRole(ctx, requestcontext.Principal(ctx), principal, role)
	if err != nil {
		h.fail(ctx, w, "has role", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, HasRoleResponse{Principal: principal, Role: role, HasRole: has})
}

func (h *Handler) HandleIssueCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[IssueCredentialRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.credentials.Issue(ctx, requestcontext.Principal(ctx), req.subject, req.claim)
	if err != nil {
		h.fail(ctx, w, "issue credential", err)
		return
	}
	resp := toCredential(res.Credential)
	resp.Receipt = toReceipt(res.Commit)
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) HandleRevokeCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CredentialRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.credentials.Revoke(ctx, requestcontext.Principal(ctx), req.subject, req.fingerprint)
	if err != nil {
		h.fail(ctx, w, "revoke credential", err)
		return
	}
	resp := toCredential(res.Credential)
	resp.Receipt = toReceipt(res.Commit)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleVerifyCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CredentialRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.verification.Verify(ctx, requestcontext.Principal(ctx), req.subject, req.fingerprint)
	if err != nil {
		h.fail(ctx, w, "verify credential", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVerify(res))
}

func (h *Handler) HandleGetCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, fp, ok := credentialParams(w, r)
	if !ok {
		return
	}
	c, err := h.credentials.Get(ctx, requestcontext.Principal(ctx), subject, fp)
	if err != nil {
		h.fail(ctx, w, "get credential", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCredential(*c))
}

func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject, fp, ok := credentialParams(w, r)
	if !ok {
		return
	}
	status, err := h.credentials.Status(ctx, requestcontext.Principal(ctx), subject, fp)
	if err != nil {
		h.fail(ctx, w, "get credential status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{Subject: subject, Fingerprint: fp, Status: status})
}

func credentialParams(w http.ResponseWriter, r *http.Request) (id.Principal, id.Fingerprint, bool) {
	subject, err := id.ParsePrincipal(chi.URLParam(r, "subject"))
	if err != nil {
		httputil.WriteError(w, err)
		return "", id.Fingerprint{}, false
	}
	fp, err := id.ParseFingerprint(chi.URLParam(r, "fingerprint"))
	if err != nil {
		httputil.WriteError(w, err)
		return "", id.Fingerprint{}, false
	}
	return subject, fp, true
}

// fail logs server-side failures; client errors are already logged by the
// services that produced them.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeInvariantViolation, dErrors.CodeGatewayUnavailable, dErrors.CodeTimeout:
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"principal", requestcontext.Principal(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

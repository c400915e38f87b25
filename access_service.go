package toolgate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"go.pilab.hu/toolgate/domain"
	"go.pilab.hu/toolgate/internal/clock"
	"go.pilab.hu/toolgate/internal/metrics"
)

const tracerName = "go.pilab.hu/toolgate"

// AccessServiceOptions holds the dependencies of an AccessService.
type AccessServiceOptions struct {
	Store       GrantStore
	Catalog     ToolCatalog
	Permissions PermissionChecker
	// Activity receives one event per issued grant. It must not block; wrap
	// slow recorders with audit.NewAsyncRecorder.
	Activity ActivityRecorder
	Metrics  *metrics.Metrics
	Clock    clock.Clock

	// LaunchBaseURL is the absolute URL the token is appended to, e.g.
	// https://tools.example.com/api/secure-access/launch
	LaunchBaseURL string
	// TTL overrides DefaultGrantTTL.
	TTL time.Duration
}

// AccessService issues and redeems one-time tool access grants.
type AccessService struct {
	store         GrantStore
	catalog       ToolCatalog
	permissions   PermissionChecker
	activity      ActivityRecorder
	metrics       *metrics.Metrics
	clock         clock.Clock
	launchBaseURL string
	ttl           time.Duration
}

// NewAccessService creates a new AccessService.
func NewAccessService(opts AccessServiceOptions) (*AccessService, error) {
	if opts.Store == nil {
		return nil, errors.New("grant store is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("tool catalog is required")
	}
	if opts.Permissions == nil {
		return nil, errors.New("permission checker is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultGrantTTL
	}

	return &AccessService{
		store:         opts.Store,
		catalog:       opts.Catalog,
		permissions:   opts.Permissions,
		activity:      opts.Activity,
		metrics:       opts.Metrics,
		clock:         opts.Clock,
		launchBaseURL: strings.TrimRight(opts.LaunchBaseURL, "/"),
		ttl:           opts.TTL,
	}, nil
}

// Issued is what the issuing caller gets back. It never carries credentials.
type Issued struct {
	GrantID      string
	Token        AccessToken
	AccessURL    string
	ToolName     string
	HasAutoLogin bool
	LoginURL     string
	ExpiresIn    time.Duration
}

// Issue creates a grant for toolID on behalf of caller and returns the raw
// token. The token is not kept anywhere after this call returns.
func (s *AccessService) Issue(ctx context.Context, toolID string, caller *domain.Identity) (*Issued, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "AccessService.Issue")
	defer span.End()
	span.SetAttributes(attribute.String("tool.id", toolID))

	if caller == nil {
		return nil, ErrForbidden
	}

	tool, err := s.catalog.LookupTool(ctx, toolID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool lookup failed")
		return nil, err
	}

	if !caller.IsElevated() {
		allowed, err := s.permissions.LookupUserPermissions(ctx, caller.UserID)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to look up permissions: %w", err)
		}
		if !slices.Contains(allowed, toolID) {
			log.Ctx(ctx).Warn().
				Str("tool_id", toolID).
				Str("user_id", caller.UserID).
				Msg("tool access denied")
			return nil, ErrForbidden
		}
	}

	loginURL := tool.LoginTarget()
	if loginURL == "" {
		return nil, ErrInvalidConfiguration
	}

	raw, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	token := NewAccessToken(raw)

	now := s.clock.Now()
	grant := &Grant{
		ID:          uuid.NewString(),
		Fingerprint: token.Fingerprint(),
		ToolID:      toolID,
		ToolName:    tool.Name,
		ToolURL:     tool.URL,
		Requester:   Requester{UserID: caller.UserID, Email: caller.Email},
		LoginURL:    loginURL,
		Delivery:    tool.Delivery,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if tool.HasCredentials() {
		grant.Credentials = &Credentials{
			Username:      tool.Credentials.Username,
			Password:      tool.Credentials.Password,
			UsernameField: tool.Credentials.UsernameField,
			PasswordField: tool.Credentials.PasswordField,
		}
	}

	if err := s.store.Put(ctx, grant); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grant store failed")
		return nil, fmt.Errorf("failed to store grant: %w", err)
	}

	s.metrics.Issued()
	s.metrics.Live(s.store.Count(ctx))
	s.recordActivity(ctx, caller, tool, now)

	log.Ctx(ctx).Info().Ctx(ctx).
		Str("grant_id", grant.ID).
		Str("tool_id", toolID).
		Str("user_id", caller.UserID).
		Bool("auto_login", grant.HasCredentials()).
		Time("expires_at", grant.ExpiresAt).
		Msg("access grant issued")

	return &Issued{
		GrantID:      grant.ID,
		Token:        token,
		AccessURL:    s.launchBaseURL + "/" + token.Value(),
		ToolName:     tool.Name,
		HasAutoLogin: grant.HasCredentials(),
		LoginURL:     loginURL,
		ExpiresIn:    s.ttl,
	}, nil
}

// recordActivity hands the audit event to the recorder. Errors are logged and
// dropped; issuance never fails because of auditing.
func (s *AccessService) recordActivity(ctx context.Context, caller *domain.Identity, tool *Tool, at time.Time) {
	if s.activity == nil {
		return
	}
	event := ActivityEvent{
		UserEmail:    caller.Email,
		UserName:     caller.DisplayName(),
		Action:       "Accessed Tool",
		Target:       tool.Name,
		Details:      fmt.Sprintf("Secure auto-login to %s", tool.Name),
		ActivityType: "access",
		CreatedAt:    at,
	}
	if err := s.activity.RecordActivity(context.WithoutCancel(ctx), event); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("tool_id", tool.ID).Msg("failed to record tool access activity")
	}
}

// Redeem validates and consumes token. It returns the grant exactly once.
func (s *AccessService) Redeem(ctx context.Context, token string) (*Grant, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "AccessService.Redeem")
	defer span.End()

	if token == "" || len(token) > maxTokenLength {
		s.metrics.Rejected(metrics.ReasonInvalid)
		return nil, ErrInvalidToken
	}

	fp := HashToken(token)
	grant, err := s.store.Consume(ctx, fp)
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, ErrExpired):
			s.metrics.Rejected(metrics.ReasonExpired)
			s.metrics.Live(s.store.Count(ctx))
		case errors.Is(err, ErrAlreadyUsed):
			s.metrics.Rejected(metrics.ReasonAlreadyUsed)
		case errors.Is(err, ErrInvalidToken):
			s.metrics.Rejected(metrics.ReasonInvalid)
		default:
			span.SetStatus(codes.Error, "grant store failed")
			log.Ctx(ctx).Error().Err(err).Str("fingerprint", ShortFingerprint(fp)).Msg("grant consume failed")
			return nil, err
		}
		log.Ctx(ctx).Info().
			Err(err).
			Str("fingerprint", ShortFingerprint(fp)).
			Msg("access grant rejected")
		return nil, err
	}

	s.metrics.Redeemed()
	span.SetAttributes(attribute.String("tool.id", grant.ToolID))
	log.Ctx(ctx).Info().Ctx(ctx).
		Str("grant_id", grant.ID).
		Str("tool_id", grant.ToolID).
		Str("user_id", grant.Requester.UserID).
		Msg("access grant redeemed")

	return grant, nil
}

// Sweep removes expired grants. Only elevated callers may trigger it.
func (s *AccessService) Sweep(ctx context.Context, caller *domain.Identity) (int, error) {
	if !caller.IsElevated() {
		return 0, ErrForbidden
	}
	return s.sweep(ctx)
}

func (s *AccessService) sweep(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "AccessService.Sweep")
	defer span.End()

	n, err := s.store.Sweep(ctx)
	if err != nil {
		span.RecordError(err)
		return n, fmt.Errorf("failed to sweep grants: %w", err)
	}
	s.metrics.Swept(n)
	s.metrics.Live(s.store.Count(ctx))
	span.SetAttributes(attribute.Int("grants.removed", n))

	if n > 0 {
		log.Ctx(ctx).Debug().Int("removed", n).Msg("expired grants swept")
	}
	return n, nil
}

// LiveGrants returns the number of grants the store holds.
func (s *AccessService) LiveGrants(ctx context.Context) int {
	return s.store.Count(ctx)
}

// RunJanitor sweeps expired grants every interval until ctx is done.
// A non-positive interval disables it.
func (s *AccessService) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.sweep(ctx); err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("periodic grant sweep failed")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

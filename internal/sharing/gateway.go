// Package sharing issues and redeems time-limited read tokens for documents.
//
// Redeem never tells a caller why a token failed: unknown, expired and
// dangling tokens all resolve to (nil, nil).
package sharing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/audit"
	"github.com/dmitrijs2005/medkeeper/internal/clockx"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/metrics"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/shares"
	"github.com/dmitrijs2005/medkeeper/internal/vault"
	"golang.org/x/time/rate"
)

const (
	DefaultHours = 24
	MinHours     = 1
	MaxHours     = 168

	AccessMethod = "share_token"
	PublicActor  = "public"

	tokenBytes = 32
)

var ErrThrottled = errors.New("too many redemption attempts")

// Documents resolves the documents behind tokens. *vault.Store satisfies it.
type Documents interface {
	Get(ctx context.Context, id string) (*vault.Plaintext, error)
}

type Options struct {
	// RedeemRate limits redemptions per second across all tokens. Zero
	// disables throttling.
	RedeemRate  float64
	RedeemBurst int
	Clock       clockx.Clock
	Logger      logging.Logger
	Metrics     *metrics.Metrics
}

type Gateway struct {
	repo    shares.Repository
	docs    Documents
	audit   audit.Sink
	limiter *rate.Limiter
	opts    Options
}

func New(repo shares.Repository, docs Documents, sink audit.Sink, opts Options) *Gateway {
	if opts.Clock == nil {
		opts.Clock = clockx.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	limit := rate.Inf
	if opts.RedeemRate > 0 {
		limit = rate.Limit(opts.RedeemRate)
	}
	if opts.RedeemBurst <= 0 {
		opts.RedeemBurst = 1
	}
	return &Gateway{
		repo:    repo,
		docs:    docs,
		audit:   sink,
		limiter: rate.NewLimiter(limit, opts.RedeemBurst),
		opts:    opts,
	}
}

func clampHours(h int) int {
	switch {
	case h == 0:
		return DefaultHours
	case h < MinHours:
		return MinHours
	case h > MaxHours:
		return MaxHours
	default:
		return h
	}
}

// Issue creates a token for documentID valid for hours (0 means
// DefaultHours). The returned token is the only copy of the secret.
func (g *Gateway) Issue(ctx context.Context, documentID string, hours int, actor string) (*models.ShareToken, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: document id is required", common.ErrValidation)
	}
	doc, err := g.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document[%s]: %w", documentID, common.ErrorNotFound)
	}

	token, err := common.MakeRandToken(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate share token: %w", err)
	}

	now := g.opts.Clock.Now()
	hours = clampHours(hours)
	tok := &models.ShareToken{
		Token:      token,
		TokenHash:  common.HashToken(token),
		DocumentID: documentID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(hours) * time.Hour),
	}
	if err := g.repo.Create(ctx, tok); err != nil {
		return nil, err
	}

	g.record(ctx, documentID, models.AuditShareIssued, actor, map[string]string{
		"expiresInHours": fmt.Sprint(hours),
	})
	return tok, nil
}

// Redemption is what a share page renders.
type Redemption struct {
	DocumentID  string
	Data        json.RawMessage
	Status      models.RecordStatus
	AccessCount int64
	ExpiresAt   time.Time
}

// Redeem resolves token and counts the access. It returns (nil, nil) when
// the token is unknown, expired or points at a document that no longer
// exists. Expired tokens are left in place.
func (g *Gateway) Redeem(ctx context.Context, token string) (*Redemption, error) {
	if !g.limiter.Allow() {
		g.opts.Metrics.ShareRedeemed("throttled")
		return nil, ErrThrottled
	}

	hash := common.HashToken(token)
	now := g.opts.Clock.Now()

	tok, err := g.repo.Get(ctx, hash)
	if err != nil {
		g.opts.Metrics.ShareRedeemed("error")
		return nil, err
	}
	if tok == nil || !tok.Usable(now) {
		g.opts.Metrics.ShareRedeemed("unavailable")
		return nil, nil
	}

	doc, err := g.docs.Get(ctx, tok.DocumentID)
	if err != nil {
		g.opts.Metrics.ShareRedeemed("error")
		return nil, err
	}
	if doc == nil {
		g.opts.Logger.Warn(ctx, "share token points at a missing document", "document", tok.DocumentID)
		g.opts.Metrics.ShareRedeemed("unavailable")
		return nil, nil
	}

	redeemed, err := g.repo.Redeem(ctx, hash, now)
	if err != nil {
		g.opts.Metrics.ShareRedeemed("error")
		return nil, err
	}
	if redeemed == nil {
		g.opts.Metrics.ShareRedeemed("unavailable")
		return nil, nil
	}

	g.opts.Metrics.ShareRedeemed("ok")
	g.record(ctx, tok.DocumentID, models.AuditShareAccessed, PublicActor, map[string]string{
		"accessMethod": AccessMethod,
		"accessCount":  fmt.Sprint(redeemed.AccessCount),
	})

	return &Redemption{
		DocumentID:  doc.ID,
		Data:        doc.Data,
		Status:      doc.Status,
		AccessCount: redeemed.AccessCount,
		ExpiresAt:   redeemed.ExpiresAt,
	}, nil
}

func (g *Gateway) record(ctx context.Context, documentID, action, actor string, meta map[string]string) {
	if g.audit == nil {
		return
	}
	err := g.audit.Append(ctx, &models.AuditLogEntry{
		DocumentID: documentID,
		Action:     action,
		ActorName:  actor,
		Metadata:   meta,
		CreatedAt:  g.opts.Clock.Now(),
	})
	if err != nil {
		g.opts.Logger.Error(ctx, "failed to append audit entry", "document", documentID, "action", action, "error", err)
	}
}

// Package call manages per-call session state: the authorization policy for
// inbound calls, the session itself, and the registry that bounds how many
// may run at once.
package call

import (
	"context"
	"log/slog"
	"strings"

	"github.com/arens-io/voicelink/internal/config"
	"github.com/arens-io/voicelink/internal/observe"
	"github.com/arens-io/voicelink/internal/protocol"
)

// Authorization strategy tokens carried in the auth_response. The strategy
// names the decision path taken, not just the configured mode.
const (
	StrategyDisabled         = "disabled"
	StrategyOpen             = "open"
	StrategyAllowlist        = "allowlist"
	StrategyTenantOnly       = "tenant-only"
	StrategyPSTNBlocked      = "pstn-blocked"
	StrategyValidationFailed = "validation-failed"
)

// Decision is the outcome of one authorization check.
type Decision struct {
	Authorized bool
	Strategy   string
	Reason     string
}

// Authorizer evaluates inbound auth_request messages against the configured
// policy. It is stateless and safe for concurrent use.
type Authorizer struct {
	cfg     config.AuthConfig
	log     *slog.Logger
	metrics *observe.Metrics
}

// NewAuthorizer builds an authorizer over the given policy.
func NewAuthorizer(cfg config.AuthConfig, log *slog.Logger) *Authorizer {
	if log == nil {
		log = slog.Default()
	}
	return &Authorizer{cfg: cfg, log: log, metrics: observe.DefaultMetrics()}
}

// Authorize decides whether the call identified by callID may proceed. Every
// decision is logged at audit level and counted.
func (a *Authorizer) Authorize(ctx context.Context, callID string, md *protocol.CallerMetadata) Decision {
	d := a.decide(md)

	a.log.Info("authorization decision",
		"call_id", callID,
		"strategy", d.Strategy,
		"authorized", d.Authorized,
		"reason", d.Reason,
	)
	a.metrics.RecordAuthDecision(ctx, d.Strategy, d.Authorized)
	return d
}

func (a *Authorizer) decide(md *protocol.CallerMetadata) Decision {
	if a.cfg.Mode == config.AuthDisabled {
		return Decision{Strategy: StrategyDisabled, Reason: "inbound authorization is disabled"}
	}
	if md == nil || md.TenantID == "" || md.UserID == "" {
		return Decision{Strategy: StrategyValidationFailed, Reason: "metadata is missing tenantId or userId"}
	}
	if md.PhoneNumber != "" && !a.cfg.AllowPSTN {
		return Decision{Strategy: StrategyPSTNBlocked, Reason: "PSTN callers are not allowed"}
	}

	switch a.cfg.Mode {
	case config.AuthOpen:
		return Decision{Authorized: true, Strategy: StrategyOpen}

	case config.AuthAllowlist:
		user := strings.ToLower(md.UserID)
		upn := strings.ToLower(md.UserPrincipalName)
		for _, allowed := range a.cfg.AllowFrom {
			allowed = strings.ToLower(allowed)
			if allowed == user || (upn != "" && allowed == upn) {
				return Decision{Authorized: true, Strategy: StrategyAllowlist}
			}
		}
		return Decision{Strategy: StrategyAllowlist, Reason: "caller is not on the allow list"}

	case config.AuthTenantOnly:
		for _, tenant := range a.cfg.AllowedTenants {
			if tenant == md.TenantID {
				return Decision{Authorized: true, Strategy: StrategyTenantOnly}
			}
		}
		return Decision{Strategy: StrategyTenantOnly, Reason: "tenant is not allowed"}
	}

	// Unknown modes are rejected by validation before we get here; treat any
	// stray value as a hard deny.
	return Decision{Strategy: StrategyValidationFailed, Reason: "unrecognized authorization mode"}
}

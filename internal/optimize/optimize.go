// Package optimize computes the risk-adjusted optimized yield for a token
// from its local and remote records. Pure functions over borrowed records:
// no state, no I/O, safe to call on every read.
package optimize

import (
	"errors"
	"time"

	"github.com/yourorg/crossyield/internal/model"
	"github.com/yourorg/crossyield/internal/store"
	"github.com/yourorg/crossyield/internal/yieldmath"
)

// ErrPrimarySourceUnavailable means the local record is absent or stale.
// The local source is mandatory: the system never reports a figure derived
// only from remote data.
var ErrPrimarySourceUnavailable = errors.New("local yield data unavailable or stale")

// Policy carries the weight-selection thresholds and per-source risk
// scores. These are operating policy, not invariants; deployments may tune
// them away from the defaults.
type Policy struct {
	LocalRiskScore  uint32
	RemoteRiskScore uint32

	// RemoteSpikeRatioBps: remote APY above local * ratio is treated as a
	// risk signal and down-weighted, not chased. 15000 = 1.5x.
	RemoteSpikeRatioBps uint64

	// LocalLeadRatioBps: local APY above remote * ratio leans the split
	// further local. 12000 = 1.2x.
	LocalLeadRatioBps uint64

	// Weight pairs per regime, sharing the 10000 denominator.
	SpikeWeightLocal, SpikeWeightRemote     uint64
	LeadWeightLocal, LeadWeightRemote       uint64
	DefaultWeightLocal, DefaultWeightRemote uint64
}

// DefaultPolicy returns the standard scores and thresholds.
func DefaultPolicy() Policy {
	return Policy{
		LocalRiskScore:      10,
		RemoteRiskScore:     30,
		RemoteSpikeRatioBps: 15000,
		LocalLeadRatioBps:   12000,
		SpikeWeightLocal:    7000,
		SpikeWeightRemote:   3000,
		LeadWeightLocal:     8000,
		LeadWeightRemote:    2000,
		DefaultWeightLocal:  6000,
		DefaultWeightRemote: 4000,
	}
}

// Optimize combines the two records into one OptimizedView at time now.
//
// The local record must be present and fresh. A missing or stale remote
// record degrades the result to local-only instead of failing: the remote
// side going quiet is an expected condition, not an error on the read path.
func Optimize(local, remote *model.YieldRecord, now uint64, window time.Duration, policy Policy) (model.OptimizedView, error) {
	if local == nil || !store.IsFresh(*local, window, now) {
		return model.OptimizedView{}, ErrPrimarySourceUnavailable
	}

	if remote == nil || !store.IsFresh(*remote, window, now) {
		adjusted, err := yieldmath.RiskAdjusted(local.APYBps, policy.LocalRiskScore)
		if err != nil {
			return model.OptimizedView{}, err
		}
		return model.OptimizedView{
			OptimizedAPYBps:   adjusted,
			CombinedRiskScore: policy.LocalRiskScore,
			Sources:           []model.Source{model.SourceLocal},
			SourceNames:       []string{model.SourceLocal.String()},
			ComputedAt:        now,
		}, nil
	}

	localAdj, err := yieldmath.RiskAdjusted(local.APYBps, policy.LocalRiskScore)
	if err != nil {
		return model.OptimizedView{}, err
	}
	remoteAdj, err := yieldmath.RiskAdjusted(remote.APYBps, policy.RemoteRiskScore)
	if err != nil {
		return model.OptimizedView{}, err
	}

	weightLocal, weightRemote := selectWeights(local.APYBps, remote.APYBps, policy)

	apy, err := yieldmath.WeightedAverageBps(localAdj, remoteAdj, weightLocal, weightRemote)
	if err != nil {
		return model.OptimizedView{}, err
	}

	risk := (uint64(policy.LocalRiskScore)*weightLocal + uint64(policy.RemoteRiskScore)*weightRemote) / yieldmath.BpsDenominator

	return model.OptimizedView{
		OptimizedAPYBps:   apy,
		CombinedRiskScore: uint32(risk),
		Sources:           []model.Source{model.SourceLocal, model.SourceRemote},
		SourceNames:       []string{model.SourceLocal.String(), model.SourceRemote.String()},
		ComputedAt:        now,
	}, nil
}

// selectWeights picks the split by relative magnitude. Integer ratio
// compares: remote > local*1.5 becomes remote*10000 > local*15000.
func selectWeights(localBps, remoteBps uint32, policy Policy) (uint64, uint64) {
	local := uint64(localBps)
	remote := uint64(remoteBps)

	switch {
	case remote*yieldmath.BpsDenominator > local*policy.RemoteSpikeRatioBps:
		return policy.SpikeWeightLocal, policy.SpikeWeightRemote
	case local*yieldmath.BpsDenominator > remote*policy.LocalLeadRatioBps:
		return policy.LeadWeightLocal, policy.LeadWeightRemote
	default:
		return policy.DefaultWeightLocal, policy.DefaultWeightRemote
	}
}

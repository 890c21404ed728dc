// Package signal implements memory dynamics: reinforcement when an
// engram is touched, access stamping after retrieval, and the per-strand
// multiplicative decay cycle.
package signal

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/juspay/hippocampus/pkg/store"
)

// Default dynamics constants.
const (
	DefaultEngramBoost  = 0.1
	DefaultSynapseBoost = 0.05
	DefaultMinSignal    = 0.01
)

// DefaultDecayRates maps each strand to the multiplicative rate applied
// per decay cycle. Procedural memories fade slowest, general chatter
// fastest.
var DefaultDecayRates = map[store.Strand]float64{
	store.StrandFactual:      0.95,
	store.StrandExperiential: 0.90,
	store.StrandProcedural:   0.97,
	store.StrandPreferential: 0.93,
	store.StrandRelational:   0.92,
	store.StrandGeneral:      0.88,
}

// Config tunes the dynamics. Zero fields fall back to the defaults.
type Config struct {
	Rates        map[store.Strand]float64
	MinSignal    float64
	EngramBoost  float64
	SynapseBoost float64
}

// DefaultConfig returns the engine's standard dynamics.
func DefaultConfig() Config {
	return Config{
		Rates:        DefaultDecayRates,
		MinSignal:    DefaultMinSignal,
		EngramBoost:  DefaultEngramBoost,
		SynapseBoost: DefaultSynapseBoost,
	}
}

// Dynamics applies reinforcement and decay against a store.
type Dynamics struct {
	store  store.Store
	cfg    Config
	logger *zap.Logger
}

// New builds a Dynamics over the store. A nil logger is replaced with a
// no-op one.
func New(st store.Store, cfg Config, logger *zap.Logger) *Dynamics {
	if cfg.Rates == nil {
		cfg.Rates = DefaultDecayRates
	}
	if cfg.MinSignal == 0 {
		cfg.MinSignal = DefaultMinSignal
	}
	if cfg.EngramBoost == 0 {
		cfg.EngramBoost = DefaultEngramBoost
	}
	if cfg.SynapseBoost == 0 {
		cfg.SynapseBoost = DefaultSynapseBoost
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dynamics{store: st, cfg: cfg, logger: logger}
}

// Reinforce raises an engram's signal. A non-positive boost applies the
// default. Returns the updated engram.
func (d *Dynamics) Reinforce(ctx context.Context, ownerID, engramID string, boost float64) (*store.Engram, error) {
	if boost <= 0 {
		boost = d.cfg.EngramBoost
	}
	e, err := d.store.ReinforceEngram(ctx, ownerID, engramID, boost)
	if err != nil {
		return nil, fmt.Errorf("reinforce engram: %w", err)
	}
	return e, nil
}

// ReinforceSynapse raises a directed synapse's weight. A non-positive
// boost applies the default.
func (d *Dynamics) ReinforceSynapse(ctx context.Context, ownerID, sourceID, targetID string, boost float64) error {
	if boost <= 0 {
		boost = d.cfg.SynapseBoost
	}
	if err := d.store.ReinforceSynapse(ctx, ownerID, sourceID, targetID, boost); err != nil {
		return fmt.Errorf("reinforce synapse: %w", err)
	}
	return nil
}

// ReinforceAccess stamps access and applies the default reinforcement to
// each engram a retrieval returned. Failures are logged and swallowed;
// retrieval results were already sent.
func (d *Dynamics) ReinforceAccess(ctx context.Context, ownerID string, engramIDs []string) {
	for _, id := range engramIDs {
		if err := d.store.RecordAccess(ctx, ownerID, id); err != nil {
			d.logger.Warn("access stamp failed",
				zap.String("owner_id", ownerID),
				zap.String("engram_id", id),
				zap.Error(err))
			continue
		}
		if _, err := d.store.ReinforceEngram(ctx, ownerID, id, d.cfg.EngramBoost); err != nil {
			d.logger.Warn("access reinforcement failed",
				zap.String("owner_id", ownerID),
				zap.String("engram_id", id),
				zap.Error(err))
		}
	}
}

// DecayReport summarizes one decay cycle.
type DecayReport struct {
	Affected  int64                  `json:"affected"`
	PerStrand map[store.Strand]int64 `json:"perStrand"`
}

// Decay runs one decay cycle for the owner: every strand's engrams with
// signal above the minimum are multiplied by the strand rate, floored at
// the minimum. Engrams already at the floor are untouched, which keeps
// the cycle safe to re-run at any cadence.
func (d *Dynamics) Decay(ctx context.Context, ownerID string) (*DecayReport, error) {
	report := &DecayReport{PerStrand: make(map[store.Strand]int64)}
	for _, strand := range store.Strands {
		rate, ok := d.cfg.Rates[strand]
		if !ok {
			rate = DefaultDecayRates[strand]
		}
		affected, err := d.store.DecayEngrams(ctx, ownerID, strand, rate, d.cfg.MinSignal)
		if err != nil {
			return report, fmt.Errorf("decay strand %s: %w", strand, err)
		}
		report.PerStrand[strand] = affected
		report.Affected += affected
	}
	d.logger.Debug("decay cycle complete",
		zap.String("owner_id", ownerID),
		zap.Int64("affected", report.Affected))
	return report, nil
}

package rules

import (
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/ballee/spendguard/internal/config"
	"github.com/ballee/spendguard/internal/errors"

	"github.com/natefinch/atomic"
)

type storeData struct {
	// Versions is append-only; the last entry is the active rule set.
	Versions []*RuleSet `json:"versions"`

	// CalibrationMode suppresses Tier-1 auto-execution globally while set.
	// Cleared only by an explicit promotion, never automatically.
	CalibrationMode bool `json:"calibration_mode"`
}

// Store persists rule set versions as a single JSON file. Every mutation
// appends a new version; nothing is edited in place.
type Store struct {
	path string
	data storeData
	mu   sync.RWMutex
}

func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(content) == 0 {
		return nil
	}
	return json.Unmarshal(content, &s.data)
}

func (s *Store) save() error {
	// Internal save, lock held by caller
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(b))
}

// Seed writes the initial version from config when the store is empty.
// A non-empty store ignores config values: thresholds evolve through
// calibration, not config reloads.
func (s *Store) Seed(cfg config.RulesConfig, bootstrapMode bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.data.Versions) > 0 {
		return nil
	}

	rs := &RuleSet{
		Version:   1,
		CreatedAt: time.Now(),
		CreatedBy: "seed",
		Values: map[string]float64{
			RuleCACHardCeiling:        cfg.CACHardCeiling,
			RuleROASFloor:             cfg.ROASFloor,
			RuleOverrunCriticalRatio:  cfg.OverrunCriticalRatio,
			RuleReallocationThreshold: cfg.ReallocationThreshold,
			RuleCACSpikeThreshold:     cfg.CACSpikeThreshold,
			RuleCACDeviationThreshold: cfg.CACDeviationThreshold,
			RuleROASMinimum:           cfg.ROASMinimum,
			RuleBudgetComplianceLow:   cfg.BudgetComplianceLow,
			RuleBudgetComplianceHigh:  cfg.BudgetComplianceHigh,
		},
	}
	s.data.Versions = append(s.data.Versions, rs)
	s.data.CalibrationMode = bootstrapMode
	return s.save()
}

// Active returns the current rule set.
func (s *Store) Active() (*RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.data.Versions) == 0 {
		return nil, errors.Configuration("no active rule set")
	}
	active := *s.data.Versions[len(s.data.Versions)-1]
	return &active, nil
}

// Version returns a specific historical version.
func (s *Store) Version(version int) (*RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rs := range s.data.Versions {
		if rs.Version == version {
			copied := *rs
			return &copied, nil
		}
	}
	return nil, errors.NotFound("rule set version not found")
}

// Append records a new version. The version number is assigned here,
// monotonically; callers supply values, overrides, origin and note.
func (s *Store) Append(values map[string]float64, overrides []SeasonalOverride, createdBy, note string) (*RuleSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := 1
	if n := len(s.data.Versions); n > 0 {
		next = s.data.Versions[n-1].Version + 1
	}

	rs := &RuleSet{
		Version:   next,
		CreatedAt: time.Now(),
		CreatedBy: createdBy,
		Note:      note,
		Values:    values,
		Overrides: overrides,
	}
	s.data.Versions = append(s.data.Versions, rs)
	if err := s.save(); err != nil {
		return nil, err
	}
	copied := *rs
	return &copied, nil
}

// History returns all versions, oldest first.
func (s *Store) History() []*RuleSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*RuleSet, 0, len(s.data.Versions))
	for _, rs := range s.data.Versions {
		copied := *rs
		out = append(out, &copied)
	}
	return out
}

// CalibrationMode reports whether Tier-1 auto-execution is suppressed.
func (s *Store) CalibrationMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.CalibrationMode
}

// Promote clears calibration mode. This is the explicit operator step;
// nothing in the engine calls it automatically.
func (s *Store) Promote() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.data.CalibrationMode {
		return errors.StateViolation("calibration mode is not active")
	}
	s.data.CalibrationMode = false
	return s.save()
}

// Demote re-enters calibration mode, for operators re-bootstrapping after
// a threshold overhaul.
func (s *Store) Demote() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.CalibrationMode {
		return errors.StateViolation("calibration mode is already active")
	}
	s.data.CalibrationMode = true
	return s.save()
}

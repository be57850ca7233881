package banking

import (
	"sort"
	"strings"
	"sync"
	"time"

	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"
)

// TimingModel answers settlement-timing questions per institution. Profiles
// are read-only; the only mutable state is the record of which unknown
// institutions fell back to the default profile.
type TimingModel struct {
	banks            map[string]*BankConfig
	profiles         []*BankConfig
	fallback         *BankConfig
	useDefaultDelays bool
	logger           logger.Logger

	mutex    sync.Mutex
	warned   map[string]bool
	warnings []*errors.ReconcilerError
}

// TimingOption configures a TimingModel
type TimingOption func(*TimingModel)

// WithDefaultDelays makes every institution use the fallback profile's
// settlement delays while keeping its own processing window and patterns.
func WithDefaultDelays() TimingOption {
	return func(m *TimingModel) {
		m.useDefaultDelays = true
	}
}

// NewTimingModel creates a model from compiled profiles. A nil fallback
// uses DefaultProfile.
func NewTimingModel(profiles []*BankConfig, fallback *BankConfig, log logger.Logger, opts ...TimingOption) *TimingModel {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if fallback == nil {
		fallback = DefaultProfile()
	}
	if !fallback.compiled {
		if err := fallback.Compile(); err != nil {
			log.WithError(err).Warn("Fallback profile failed to compile, using built-in default")
			fallback = DefaultProfile()
			_ = fallback.Compile()
		}
	}

	m := &TimingModel{
		banks:    make(map[string]*BankConfig),
		fallback: fallback,
		logger:   log.WithComponent("bank_timing"),
		warned:   make(map[string]bool),
	}

	for _, p := range profiles {
		if p == nil {
			continue
		}
		if !p.compiled {
			if err := p.Compile(); err != nil {
				m.logger.WithError(err).WithField("institution", p.Name).Warn("Skipping bank profile that failed to compile")
				continue
			}
		}
		m.profiles = append(m.profiles, p)
		for _, name := range p.Names() {
			m.banks[name] = p
		}
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Profile returns the profile for an institution. Unknown institutions get
// the fallback profile and one warning per institution.
func (m *TimingModel) Profile(institution string) *BankConfig {
	if p, ok := m.banks[CanonicalName(institution)]; ok {
		return p
	}

	key := CanonicalName(institution)
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.warned[key] {
		m.warned[key] = true
		m.warnings = append(m.warnings, errors.ConfigurationError(errors.CodeUnknownInstitute, "institution", institution, nil))
		m.logger.WithField("institution", institution).Warn("Unknown institution, using generic default profile")
	}
	return m.fallback
}

// Knows reports whether a dedicated profile exists for the institution
func (m *TimingModel) Knows(institution string) bool {
	_, ok := m.banks[CanonicalName(institution)]
	return ok
}

// Fallback returns the generic profile
func (m *TimingModel) Fallback() *BankConfig {
	return m.fallback
}

// Warnings returns the configuration fallbacks recorded so far, sorted by
// institution.
func (m *TimingModel) Warnings() []*errors.ReconcilerError {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := make([]*errors.ReconcilerError, len(m.warnings))
	copy(out, m.warnings)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Message < out[j].Message
	})
	return out
}

// IsWithinProcessingWindow reports whether the record was posted inside its
// institution's EFT processing window.
func (m *TimingModel) IsWithinProcessingWindow(r *models.TransactionRecord) bool {
	return m.Profile(r.Institution).IsWithinProcessingWindow(r.Date)
}

// IsImmediatePayment reports whether the record went over an instant rail
func (m *TimingModel) IsImmediatePayment(r *models.TransactionRecord) bool {
	p := m.Profile(r.Institution)
	return matchesAny(p.immediate, r.Description) || matchesAny(p.immediate, r.Reference)
}

// IsCrossInstitutionTransfer reports whether the record looks like a
// payment to or from another institution: a cross-institution rail pattern,
// or the name of a different known bank in the description.
func (m *TimingModel) IsCrossInstitutionTransfer(r *models.TransactionRecord) bool {
	p := m.Profile(r.Institution)
	if matchesAny(p.crossInst, r.Description) {
		return true
	}

	desc := " " + CanonicalName(r.Description) + " "
	for _, other := range m.profiles {
		if other == p {
			continue
		}
		for _, name := range other.Names() {
			if strings.Contains(desc, " "+name+" ") {
				return true
			}
		}
	}
	return false
}

// ExpectedDelay returns the time from the record timestamp to expected
// settlement of its counterpart. Standard EFT waits for the next processing
// window; immediate payments do not.
func (m *TimingModel) ExpectedDelay(r *models.TransactionRecord, crossInstitution bool) time.Duration {
	p := m.Profile(r.Institution)
	delays := p.Delays
	if m.useDefaultDelays {
		delays = m.fallback.Delays
	}

	if m.IsImmediatePayment(r) {
		return hoursToDuration(delays.ImmediatePaymentHours)
	}

	hours := delays.SameInstitutionHours
	if crossInstitution {
		hours = delays.CrossInstitutionHours
	}

	wait := p.NextWindowOpening(r.Date).Sub(r.Date)
	if wait < 0 {
		wait = 0
	}
	return wait + hoursToDuration(hours)
}

// Reference returns the record reference, or one extracted from the
// description using the institution's reference patterns.
func (m *TimingModel) Reference(r *models.TransactionRecord) string {
	if strings.TrimSpace(r.Reference) != "" {
		return r.Reference
	}
	return m.Profile(r.Institution).ExtractReference(r.Description)
}

package models

import (
	"fmt"
)

// Preferences are the per-company reconciliation settings
type Preferences struct {
	ConsiderBankDelays   bool    `json:"consider_bank_delays" yaml:"consider_bank_delays"`
	CrossBankMatching    bool    `json:"cross_bank_matching" yaml:"cross_bank_matching"`
	ConfidenceThreshold  float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	AutoApproveThreshold float64 `json:"auto_approve_threshold" yaml:"auto_approve_threshold"`
}

// DefaultPreferences returns the settings used when a company has none stored
func DefaultPreferences() *Preferences {
	return &Preferences{
		ConsiderBankDelays:   true,
		CrossBankMatching:    true,
		ConfidenceThreshold:  0.7,
		AutoApproveThreshold: 0.9,
	}
}

// Validate checks threshold ranges
func (p *Preferences) Validate() error {
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be between 0 and 1, got %.2f", p.ConfidenceThreshold)
	}
	if p.AutoApproveThreshold < 0 || p.AutoApproveThreshold > 1 {
		return fmt.Errorf("auto-approve threshold must be between 0 and 1, got %.2f", p.AutoApproveThreshold)
	}
	return nil
}

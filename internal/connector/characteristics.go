// Package connector converts native vendor payloads into universal
// transactions and carries the static taxonomy of connector kinds.
package connector

import (
	"github.com/taxpoynt/platform/internal/transaction"
)

// Category groups connector kinds by business function.
type Category string

const (
	CategoryBusinessSystem Category = "business_system"
	CategoryRetail         Category = "retail"
	CategoryCustomerData   Category = "customer_data"
	CategoryFinancial      Category = "financial"
)

// StructureLevel describes how structured the vendor data usually is.
type StructureLevel string

const (
	StructureHigh   StructureLevel = "high"
	StructureMedium StructureLevel = "medium"
	StructureLow    StructureLevel = "low"
)

// VolumeBucket is the typical transaction volume for a connector kind.
type VolumeBucket string

const (
	VolumeLow      VolumeBucket = "low"
	VolumeMedium   VolumeBucket = "medium"
	VolumeHigh     VolumeBucket = "high"
	VolumeVeryHigh VolumeBucket = "very_high"
)

// QualityBand is the expected data-quality band.
type QualityBand string

const (
	QualityExcellent QualityBand = "excellent"
	QualityGood      QualityBand = "good"
	QualityVariable  QualityBand = "variable"
)

// Characteristics is the static processing profile for a connector kind.
type Characteristics struct {
	Kind                     transaction.ConnectorKind
	Category                 Category
	Structure                StructureLevel
	DefaultRisk              transaction.RiskLevel
	RequiresFraudDetection   bool
	RequiresCustomerMatching bool
	SupportsBatch            bool
	TypicalVolume            VolumeBucket
	ComplianceRegimes        []string
	ExpectedQuality          QualityBand
}

// registry maps connector kind to its static characteristics. The taxonomy is
// fixed at compile time; unknown kinds fall back to conservative defaults.
var registry = map[transaction.ConnectorKind]Characteristics{
	transaction.KindERP: {
		Kind:                     transaction.KindERP,
		Category:                 CategoryBusinessSystem,
		Structure:                StructureHigh,
		DefaultRisk:              transaction.RiskLow,
		RequiresFraudDetection:   false,
		RequiresCustomerMatching: true,
		SupportsBatch:            true,
		TypicalVolume:            VolumeHigh,
		ComplianceRegimes:        []string{"FIRS", "VAT"},
		ExpectedQuality:          QualityExcellent,
	},
	transaction.KindCRM: {
		Kind:                     transaction.KindCRM,
		Category:                 CategoryCustomerData,
		Structure:                StructureMedium,
		DefaultRisk:              transaction.RiskLow,
		RequiresFraudDetection:   false,
		RequiresCustomerMatching: true,
		SupportsBatch:            true,
		TypicalVolume:            VolumeMedium,
		ComplianceRegimes:        []string{"NDPR"},
		ExpectedQuality:          QualityGood,
	},
	transaction.KindPOS: {
		Kind:                     transaction.KindPOS,
		Category:                 CategoryRetail,
		Structure:                StructureMedium,
		DefaultRisk:              transaction.RiskMedium,
		RequiresFraudDetection:   true,
		RequiresCustomerMatching: false,
		SupportsBatch:            true,
		TypicalVolume:            VolumeVeryHigh,
		ComplianceRegimes:        []string{"FIRS", "VAT", "CBN"},
		ExpectedQuality:          QualityVariable,
	},
	transaction.KindEcommerce: {
		Kind:                     transaction.KindEcommerce,
		Category:                 CategoryRetail,
		Structure:                StructureMedium,
		DefaultRisk:              transaction.RiskMedium,
		RequiresFraudDetection:   true,
		RequiresCustomerMatching: true,
		SupportsBatch:            true,
		TypicalVolume:            VolumeHigh,
		ComplianceRegimes:        []string{"FIRS", "VAT", "NDPR"},
		ExpectedQuality:          QualityVariable,
	},
	transaction.KindAccounting: {
		Kind:                     transaction.KindAccounting,
		Category:                 CategoryBusinessSystem,
		Structure:                StructureHigh,
		DefaultRisk:              transaction.RiskLow,
		RequiresFraudDetection:   false,
		RequiresCustomerMatching: true,
		SupportsBatch:            true,
		TypicalVolume:            VolumeMedium,
		ComplianceRegimes:        []string{"FIRS", "VAT"},
		ExpectedQuality:          QualityExcellent,
	},
	transaction.KindBanking: {
		Kind:                     transaction.KindBanking,
		Category:                 CategoryFinancial,
		Structure:                StructureHigh,
		DefaultRisk:              transaction.RiskHigh,
		RequiresFraudDetection:   true,
		RequiresCustomerMatching: true,
		SupportsBatch:            true,
		TypicalVolume:            VolumeVeryHigh,
		ComplianceRegimes:        []string{"CBN", "NDIC", "AML"},
		ExpectedQuality:          QualityGood,
	},
	transaction.KindPayment: {
		Kind:                     transaction.KindPayment,
		Category:                 CategoryFinancial,
		Structure:                StructureHigh,
		DefaultRisk:              transaction.RiskMedium,
		RequiresFraudDetection:   true,
		RequiresCustomerMatching: false,
		SupportsBatch:            true,
		TypicalVolume:            VolumeVeryHigh,
		ComplianceRegimes:        []string{"CBN", "PCI-DSS"},
		ExpectedQuality:          QualityGood,
	},
}

// CharacteristicsFor returns the static characteristics for a connector kind.
// Unknown kinds get a conservative default: medium risk, fraud detection on.
func CharacteristicsFor(kind transaction.ConnectorKind) Characteristics {
	if c, ok := registry[kind]; ok {
		return c
	}
	return Characteristics{
		Kind:                   kind,
		Category:               CategoryBusinessSystem,
		Structure:              StructureLow,
		DefaultRisk:            transaction.RiskMedium,
		RequiresFraudDetection: true,
		TypicalVolume:          VolumeMedium,
		ExpectedQuality:        QualityVariable,
	}
}

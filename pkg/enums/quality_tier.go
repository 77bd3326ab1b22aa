package enums

// QualityTier buckets a 0-100 match quality score.
type QualityTier string

const (
	QualityTierExcellent QualityTier = "excellent"
	QualityTierGreat     QualityTier = "great"
	QualityTierGood      QualityTier = "good"
	QualityTierFair      QualityTier = "fair"
	QualityTierPoor      QualityTier = "poor"
)

// TierForScore maps a clamped 0-100 score onto its tier.
func TierForScore(score int) QualityTier {
	switch {
	case score >= 81:
		return QualityTierExcellent
	case score >= 61:
		return QualityTierGreat
	case score >= 41:
		return QualityTierGood
	case score >= 21:
		return QualityTierFair
	default:
		return QualityTierPoor
	}
}

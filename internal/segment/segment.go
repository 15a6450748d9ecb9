// Package segment derives the stable identity autonomy policies are keyed by.
package segment

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/sells-group/autoprice/internal/model"
)

// nullSentinel stands in for an absent field so that absence is
// distinguishable from an empty string.
const nullSentinel = "NULL"

// Inputs is the tuple a segment is derived from. Category and strategy are
// optional.
type Inputs struct {
	Vendor         string
	Channel        string
	CategoryCode   *string
	StrategyID     *string
	LifecycleStage string
}

// Key returns the hex SHA-256 digest of the tagged, ordered field list.
// The field order and tags are part of the key format and must not change.
func Key(in Inputs) string {
	var b strings.Builder
	b.WriteString("vendor=")
	b.WriteString(in.Vendor)
	b.WriteString("|channel=")
	b.WriteString(in.Channel)
	b.WriteString("|category=")
	b.WriteString(orNull(in.CategoryCode))
	b.WriteString("|strategy=")
	b.WriteString(orNull(in.StrategyID))
	b.WriteString("|stage=")
	b.WriteString(in.LifecycleStage)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func orNull(s *string) string {
	if s == nil {
		return nullSentinel
	}
	return *s
}

// For builds the inputs for a product listed on an account under the strategy
// that governs it. strategyID is nil when no strategy resolves.
func For(p *model.Product, a *model.MarketAccount, strategyID *string) Inputs {
	return Inputs{
		Vendor:         p.Vendor,
		Channel:        a.Channel,
		CategoryCode:   p.CategoryCode,
		StrategyID:     strategyID,
		LifecycleStage: p.LifecycleStage,
	}
}

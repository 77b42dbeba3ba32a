package policy

import (
	"github.com/eliteGoblin/devreload/internal/domain"
)

// AssetPolicy matches any file with an extension under the static directory.
// A change is pushed to browsers as a live reload.
type AssetPolicy struct {
	ignore []string
}

// NewAssetPolicy creates the default asset policy.
func NewAssetPolicy() *AssetPolicy {
	return NewAssetPolicyWith(nil)
}

// NewAssetPolicyWith creates an asset policy with extra ignore globs.
func NewAssetPolicyWith(extraIgnore []string) *AssetPolicy {
	return &AssetPolicy{ignore: append(DefaultIgnorePatterns(), extraIgnore...)}
}

func (p *AssetPolicy) ID() string {
	return "asset"
}

func (p *AssetPolicy) Name() string {
	return "Static assets"
}

func (p *AssetPolicy) Class() domain.ChangeClass {
	return domain.ClassAsset
}

func (p *AssetPolicy) IncludePatterns() []string {
	return []string{"*.*"}
}

func (p *AssetPolicy) IgnorePatterns() []string {
	return p.ignore
}

// Ensure AssetPolicy implements WatchPolicy.
var _ WatchPolicy = (*AssetPolicy)(nil)

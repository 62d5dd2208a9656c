// Package offering computes tenant entitlements from a product offering bitmask.
package offering

import (
	"sort"
	"strings"
)

// Offering is an immutable entitlement snapshot built from a tenant's
// productOffering column.
type Offering struct {
	mask     int
	features map[string]struct{}
}

// New never fails. A zero mask is treated as PRO.
func New(mask int) Offering {
	if mask == 0 {
		mask = PRO
	}
	return build(mask)
}

func build(mask int) Offering {
	features := make(map[string]struct{})
	for _, bit := range All {
		if mask&bit == 0 {
			continue
		}
		for _, feature := range tierFeatures[bit] {
			features[feature] = struct{}{}
		}
	}
	return Offering{mask: mask, features: features}
}

// HasOffering reports whether mask shares any bit with query.
func HasOffering(mask, query int) bool {
	return mask&query != 0
}

func (o Offering) Mask() int {
	return o.mask
}

func (o Offering) HasOffering(query int) bool {
	return HasOffering(o.mask, query)
}

func (o Offering) CanViewOffering(query int) bool {
	return o.HasOffering(query) || o.IsCRM()
}

func (o Offering) HasFeature(feature string) bool {
	_, ok := o.features[feature]
	return ok
}

// CanViewFeature lets free CRM tenants see, but not use, paid features.
func (o Offering) CanViewFeature(feature string) bool {
	return o.HasFeature(feature) || o.IsCRM()
}

func (o Offering) IsCRM() bool {
	return o.HasOffering(CRMMask)
}

func (o Offering) IsFree() bool {
	return o.HasOffering(FreeMask)
}

func (o Offering) IsPAOnly() bool {
	return o.HasOffering(PerfectAudienceOnly)
}

func (o Offering) IsPADirect() bool {
	return o.HasOffering(PerfectAudienceDirect)
}

func (o Offering) IsPAOnlyOrDirect() bool {
	return o.HasOffering(PerfectAudienceOnly | PerfectAudienceDirect)
}

// PrimaryOffering returns the first primary bit in priority order.
func (o Offering) PrimaryOffering() (int, bool) {
	for _, bit := range All {
		if o.mask&PrimaryMask&bit != 0 {
			return bit, true
		}
	}
	return 0, false
}

// FeatureSettings returns the limits for a feature the tenant has.
func (o Offering) FeatureSettings(feature string) (Settings, bool) {
	if !o.HasFeature(feature) {
		return nil, false
	}
	settings, ok := featureSettings[feature]
	if !ok {
		return nil, false
	}
	out := make(Settings, len(settings))
	for k, v := range settings {
		out[k] = v
	}
	return out, true
}

// Limit returns a numeric setting such as automation/lists.
func (o Offering) Limit(feature, key string) (int, bool) {
	settings, ok := o.FeatureSettings(feature)
	if !ok {
		return 0, false
	}
	limit, ok := settings[key].(int)
	return limit, ok
}

func (o Offering) Features() []string {
	out := make([]string, 0, len(o.features))
	for feature := range o.features {
		out = append(out, feature)
	}
	sort.Strings(out)
	return out
}

func (o Offering) Name() string {
	var parts []string
	for _, entry := range names {
		if o.HasOffering(entry.bit) {
			parts = append(parts, entry.label)
		}
	}
	return strings.Join(parts, ", ")
}

// ToggleProduct flips between the PRO and ESP products. Toggling a tenant
// that holds both leaves an empty mask with no features.
func (o Offering) ToggleProduct() Offering {
	return build(o.mask ^ (PRO | ESP))
}

func Abbreviations(mask int) []string {
	var out []string
	for _, entry := range abbreviations {
		if HasOffering(mask, entry.bit) {
			out = append(out, entry.label)
		}
	}
	return out
}

package offering

import (
	"reflect"
	"testing"
)

func TestHasOffering(t *testing.T) {
	if HasOffering(PRO, ESP) {
		t.Fatalf("PRO should not have ESP")
	}
	if !HasOffering(PRO|ESP, ESP) {
		t.Fatalf("PRO|ESP should have ESP")
	}
	if !HasOffering(CRMTierOne, CRMMask) {
		t.Fatalf("tier one should match the CRM mask")
	}
}

func TestZeroMaskDefaultsToPro(t *testing.T) {
	o := New(0)
	if o.Mask() != PRO {
		t.Fatalf("expected PRO mask, got %d", o.Mask())
	}
	if !o.HasFeature(UtilizationScore) {
		t.Fatalf("expected PRO feature %q", UtilizationScore)
	}
}

func TestBitValuesAreStable(t *testing.T) {
	want := []int{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 2048}
	if !reflect.DeepEqual(All, want) {
		t.Fatalf("offering bits changed: %v", All)
	}
	if FreeMask != 192 || CRMMask != 960 {
		t.Fatalf("unexpected masks free=%d crm=%d", FreeMask, CRMMask)
	}
	if PrimaryMask != 1|2|64|128|256|512|1024|2048 {
		t.Fatalf("unexpected primary mask %d", PrimaryMask)
	}
	for _, bit := range All {
		if _, ok := tierFeatures[bit]; !ok {
			t.Fatalf("bit %d has no feature table", bit)
		}
	}
}

func TestHasFeatureIsMonotonic(t *testing.T) {
	full := 0
	for _, bit := range All {
		full |= bit
	}
	for mask := 1; mask <= full; mask++ {
		base := New(mask)
		for _, bit := range All {
			wider := New(mask | bit)
			for _, feature := range base.Features() {
				if !wider.HasFeature(feature) {
					t.Fatalf("adding bit %d to mask %d removed feature %q", bit, mask, feature)
				}
			}
		}
	}
}

func TestCRMTiers(t *testing.T) {
	free := New(CRMTierZero)
	if !free.IsCRM() || !free.IsFree() {
		t.Fatalf("tier zero should be CRM and free")
	}
	if free.HasFeature(Automation) {
		t.Fatalf("tier zero should not have automation")
	}
	if !free.CanViewFeature(Automation) {
		t.Fatalf("CRM tenants can view every feature")
	}
	if !free.CanViewOffering(PRO) {
		t.Fatalf("CRM tenants can view every offering")
	}

	pro := New(PRO)
	if pro.IsCRM() || pro.CanViewFeature(Projects) {
		t.Fatalf("PRO is not CRM and has no beta projects")
	}
}

func TestPrimaryOffering(t *testing.T) {
	cases := []struct {
		mask int
		want int
		ok   bool
	}{
		{PRO | SUP, PRO, true},
		{SUP | ESP, ESP, true},
		{SUP | VID | BETA, 0, false},
		{CRM | CRMTierTwo, CRMTierTwo, true},
		{CRMTierZeroIntro | CRMTierOne, CRMTierZeroIntro, true},
		{PerfectAudienceDirect, PerfectAudienceDirect, true},
	}
	for _, tc := range cases {
		got, ok := New(tc.mask).PrimaryOffering()
		if got != tc.want || ok != tc.ok {
			t.Fatalf("PrimaryOffering(%d) = %d,%v want %d,%v", tc.mask, got, ok, tc.want, tc.ok)
		}
	}
}

func TestFeatureSettings(t *testing.T) {
	limit, ok := New(PRO).Limit(Automation, "lists")
	if !ok || limit != 100 {
		t.Fatalf("expected automation list limit 100, got %d %v", limit, ok)
	}
	if _, ok := New(CRMTierZero).FeatureSettings(Automation); ok {
		t.Fatalf("settings must be hidden when the feature is missing")
	}
	settings, ok := New(VID).FeatureSettings(VisitorID)
	if !ok || settings["anonymous"] != "invisible" {
		t.Fatalf("unexpected visitorid settings %v", settings)
	}
	if _, ok := New(PRO).FeatureSettings(Email); ok {
		t.Fatalf("email has no settings block")
	}
}

func TestNameAndAbbreviations(t *testing.T) {
	o := New(PRO | SUP | CRM)
	if got := o.Name(); got != "Marketing Automation, SharpSpring CRM, Dedicated Support" {
		t.Fatalf("unexpected name %q", got)
	}
	got := Abbreviations(ESP | PerfectAudienceOnly)
	if !reflect.DeepEqual(got, []string{"ESP", "PA_ONLY"}) {
		t.Fatalf("unexpected abbreviations %v", got)
	}
}

func TestToggleProduct(t *testing.T) {
	if got := New(PRO | SUP).ToggleProduct().Mask(); got != ESP|SUP {
		t.Fatalf("expected ESP|SUP, got %d", got)
	}
	if got := New(ESP).ToggleProduct().Mask(); got != PRO {
		t.Fatalf("expected PRO, got %d", got)
	}

	empty := New(PRO | ESP).ToggleProduct()
	if empty.Mask() != 0 {
		t.Fatalf("expected empty mask, got %d", empty.Mask())
	}
	if len(empty.Features()) != 0 {
		t.Fatalf("expected no features, got %v", empty.Features())
	}
	if _, ok := empty.PrimaryOffering(); ok {
		t.Fatal("expected no primary offering for an empty mask")
	}
}

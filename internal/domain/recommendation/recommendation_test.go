package recommendation

import (
	"strings"
	"testing"

	"github.com/kailas-cloud/healthrec/internal/domain/service"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
		ok   bool
	}{
		{"normal", CategoryNormal, true},
		{" EMERGENCY ", CategoryEmergency, true},
		{"out-of-scope", CategoryOutOfScope, true},
		{"out_of_scope", CategoryOutOfScope, true},
		{"maybe", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseCategory(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseCategory(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestConstructors_GateExclusivity(t *testing.T) {
	e := Emergency()
	if !e.IsEmergency || e.IsOutOfScope || len(e.Services) != 0 || e.NoServicesFound {
		t.Errorf("unexpected emergency: %+v", e)
	}
	if !strings.Contains(e.Message, "9-1-1") {
		t.Error("emergency message must mention 9-1-1")
	}

	o := OutOfScope()
	if o.IsEmergency || !o.IsOutOfScope || len(o.Services) != 0 {
		t.Errorf("unexpected out of scope: %+v", o)
	}
	if !e.Gated() || !o.Gated() {
		t.Error("gated responses must report Gated")
	}
}

func TestFound(t *testing.T) {
	r := Found("Overview: x\nReasoning: y", []service.Record{{ID: "1", Name: "A"}})
	if r.Gated() || r.NoServicesFound || len(r.Services) != 1 {
		t.Errorf("unexpected: %+v", r)
	}

	empty := Found("none", nil)
	if !empty.NoServicesFound || empty.Services == nil {
		t.Errorf("empty Found should mark NoServicesFound with a non-nil slice: %+v", empty)
	}
}

package graph

import "testing"

func TestDefinitionParam(t *testing.T) {
	tests := []struct {
		name         string
		def          *Definition
		resourceType string
		want         string
	}{
		{"linked resource", PatientCompartment, "Observation", "subject"},
		{"not a member", PatientCompartment, "CompartmentDefinition", ""},
		{
			name: "multi-param resource returns first",
			def: &Definition{
				FocalType: "Custom",
				Resources: map[string][]string{"Foo": {"alpha", "beta"}},
			},
			resourceType: "Foo",
			want:         "alpha",
		},
		{
			name: "nil param slice",
			def: &Definition{
				FocalType: "Custom",
				Resources: map[string][]string{"Bar": nil},
			},
			resourceType: "Bar",
			want:         "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.def.Param(tt.resourceType); got != tt.want {
				t.Errorf("Param(%q) = %q, want %q", tt.resourceType, got, tt.want)
			}
		})
	}
}

func TestDefinitionIncludes(t *testing.T) {
	if !PatientCompartment.Includes("Observation") {
		t.Error("expected Observation to be in the Patient compartment")
	}
	if PatientCompartment.Includes("Device") {
		t.Error("expected Device not to be in the Patient compartment")
	}
}

func TestDefinitionParams(t *testing.T) {
	got := PatientCompartment.Params("Claim")
	want := []string{"patient", "payee"}
	if len(got) != len(want) {
		t.Fatalf("Params(Claim) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Params(Claim)[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCompartmentFor(t *testing.T) {
	if compartmentFor("Patient") != PatientCompartment {
		t.Error("expected Patient to resolve to PatientCompartment")
	}
	if compartmentFor("Encounter") != EncounterCompartment {
		t.Error("expected Encounter to resolve to EncounterCompartment")
	}
	if compartmentFor("Group") != nil {
		t.Error("expected Group to have no static compartment definition")
	}
}

package registry

// DefaultSearchParameters returns the common cross-resource and
// Patient/Observation/Encounter parameters pre-registered on startup,
// covering every SearchParamType except number at least once so the search
// compiler's typed dispatch has a concrete definition to exercise for those
// branches; no number-typed parameter is pre-registered.
func DefaultSearchParameters() []*SearchParameter {
	return []*SearchParameter{
		{
			Code:        "_id",
			URL:         "http://hl7.org/fhir/SearchParameter/Resource-id",
			Name:        "ResourceId",
			Type:        TypeToken,
			Base:        []string{"Resource"},
			Expression:  "Resource.id",
			MultipleOr:  true,
			MultipleAnd: true,
		},
		{
			Code:       "_lastUpdated",
			URL:        "http://hl7.org/fhir/SearchParameter/Resource-lastUpdated",
			Name:       "ResourceLastUpdated",
			Type:       TypeDate,
			Base:       []string{"Resource"},
			Expression: "Resource.meta.lastUpdated",
			Comparators: []string{"eq", "ne", "gt", "lt", "ge", "le", "sa", "eb", "ap"},
		},
		{
			Code:       "_tag",
			URL:        "http://hl7.org/fhir/SearchParameter/Resource-tag",
			Name:       "ResourceTag",
			Type:       TypeToken,
			Base:       []string{"Resource"},
			Expression: "Resource.meta.tag",
		},
		{
			Code:       "_profile",
			URL:        "http://hl7.org/fhir/SearchParameter/Resource-profile",
			Name:       "ResourceProfile",
			Type:       TypeURI,
			Base:       []string{"Resource"},
			Expression: "Resource.meta.profile",
		},
		{
			Code:      "_text",
			URL:       "http://hl7.org/fhir/SearchParameter/Resource-text",
			Name:      "ResourceText",
			Type:      TypeString,
			Base:      []string{"DomainResource"},
			Modifiers: []string{"missing", "exact", "contains"},
		},
		{
			Code: "_has",
			URL:  "http://hl7.org/fhir/SearchParameter/Resource-has",
			Name: "ResourceHas",
			Type: TypeSpecial,
			Base: []string{"Resource"},
		},
		{
			Code:        "name",
			URL:         "http://hl7.org/fhir/SearchParameter/Patient-name",
			Name:        "PatientName",
			Type:        TypeString,
			Base:        []string{"Patient"},
			Expression:  "Patient.name",
			ElementHint: HintHumanName,
			Modifiers:   []string{"missing", "exact", "contains"},
			MultipleOr:  true,
			MultipleAnd: true,
		},
		{
			Code:        "family",
			URL:         "http://hl7.org/fhir/SearchParameter/Patient-family",
			Name:        "PatientFamily",
			Type:        TypeString,
			Base:        []string{"Patient"},
			Expression:  "Patient.name.family",
			ElementHint: HintHumanName,
			Modifiers:   []string{"missing", "exact", "contains"},
		},
		{
			Code:        "given",
			URL:         "http://hl7.org/fhir/SearchParameter/Patient-given",
			Name:        "PatientGiven",
			Type:        TypeString,
			Base:        []string{"Patient"},
			Expression:  "Patient.name.given",
			ElementHint: HintHumanName,
			Modifiers:   []string{"missing", "exact", "contains"},
		},
		{
			Code:        "identifier",
			URL:         "http://hl7.org/fhir/SearchParameter/Patient-identifier",
			Name:        "PatientIdentifier",
			Type:        TypeToken,
			Base:        []string{"Patient"},
			Expression:  "Patient.identifier",
			ElementHint: HintIdentifier,
			Modifiers:   []string{"missing", "identifier", "text", "not", "in", "not-in", "below", "above"},
		},
		{
			Code:       "birthdate",
			URL:        "http://hl7.org/fhir/SearchParameter/individual-birthdate",
			Name:       "PatientBirthdate",
			Type:       TypeDate,
			Base:       []string{"Patient"},
			Expression: "Patient.birthDate",
			Comparators: []string{"eq", "ne", "gt", "lt", "ge", "le", "sa", "eb", "ap"},
		},
		{
			Code:       "general-practitioner",
			URL:        "http://hl7.org/fhir/SearchParameter/Patient-general-practitioner",
			Name:       "PatientGeneralPractitioner",
			Type:       TypeReference,
			Base:       []string{"Patient"},
			Expression: "Patient.generalPractitioner",
			Targets:    []string{"Organization", "Practitioner", "PractitionerRole"},
			Modifiers:  []string{"missing", "identifier", "Type"},
		},
		{
			Code:       "subject",
			URL:        "http://hl7.org/fhir/SearchParameter/clinical-subject",
			Name:       "ClinicalSubject",
			Type:       TypeReference,
			Base:       []string{"Observation", "Condition", "Encounter"},
			Expression: "Observation.subject",
			Targets:    []string{"Patient", "Group", "Device", "Location"},
			Modifiers:  []string{"missing", "identifier", "Type"},
		},
		{
			Code:       "code",
			URL:        "http://hl7.org/fhir/SearchParameter/Observation-code",
			Name:       "ObservationCode",
			Type:       TypeToken,
			Base:       []string{"Observation"},
			Expression: "Observation.code",
			ElementHint: HintCodeableConcept,
			Modifiers:  []string{"missing", "not", "in", "not-in", "below", "above"},
		},
		{
			Code:       "value-quantity",
			URL:        "http://hl7.org/fhir/SearchParameter/Observation-value-quantity",
			Name:       "ObservationValueQuantity",
			Type:       TypeQuantity,
			Base:       []string{"Observation"},
			Expression: "Observation.value.ofType(Quantity)",
			Comparators: []string{"eq", "ne", "gt", "lt", "ge", "le", "sa", "eb", "ap"},
		},
		{
			Code:       "code-value-quantity",
			URL:        "http://hl7.org/fhir/SearchParameter/Observation-code-value-quantity",
			Name:       "ObservationCodeValueQuantity",
			Type:       TypeComposite,
			Base:       []string{"Observation"},
			Components: []Component{
				{DefinitionURL: "http://hl7.org/fhir/SearchParameter/Observation-code", Expression: "code"},
				{DefinitionURL: "http://hl7.org/fhir/SearchParameter/Observation-value-quantity", Expression: "value.ofType(Quantity)"},
			},
		},
		{
			Code:       "status",
			URL:        "http://hl7.org/fhir/SearchParameter/Encounter-status",
			Name:       "EncounterStatus",
			Type:       TypeToken,
			Base:       []string{"Encounter"},
			Expression: "Encounter.status",
		},
	}
}

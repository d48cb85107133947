// Package graph implements $everything and $graph: compartment- and
// GraphDefinition-driven traversals over the resources internal/storage
// holds, using the reference index internal/search already maintains on
// write rather than re-deriving it.
package graph

// Definition maps the resource types that belong to a compartment to the
// search parameter(s) that link them to the compartment's focal resource.
// An empty parameter list means the type is a member with no standard
// single-valued link (rare; kept for parity with the FHIR compartment
// tables rather than silently dropping the type).
type Definition struct {
	FocalType string
	Resources map[string][]string
}

// Param returns the first search parameter linking resourceType into def,
// or "" if resourceType is not a member or carries no linking parameter.
func (d *Definition) Param(resourceType string) string {
	params, ok := d.Resources[resourceType]
	if !ok || len(params) == 0 {
		return ""
	}
	return params[0]
}

// Params returns every search parameter linking resourceType into def, so
// $everything can issue one bounded search per parameter rather than only
// following the first (e.g. Claim is linked to Patient by both "patient"
// and "payee").
func (d *Definition) Params(resourceType string) []string {
	return d.Resources[resourceType]
}

// Includes reports whether resourceType is a member of def at all.
func (d *Definition) Includes(resourceType string) bool {
	_, ok := d.Resources[resourceType]
	return ok
}

// PatientCompartment is the FHIR R4 Patient compartment: every resource
// type $everything(Patient) pulls in, and the parameter(s) that tie each
// back to the focal patient.
var PatientCompartment = &Definition{
	FocalType: "Patient",
	Resources: map[string][]string{
		"Account":                  {"subject"},
		"AllergyIntolerance":       {"patient", "recorder", "asserter"},
		"Appointment":              {"actor"},
		"AppointmentResponse":      {"actor"},
		"AuditEvent":               {"patient"},
		"Basic":                    {"patient"},
		"BodyStructure":            {"patient"},
		"CarePlan":                 {"patient", "performer"},
		"CareTeam":                 {"patient", "participant"},
		"ChargeItem":               {"subject"},
		"Claim":                    {"patient", "payee"},
		"ClinicalImpression":       {"subject"},
		"Communication":            {"subject", "sender", "recipient"},
		"CommunicationRequest":     {"subject", "sender", "recipient", "requester"},
		"Composition":              {"subject", "author", "attester"},
		"Condition":                {"patient", "asserter"},
		"Consent":                  {"patient"},
		"Coverage":                 {"patient", "subscriber", "beneficiary", "payor"},
		"DetectedIssue":            {"patient"},
		"DeviceRequest":            {"subject", "performer"},
		"DeviceUseStatement":       {"subject"},
		"DiagnosticReport":         {"subject"},
		"DocumentManifest":         {"subject", "author"},
		"DocumentReference":        {"subject", "author"},
		"Encounter":                {"patient"},
		"EnrollmentRequest":        {"subject"},
		"EpisodeOfCare":            {"patient"},
		"ExplanationOfBenefit":     {"patient", "payee"},
		"FamilyMemberHistory":      {"patient"},
		"Flag":                     {"patient"},
		"Goal":                     {"patient"},
		"ImagingStudy":             {"patient"},
		"Immunization":             {"patient"},
		"ImmunizationEvaluation":   {"patient"},
		"ImmunizationRecommendation": {"patient"},
		"Invoice":                  {"subject"},
		"List":                     {"subject", "source"},
		"MeasureReport":            {"subject"},
		"Media":                    {"subject"},
		"MedicationAdministration": {"patient", "performer", "subject"},
		"MedicationDispense":       {"subject", "patient", "receiver"},
		"MedicationRequest":        {"subject"},
		"MedicationStatement":      {"subject"},
		"NutritionOrder":           {"patient"},
		"Observation":              {"subject", "performer"},
		"Procedure":                {"patient", "performer"},
		"Provenance":               {"patient"},
		"QuestionnaireResponse":    {"subject", "author"},
		"RelatedPerson":            {"patient"},
		"RequestGroup":             {"subject"},
		"ResearchSubject":          {"individual"},
		"RiskAssessment":           {"subject"},
		"Schedule":                 {"actor"},
		"ServiceRequest":           {"subject", "performer"},
		"Specimen":                 {"subject"},
		"SupplyDelivery":           {"patient"},
		"SupplyRequest":            {"requester"},
		"VisionPrescription":       {"patient"},
	},
}

// EncounterCompartment is the FHIR R4 Encounter compartment, used for
// $everything(Encounter).
var EncounterCompartment = &Definition{
	FocalType: "Encounter",
	Resources: map[string][]string{
		"CarePlan":                 {"encounter"},
		"CareTeam":                 {"encounter"},
		"Claim":                    {"encounter"},
		"ChargeItem":               {"context"},
		"Communication":            {"encounter"},
		"Composition":              {"encounter"},
		"Condition":                {"encounter"},
		"DeviceRequest":            {"encounter"},
		"DiagnosticReport":         {"encounter"},
		"DocumentReference":        {"encounter"},
		"EnrollmentRequest":        {"encounter"},
		"ExplanationOfBenefit":     {"encounter"},
		"Flag":                     {"encounter"},
		"ImagingStudy":             {"encounter"},
		"List":                     {"encounter"},
		"MedicationAdministration": {"context"},
		"MedicationDispense":       {"context"},
		"MedicationRequest":        {"encounter"},
		"NutritionOrder":           {"encounter"},
		"Observation":              {"encounter"},
		"Procedure":                {"encounter"},
		"Provenance":               {"encounter"},
		"QuestionnaireResponse":    {"encounter"},
		"RequestGroup":             {"encounter"},
		"RiskAssessment":           {"encounter"},
		"ServiceRequest":           {"encounter"},
		"VisionPrescription":       {"encounter"},
	},
}

// compartmentFor returns the static compartment definition for focalType,
// or nil if $everything does not support that focal type. Group is handled
// separately: it has no standard FHIR compartment of its own, since
// $everything(Group) means "union of $everything(member) for every current
// Patient member" rather than a direct reference walk.
func compartmentFor(focalType string) *Definition {
	switch focalType {
	case "Patient":
		return PatientCompartment
	case "Encounter":
		return EncounterCompartment
	default:
		return nil
	}
}

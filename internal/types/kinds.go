package types

import (
	"fmt"
	"strings"
)

// DocumentKind is the closed set of document types the verifier understands.
// The kind selects both the extraction prompt and the validation rules.
type DocumentKind string

// DocumentKind constants
const (
	KindIdentityProof      DocumentKind = "identity_proof"
	KindTranscript10       DocumentKind = "transcript_10"
	KindTranscript12       DocumentKind = "transcript_12"
	KindPhoto              DocumentKind = "photo"
	KindFeeReceipt         DocumentKind = "fee_receipt"
	KindMedicalCertificate DocumentKind = "medical_certificate"
)

// FieldFormat names a plausibility check applied to a present field value.
type FieldFormat string

// FieldFormat constants
const (
	FormatNone       FieldFormat = ""
	FormatDate       FieldFormat = "date"
	FormatPercentage FieldFormat = "percentage"
	FormatAmount     FieldFormat = "amount"
	FormatYear       FieldFormat = "year"
	FormatBoolean    FieldFormat = "boolean"
	FormatIdentifier FieldFormat = "identifier"
)

// MissingSeverity controls what a missing field produces during validation.
type MissingSeverity string

// MissingSeverity constants
const (
	MissingIgnored MissingSeverity = "none"
	MissingWarning MissingSeverity = "warning"
	MissingError   MissingSeverity = "error"
)

// FieldSpec describes one expected field of a document kind.
type FieldSpec struct {
	Name        string
	Aliases     []string
	Description string
	Missing     MissingSeverity
	Format      FieldFormat
}

// Matches reports whether key names this field, either canonically or by alias.
func (f FieldSpec) Matches(key string) bool {
	if strings.EqualFold(key, f.Name) {
		return true
	}
	for _, alias := range f.Aliases {
		if strings.EqualFold(key, alias) {
			return true
		}
	}
	return false
}

// KindSpec is the extraction and validation record for one document kind.
type KindSpec struct {
	Kind           DocumentKind
	Label          string
	ExtractionHint string
	Fields         []FieldSpec
}

// Field returns the spec for a canonical field name.
func (k KindSpec) Field(name string) (FieldSpec, bool) {
	for _, f := range k.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

var kindSpecs = map[DocumentKind]KindSpec{
	KindIdentityProof: {
		Kind:           KindIdentityProof,
		Label:          "government identity proof",
		ExtractionHint: "An identity card, passport or national ID. Read the document number exactly as printed, including letters.",
		Fields: []FieldSpec{
			{Name: "idNumber", Aliases: []string{"aadhaarNumber", "documentNumber", "passportNumber", "id_number"}, Description: "identity document number", Missing: MissingError, Format: FormatIdentifier},
			{Name: "name", Aliases: []string{"fullName", "holderName"}, Description: "full name of the holder", Missing: MissingError},
			{Name: "dateOfBirth", Aliases: []string{"dob", "birthDate"}, Description: "date of birth", Missing: MissingIgnored, Format: FormatDate},
			{Name: "address", Description: "address as printed", Missing: MissingIgnored},
		},
	},
	KindTranscript10: {
		Kind:           KindTranscript10,
		Label:          "class 10 marksheet",
		ExtractionHint: "A secondary school (class 10) marksheet. Report the aggregate percentage or CGPA, not individual subject marks.",
		Fields:         transcriptFields(),
	},
	KindTranscript12: {
		Kind:           KindTranscript12,
		Label:          "class 12 marksheet",
		ExtractionHint: "A higher secondary (class 12) marksheet. Report the aggregate percentage or CGPA, not individual subject marks.",
		Fields:         transcriptFields(),
	},
	KindPhoto: {
		Kind:           KindPhoto,
		Label:          "passport-size photograph",
		ExtractionHint: "A passport-size photograph of the student. Report whether a single face is clearly visible and describe the background colour.",
		Fields: []FieldSpec{
			{Name: "faceVisible", Description: "true if exactly one face is clearly visible", Missing: MissingWarning, Format: FormatBoolean},
			{Name: "background", Description: "background colour", Missing: MissingIgnored},
		},
	},
	KindFeeReceipt: {
		Kind:           KindFeeReceipt,
		Label:          "fee payment receipt",
		ExtractionHint: "A fee payment receipt or bank transaction slip. Report the paid amount as digits only.",
		Fields: []FieldSpec{
			{Name: "amount", Aliases: []string{"amountPaid", "totalAmount"}, Description: "amount paid", Missing: MissingError, Format: FormatAmount},
			{Name: "receiptNumber", Aliases: []string{"transactionId", "referenceNumber", "utr"}, Description: "receipt or transaction identifier", Missing: MissingWarning, Format: FormatIdentifier},
			{Name: "paymentDate", Aliases: []string{"date", "transactionDate"}, Description: "date of payment", Missing: MissingIgnored, Format: FormatDate},
			{Name: "payerName", Description: "name of the payer", Missing: MissingIgnored},
		},
	},
	KindMedicalCertificate: {
		Kind:           KindMedicalCertificate,
		Label:          "medical fitness certificate",
		ExtractionHint: "A medical fitness certificate signed by a registered practitioner.",
		Fields: []FieldSpec{
			{Name: "name", Aliases: []string{"patientName", "studentName"}, Description: "name of the certified person", Missing: MissingError},
			{Name: "doctorName", Aliases: []string{"practitionerName"}, Description: "name of the issuing doctor", Missing: MissingWarning},
			{Name: "registrationNumber", Description: "doctor registration number", Missing: MissingIgnored, Format: FormatIdentifier},
			{Name: "issueDate", Aliases: []string{"date"}, Description: "date of issue", Missing: MissingWarning, Format: FormatDate},
		},
	},
}

func transcriptFields() []FieldSpec {
	return []FieldSpec{
		{Name: "name", Aliases: []string{"studentName", "candidateName"}, Description: "name of the student", Missing: MissingError},
		{Name: "marks", Aliases: []string{"percentage", "totalMarks", "cgpa", "aggregate"}, Description: "aggregate percentage or CGPA", Missing: MissingWarning, Format: FormatPercentage},
		{Name: "board", Aliases: []string{"boardName"}, Description: "examination board", Missing: MissingIgnored},
		{Name: "rollNumber", Aliases: []string{"seatNumber"}, Description: "roll or seat number", Missing: MissingIgnored, Format: FormatIdentifier},
		{Name: "yearOfPassing", Aliases: []string{"year"}, Description: "year of passing", Missing: MissingIgnored, Format: FormatYear},
	}
}

// AllKinds returns every supported document kind in a stable order.
func AllKinds() []DocumentKind {
	return []DocumentKind{
		KindIdentityProof,
		KindTranscript10,
		KindTranscript12,
		KindPhoto,
		KindFeeReceipt,
		KindMedicalCertificate,
	}
}

// ParseDocumentKind converts a string into a DocumentKind, rejecting unknown kinds.
func ParseDocumentKind(s string) (DocumentKind, error) {
	kind := DocumentKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := kindSpecs[kind]; !ok {
		return "", fmt.Errorf("unknown document kind: %q", s)
	}
	return kind, nil
}

// Spec returns the extraction/validation record for the kind.
// Every constant in AllKinds has an entry; ok is false only for values that bypassed ParseDocumentKind.
func (k DocumentKind) Spec() (KindSpec, bool) {
	spec, ok := kindSpecs[k]
	return spec, ok
}

// Valid reports whether k is one of the supported kinds.
func (k DocumentKind) Valid() bool {
	_, ok := kindSpecs[k]
	return ok
}

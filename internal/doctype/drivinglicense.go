package doctype

import "mdocholder/internal/domain"

const (
	MDLDocType   domain.DocType   = "org.iso.18013.5.1.mDL"
	MDLNamespace domain.Namespace = "org.iso.18013.5.1"
)

// DrivingLicense returns the ISO/IEC 18013-5 mobile driving licence type
// with sample values for a fictional holder.
func DrivingLicense() DocumentType {
	return DocumentType{
		DocType:     MDLDocType,
		DisplayName: "Driving License",
		Namespaces: []Namespace{{
			ID: MDLNamespace,
			Elements: []Element{
				{ID: "family_name", DisplayName: "Family Name", Mandatory: true, Sample: "Mustermann"},
				{ID: "given_name", DisplayName: "Given Names", Mandatory: true, Sample: "Erika"},
				{ID: "birth_date", DisplayName: "Date of Birth", Mandatory: true, Sample: "1971-09-01"},
				{ID: "issue_date", DisplayName: "Date of Issue", Mandatory: true, Sample: "2024-01-15"},
				{ID: "expiry_date", DisplayName: "Date of Expiry", Mandatory: true, Sample: "2034-01-15"},
				{ID: "issuing_country", DisplayName: "Issuing Country", Mandatory: true, Sample: "ZZ"},
				{ID: "issuing_authority", DisplayName: "Issuing Authority", Mandatory: true, Sample: "Utopia Department of Motor Vehicles"},
				{ID: "document_number", DisplayName: "License Number", Mandatory: true, Sample: "987654321"},
				{ID: "driving_privileges", DisplayName: "Driving Privileges", Mandatory: true, Sample: []any{
					map[string]any{"vehicle_category_code": "A", "issue_date": "2018-08-09", "expiry_date": "2028-09-01"},
					map[string]any{"vehicle_category_code": "B", "issue_date": "2017-02-23", "expiry_date": "2028-09-01"},
				}},
				{ID: "un_distinguishing_sign", DisplayName: "UN Distinguishing Sign", Mandatory: true, Sample: "UTO"},
				{ID: "sex", DisplayName: "Sex", Sample: 2},
				{ID: "height", DisplayName: "Height", Sample: 175},
				{ID: "weight", DisplayName: "Weight", Sample: 68},
				{ID: "eye_colour", DisplayName: "Eye Color", Sample: "blue"},
				{ID: "hair_colour", DisplayName: "Hair Color", Sample: "blond"},
				{ID: "resident_address", DisplayName: "Resident Address", Sample: "Sample Street 123"},
				{ID: "resident_city", DisplayName: "Resident City", Sample: "Sample City"},
				{ID: "resident_country", DisplayName: "Resident Country", Sample: "ZZ"},
				{ID: "age_over_18", DisplayName: "Older Than 18 Years", Sample: true},
				{ID: "age_over_21", DisplayName: "Older Than 21 Years", Sample: true},
				{ID: "age_in_years", DisplayName: "Age in Years", Sample: 53},
				{ID: "portrait", DisplayName: "Photo of Holder", Mandatory: true},
			},
		}},
	}
}

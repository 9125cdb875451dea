package crowdsync

import (
	"fmt"
	"sort"
	"strings"
)

// RecordNameField is the search-index field holding the catalog record name
const RecordNameField = "local_id_ssi"

// arraySeparator joins multi-valued search-index fields
const arraySeparator = ","

// crowdFields maps search-index fields to the catalog fields they are
// written to.
var crowdFields = map[string]string{
	"title_tdsim":                  "crowd_titel",
	"cobject_person_ssim":          "crowd_person",
	"area_building_tsim":           "crowd_bygningsnavn",
	"cobject_location_ssim":        "crowd_sted",
	"citySection_street_tsim":      "crowd_vejnavn",
	"citySection_housenumber_tsim": "crowd_husnummer",
	"cobject_building_ssim":        "crowd_lokalitet",
	"citySection_zipcode_tsim":     "crowd_postnummer",
	"area_area_tsim":               "crowd_by",
	"area_parish_tsim":             "crowd_sogn",
	"area_cadastre_tsim":           "crowd_materikelnummer",
	"description_tsim":             "crowd_note",
	"subject_tdsim":                "crowd_emneord",
	"dcterms_spatial":              "crowd_georeference",
}

// Record holds the crowd-sourced fields of one catalog record
type Record struct {
	Name    string
	Catalog string
	Fields  map[string]string // catalog field name -> value
}

// FieldNames returns the catalog field names set on the record, sorted
func (r Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RecordFromDocument extracts the crowd fields of a search-index document.
// Single-element arrays are unwrapped, longer arrays are joined with commas,
// and missing or empty fields are left out.
func RecordFromDocument(doc map[string]interface{}, catalog string) (Record, error) {
	name, ok := fieldValue(doc, RecordNameField)
	if !ok || name == "" {
		return Record{}, fmt.Errorf("document must contain the field %q", RecordNameField)
	}

	rec := Record{Name: name, Catalog: catalog, Fields: make(map[string]string)}
	for indexField, catalogField := range crowdFields {
		if v, ok := fieldValue(doc, indexField); ok && v != "" {
			rec.Fields[catalogField] = v
		}
	}
	return rec, nil
}

func fieldValue(doc map[string]interface{}, field string) (string, bool) {
	raw, ok := doc[field]
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, true
	case []string:
		return strings.Join(v, arraySeparator), len(v) > 0
	case []interface{}:
		if len(v) == 0 {
			return "", false
		}
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, arraySeparator), true
	default:
		return fmt.Sprint(v), true
	}
}

package service

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/kailas-cloud/healthrec/internal/domain/geo"
)

const (
	unknown            = "Unknown"
	defaultCountry     = "Canada"
	defaultDescription = "No description available"
)

// coreFields are mapped onto Record fields; everything else lands in Metadata.
var coreFields = map[string]bool{
	"id":            true,
	"name":          true,
	"description":   true,
	"latitude":      true,
	"longitude":     true,
	"address":       true,
	"phone_numbers": true,
	"email":         true,
	"website":       true,
	"metadata":      true,
	"last_updated":  true,
	"resource":      true,
	"service_type":  true,
}

// ParseWarning describes a field that could not be interpreted and was dropped.
type ParseWarning struct {
	Field  string
	Reason string
}

// ParseRaw converts one loosely-typed upstream JSON object into a Record.
// Unusable optional fields are dropped and reported as warnings; the record is
// rejected only when it has no name. An empty ID is left for the caller to assign.
func ParseRaw(raw json.RawMessage) (Record, []ParseWarning, error) {
	obj := orderedmap.New[string, any]()
	if err := json.Unmarshal(raw, obj); err != nil {
		return Record{}, nil, fmt.Errorf("decode record: %w", err)
	}

	var warns []ParseWarning
	warn := func(field, reason string) {
		warns = append(warns, ParseWarning{Field: field, Reason: reason})
	}

	rec := Record{
		ID:          scalarString(get(obj, "id")),
		Name:        strings.TrimSpace(scalarString(get(obj, "name"))),
		Description: strings.TrimSpace(scalarString(get(obj, "description"))),
		Email:       strings.TrimSpace(scalarString(get(obj, "email"))),
		Website:     strings.TrimSpace(scalarString(get(obj, "website"))),
		Resource:    strings.TrimSpace(scalarString(get(obj, "resource"))),
		ServiceType: NormalizeServiceType(scalarString(get(obj, "service_type"))),
	}
	if rec.Name == "" {
		return Record{}, warns, fmt.Errorf("record %q has no name", rec.ID)
	}
	if rec.Description == "" {
		rec.Description = defaultDescription
	}

	loc, ok, reason := parseLocation(get(obj, "latitude"), get(obj, "longitude"))
	if ok {
		rec.Location = loc
	} else if reason != "" {
		warn("location", reason)
	}

	if v := get(obj, "address"); v != nil {
		addr, err := parseAddress(v)
		if err != nil {
			warn("address", err.Error())
		} else {
			rec.Address = addr
		}
	}

	if v := get(obj, "phone_numbers"); v != nil {
		rec.PhoneNumbers = parsePhoneNumbers(v)
	}

	if v := scalarString(get(obj, "last_updated")); v != "" {
		ts, err := parseTimestamp(v)
		if err != nil {
			warn("last_updated", err.Error())
		} else {
			rec.LastUpdated = &ts
		}
	}

	rec.Metadata = extractMetadata(obj)
	return rec, warns, nil
}

// NormalizeServiceType lowercases the type tag and joins words with underscores.
func NormalizeServiceType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '/' || r == '_'
	}), "_")
}

func get(obj *orderedmap.OrderedMap[string, any], key string) any {
	v, _ := obj.Get(key)
	return v
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// parseLocation returns a point when both coordinates are present and valid.
// A (0, 0) pair is the upstream placeholder for "no location".
func parseLocation(latRaw, lonRaw any) (*geo.Point, bool, string) {
	if latRaw == nil && lonRaw == nil {
		return nil, false, ""
	}
	lat, okLat := toFloat(latRaw)
	lon, okLon := toFloat(lonRaw)
	if !okLat || !okLon {
		return nil, false, "coordinates are not numeric"
	}
	if lat == 0 && lon == 0 {
		return nil, false, ""
	}
	p, err := geo.NewPoint(lat, lon)
	if err != nil {
		return nil, false, err.Error()
	}
	return &p, true, ""
}

// decodeLoose unwraps values that upstream feeds sometimes deliver as JSON-encoded strings.
func decodeLoose(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		return v
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return v
	}
	return out
}

func parseAddress(v any) (*Address, error) {
	m, ok := decodeLoose(v).(map[string]any)
	if !ok {
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) != "" {
			return &Address{Street1: strings.TrimSpace(s), City: unknown, Province: unknown, Country: defaultCountry}, nil
		}
		return nil, fmt.Errorf("unsupported address format %T", v)
	}
	pick := func(key, def string) string {
		if s := strings.TrimSpace(scalarString(m[key])); s != "" {
			return s
		}
		return def
	}
	return &Address{
		Street1:    pick("street1", unknown),
		Street2:    pick("street2", ""),
		City:       pick("city", unknown),
		Province:   pick("province", unknown),
		PostalCode: pick("postal_code", ""),
		Country:    pick("country", defaultCountry),
	}, nil
}

func parsePhoneNumbers(v any) []PhoneNumber {
	var items []any
	switch t := decodeLoose(v).(type) {
	case []any:
		items = t
	case map[string]any:
		items = []any{t}
	case string:
		items = []any{map[string]any{"number": t}}
	default:
		return nil
	}

	out := make([]PhoneNumber, 0, len(items))
	for _, item := range items {
		m, ok := decodeLoose(item).(map[string]any)
		if !ok {
			if s, isStr := item.(string); isStr {
				m = map[string]any{"number": s}
			} else {
				continue
			}
		}
		if p, ok := parsePhone(m); ok {
			out = append(out, p)
		}
	}
	return out
}

func parsePhone(m map[string]any) (PhoneNumber, bool) {
	number := strings.TrimSpace(scalarString(m["number"]))
	if number == "" {
		return PhoneNumber{}, false
	}
	ext := strings.TrimSpace(scalarString(m["extension"]))
	if ext == "" {
		number, ext = splitExtension(number)
	}
	return PhoneNumber{
		Number:      number,
		Type:        strings.TrimSpace(scalarString(m["type"])),
		Name:        strings.TrimSpace(scalarString(m["name"])),
		Description: strings.TrimSpace(scalarString(m["description"])),
		Extension:   ext,
	}, true
}

// splitExtension separates "416-555-0100 ext. 12" into number and extension.
func splitExtension(number string) (string, string) {
	idx := strings.Index(strings.ToLower(number), "ext")
	if idx < 0 {
		return number, ""
	}
	ext := strings.TrimLeft(number[idx+3:], ".: ")
	return strings.TrimSpace(number[:idx]), strings.TrimSpace(ext)
}

var timestampLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// extractMetadata merges an explicit "metadata" object with all non-core, non-null fields,
// preserving source order.
func extractMetadata(obj *orderedmap.OrderedMap[string, any]) *Metadata {
	md := NewMetadata()

	if nested, ok := decodeLoose(get(obj, "metadata")).(map[string]any); ok {
		for _, k := range sortedKeys(nested) {
			if nested[k] != nil {
				md.Set(k, decodeLoose(nested[k]))
			}
		}
	}

	for pair := obj.Oldest(); pair != nil; pair = pair.Next() {
		if coreFields[pair.Key] || pair.Value == nil {
			continue
		}
		md.Set(pair.Key, decodeLoose(pair.Value))
	}

	if md.Len() == 0 {
		return nil
	}
	return md
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}

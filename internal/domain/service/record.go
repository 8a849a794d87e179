// Package service models catalog records: community and health services.
package service

import (
	"fmt"
	"strings"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/kailas-cloud/healthrec/internal/domain/geo"
)

// Metadata is the open, ordered attribute bag carried by a record.
// Values are JSON scalars, lists or nested objects; key order survives round trips.
type Metadata = orderedmap.OrderedMap[string, any]

// NewMetadata creates an empty metadata bag.
func NewMetadata() *Metadata {
	return orderedmap.New[string, any]()
}

// Address is a postal address.
type Address struct {
	Street1    string `json:"street1"`
	Street2    string `json:"street2,omitempty"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

// String renders the address on one line, skipping empty parts.
func (a Address) String() string {
	parts := make([]string, 0, 6)
	for _, p := range []string{a.Street1, a.Street2, a.City, a.Province, a.PostalCode, a.Country} {
		if p != "" && p != unknown {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// PhoneNumber is one contact number of a service.
type PhoneNumber struct {
	Number      string `json:"number"`
	Type        string `json:"type,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Extension   string `json:"extension,omitempty"`
}

// Record is a single catalog entry.
type Record struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Location     *geo.Point    `json:"location,omitempty"`
	Address      *Address      `json:"address,omitempty"`
	PhoneNumbers []PhoneNumber `json:"phone_numbers,omitempty"`
	Email        string        `json:"email,omitempty"`
	Website      string        `json:"website,omitempty"`
	Resource     string        `json:"resource,omitempty"`
	ServiceType  string        `json:"service_type,omitempty"`
	LastUpdated  *time.Time    `json:"last_updated,omitempty"`
	Metadata     *Metadata     `json:"metadata,omitempty"`

	// Embedding is owned by the catalog store and never serialized to clients.
	Embedding []float32 `json:"-"`
}

// HasLocation reports whether the service has a fixed location.
func (r *Record) HasLocation() bool { return r.Location != nil }

// Validate checks the invariants a stored record must hold.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("service id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("service %s: name is required", r.ID)
	}
	if r.Location != nil && !geo.ValidateCoordinates(r.Location.Lat, r.Location.Lon) {
		return fmt.Errorf("service %s: coordinates out of range", r.ID)
	}
	return nil
}

// EmbeddingText is the text vectorized for retrieval: labelled fields joined by " | ".
func (r *Record) EmbeddingText() string {
	parts := make([]string, 0, 8)
	add := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			parts = append(parts, label+": "+value)
		}
	}

	add("name", r.Name)
	add("description", r.Description)
	add("service_type", r.ServiceType)
	add("resource", r.Resource)
	if r.Address != nil {
		add("address", r.Address.String())
	}
	if r.Metadata != nil {
		for pair := r.Metadata.Oldest(); pair != nil; pair = pair.Next() {
			add(pair.Key, flatten(pair.Value))
		}
	}
	return strings.Join(parts, " | ")
}

// Summary renders the fields shown to generative stages, capped at maxWords words.
func (r *Record) Summary(maxWords int) string {
	var b strings.Builder
	b.WriteString(r.Name)
	if r.Description != "" {
		b.WriteString("\n")
		b.WriteString(r.Description)
	}
	if r.Metadata != nil {
		for _, key := range []string{"eligibility", "eligibility_criteria", "hours", "fees", "languages"} {
			if v, ok := r.Metadata.Get(key); ok {
				if s := flatten(v); s != "" {
					b.WriteString("\n")
					b.WriteString(key)
					b.WriteString(": ")
					b.WriteString(s)
				}
			}
		}
	}
	return TruncateWords(b.String(), maxWords)
}

// TruncateWords keeps the first n whitespace-separated words; n <= 0 disables truncation.
func TruncateWords(s string, n int) string {
	if n <= 0 {
		return s
	}
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[:n], " ")
}

func flatten(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			if s := flatten(item); s != "" {
				items = append(items, s)
			}
		}
		return strings.Join(items, ", ")
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

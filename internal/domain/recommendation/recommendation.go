// Package recommendation holds the pipeline output and gate categories.
package recommendation

import (
	"strings"

	"github.com/kailas-cloud/healthrec/internal/domain/service"
)

// Category is the classifier gate decision.
type Category string

// Gate categories.
const (
	CategoryNormal     Category = "normal"
	CategoryEmergency  Category = "emergency"
	CategoryOutOfScope Category = "out_of_scope"
)

// ParseCategory maps loose model labels onto a Category.
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_"))) {
	case "normal", "in_scope", "general":
		return CategoryNormal, true
	case "emergency", "urgent", "crisis":
		return CategoryEmergency, true
	case "out_of_scope", "out of scope", "outofscope", "off_topic":
		return CategoryOutOfScope, true
	default:
		return "", false
	}
}

// EmergencyMessage is returned verbatim for emergency queries.
const EmergencyMessage = `In an emergency, call 9-1-1.

- At home, you can dial 9-1-1 directly. At a business or other location, you may need to dial an outside line before dialing 9-1-1.
- At a pay phone, dial 9-1-1; the call is free. When using a cellular phone, be prepared to give the exact location of the emergency; the call is free.
- For TTY access, press the space bar announcer key repeatedly until a response is received. Deaf, deafened, Hard of Hearing, or Speech Impaired persons may register for Text with 9-1-1 Service.

If you do not speak English, stay on the line while the call taker contacts the telephone translation service.

When you call, remain calm and speak clearly. Identify which emergency service you require (police, fire, or ambulance) and be prepared to describe what is happening, the location, and your name, address, and telephone number.

Please remain on the line to provide additional information if requested by the call taker. Do not hang up until the call taker tells you to.`

// OutOfScopeMessage is returned for queries unrelated to health or community services.
const OutOfScopeMessage = "I'm sorry, but your query appears to be outside the scope of health and community services. " +
	"I can help you find social services, health services, community programs, and other support resources. " +
	"Please try rephrasing your question around a health or social-support need."

// Recommendation is the immutable pipeline output.
// At most one of IsEmergency and IsOutOfScope is set, and gated results carry no services.
type Recommendation struct {
	Message         string           `json:"message"`
	IsEmergency     bool             `json:"is_emergency"`
	IsOutOfScope    bool             `json:"is_out_of_scope"`
	Services        []service.Record `json:"services"`
	NoServicesFound bool             `json:"no_services_found"`
}

// Emergency builds the emergency response.
func Emergency() Recommendation {
	return Recommendation{Message: EmergencyMessage, IsEmergency: true, Services: []service.Record{}}
}

// OutOfScope builds the out-of-scope response.
func OutOfScope() Recommendation {
	return Recommendation{Message: OutOfScopeMessage, IsOutOfScope: true, Services: []service.Record{}}
}

// Found builds a normal response with matched services.
func Found(message string, services []service.Record) Recommendation {
	if len(services) == 0 {
		return NoneFound(message)
	}
	return Recommendation{Message: message, Services: services}
}

// NoneFound builds a normal response where no service survived filtering.
func NoneFound(message string) Recommendation {
	return Recommendation{Message: message, Services: []service.Record{}, NoServicesFound: true}
}

// Gated reports whether the classifier short-circuited retrieval.
func (r Recommendation) Gated() bool { return r.IsEmergency || r.IsOutOfScope }

package pcl

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/gb-murray/pcl-exchange/cidutil"
)

var (
	rorPattern   = regexp.MustCompile(`^https://ror\.org/[0-9a-hjkmnp-z]{9}$`)
	orcidPattern = regexp.MustCompile(`^https://orcid\.org/\d{4}-\d{4}-\d{4}-\d{3}[\dX]$`)
	igsnPattern  = regexp.MustCompile(`^igsn:[A-Za-z0-9./:-]{5,}$`)
)

// IsROR reports whether s is a ROR organisation identifier URL.
func IsROR(s string) bool { return rorPattern.MatchString(s) }

// IsORCID reports whether s is an ORCID person identifier URL.
func IsORCID(s string) bool { return orcidPattern.MatchString(s) }

// IsIGSN reports whether s is an igsn: sample identifier.
func IsIGSN(s string) bool { return igsnPattern.MatchString(s) }

// IsParty reports whether s can name a sender or receiver.
func IsParty(s string) bool { return IsROR(s) || IsORCID(s) }

// Rule is an explicit, named validation rule.
//
// ID must be stable across versions.
// Apply must be deterministic and side-effect free.
type Rule[T any] struct {
	ID    string
	Apply func(T) error
}

// ValidateRules runs rules in order, returning the first failure.
func ValidateRules[T any](v T, rules []Rule[T]) error {
	for _, r := range rules {
		if r.Apply == nil {
			return newError(KindInternal, "PCL-INTERNAL-001", "", "nil rule Apply for "+r.ID)
		}
		if err := r.Apply(v); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRulesAll runs every rule and returns all violations in rule order.
func ValidateRulesAll[T any](v T, rules []Rule[T]) []error {
	var out []error
	for _, r := range rules {
		if r.Apply == nil {
			out = append(out, newError(KindInternal, "PCL-INTERNAL-001", "", "nil rule Apply for "+r.ID))
			continue
		}
		if err := r.Apply(v); err != nil {
			out = append(out, err)
		}
	}
	return out
}

func invalid(ruleID, field, format string, args ...any) error {
	return newError(KindValidation, ruleID, field, fmt.Sprintf(format, args...))
}

// EnvelopeRules is the structural rule set for envelopes.
func EnvelopeRules() []Rule[*Envelope] {
	return []Rule[*Envelope]{
		{ID: "PCL-VAL-101", Apply: func(e *Envelope) error {
			if e.ID == "" {
				return invalid("PCL-VAL-101", "@id", "envelope @id is empty")
			}
			return nil
		}},
		{ID: "PCL-VAL-102", Apply: func(e *Envelope) error {
			if e.Type != EnvelopeType {
				return invalid("PCL-VAL-102", "@type", "envelope @type is %q, want %q", e.Type, EnvelopeType)
			}
			return nil
		}},
		{ID: "PCL-VAL-103", Apply: func(e *Envelope) error {
			if e.Profile == "" || e.Schema == "" {
				return invalid("PCL-VAL-103", "profile", "envelope profile and schema are required")
			}
			return nil
		}},
		{ID: "PCL-VAL-104", Apply: func(e *Envelope) error {
			rest, ok := strings.CutPrefix(e.Identifier, "urn:uuid:")
			if !ok {
				return invalid("PCL-VAL-104", "identifier", "identifier %q is not a urn:uuid", e.Identifier)
			}
			if _, err := uuid.Parse(rest); err != nil {
				return invalid("PCL-VAL-104", "identifier", "identifier %q: %v", e.Identifier, err)
			}
			return nil
		}},
		{ID: "PCL-VAL-105", Apply: func(e *Envelope) error {
			if _, err := ParseTimestamp(e.DateCreated); err != nil {
				return invalid("PCL-VAL-105", "dateCreated", "dateCreated %q is not an RFC 3339 timestamp", e.DateCreated)
			}
			return nil
		}},
		{ID: "PCL-VAL-106", Apply: func(e *Envelope) error {
			if !IsParty(e.Sender) {
				return invalid("PCL-VAL-106", "sender", "sender %q is neither a ROR nor an ORCID identifier", e.Sender)
			}
			return nil
		}},
		{ID: "PCL-VAL-107", Apply: func(e *Envelope) error {
			if !IsParty(e.Receiver) {
				return invalid("PCL-VAL-107", "receiver", "receiver %q is neither a ROR nor an ORCID identifier", e.Receiver)
			}
			return nil
		}},
		{ID: "PCL-VAL-108", Apply: func(e *Envelope) error {
			if !e.Action.Valid() {
				return invalid("PCL-VAL-108", "action", "action %q is not one of %v", e.Action, Actions())
			}
			return nil
		}},
		{ID: "PCL-VAL-109", Apply: func(e *Envelope) error {
			seen := map[string]bool{}
			for _, c := range e.Capabilities {
				if c == "" {
					return invalid("PCL-VAL-109", "capabilities", "capability names must not be empty")
				}
				if seen[c] {
					return invalid("PCL-VAL-109", "capabilities", "capability %q is listed twice", c)
				}
				seen[c] = true
			}
			return nil
		}},
		{ID: "PCL-VAL-110", Apply: func(e *Envelope) error {
			if !IsIGSN(e.Sample) {
				return invalid("PCL-VAL-110", "sample", "sample %q is not an igsn: identifier", e.Sample)
			}
			return nil
		}},
		{ID: "PCL-VAL-111", Apply: func(e *Envelope) error {
			if !strings.HasPrefix(e.ContentRef, "#") || len(e.ContentRef) < 2 {
				return invalid("PCL-VAL-111", "contentRef", "contentRef %q is not a local #fragment reference", e.ContentRef)
			}
			return nil
		}},
		{ID: "PCL-VAL-112", Apply: func(e *Envelope) error {
			if e.ContentDigest == "" {
				return nil
			}
			if _, err := cidutil.AlgorithmOf(e.ContentDigest); err != nil {
				return invalid("PCL-VAL-112", "contentDigest", "contentDigest %q: %v", e.ContentDigest, err)
			}
			return nil
		}},
		{ID: "PCL-VAL-113", Apply: func(e *Envelope) error {
			if e.rawAuthz != nil {
				return invalid("PCL-VAL-113", "authz", "authz is not a signature object")
			}
			if e.Authz == nil {
				return nil
			}
			if e.Authz.Type != AuthzDetachedJWS {
				return invalid("PCL-VAL-113", "authz", "authz type %q is not %q", e.Authz.Type, AuthzDetachedJWS)
			}
			if e.Authz.JWS == "" {
				return invalid("PCL-VAL-113", "authz", "authz jws is empty")
			}
			return nil
		}},
	}
}

// ContentRules is the structural rule set for content blocks.
func ContentRules() []Rule[*Content] {
	return []Rule[*Content]{
		{ID: "PCL-VAL-201", Apply: func(c *Content) error {
			if c.ID == "" {
				return invalid("PCL-VAL-201", "@id", "content @id is empty")
			}
			return nil
		}},
		{ID: "PCL-VAL-202", Apply: func(c *Content) error {
			if c.Type != ContentType {
				return invalid("PCL-VAL-202", "@type", "content @type is %q, want %q", c.Type, ContentType)
			}
			return nil
		}},
		{ID: "PCL-VAL-203", Apply: func(c *Content) error {
			if c.Instrument == "" {
				return invalid("PCL-VAL-203", "instrument", "content has no instrument")
			}
			return nil
		}},
		{ID: "PCL-VAL-204", Apply: func(c *Content) error {
			if !IsIGSN(c.Object) {
				return invalid("PCL-VAL-204", "object", "content object %q is not an igsn: identifier", c.Object)
			}
			return nil
		}},
		{ID: "PCL-VAL-205", Apply: func(c *Content) error {
			if c.Used == "" {
				return invalid("PCL-VAL-205", "prov:used", "content has no method")
			}
			return nil
		}},
		{ID: "PCL-VAL-206", Apply: func(c *Content) error {
			seen := map[string]bool{}
			for _, p := range c.Parameters {
				if p.Name == "" {
					return invalid("PCL-VAL-206", "parameter", "parameter names must not be empty")
				}
				if seen[p.Name] {
					return invalid("PCL-VAL-206", "parameter", "parameter %q is listed twice", p.Name)
				}
				seen[p.Name] = true
			}
			return nil
		}},
	}
}

// MessageRules checks the graph relationships between nodes.
func MessageRules() []Rule[*Message] {
	return []Rule[*Message]{
		{ID: "PCL-VAL-301", Apply: func(m *Message) error {
			_, err := m.Envelope()
			return err
		}},
		{ID: "PCL-VAL-302", Apply: func(m *Message) error {
			_, err := m.Content()
			return err
		}},
		{ID: "PCL-VAL-304", Apply: func(m *Message) error {
			env, err := m.Envelope()
			if err != nil {
				return nil
			}
			c, err := m.Content()
			if err != nil {
				return nil
			}
			if env.Sample != c.Object {
				return invalid("PCL-VAL-304", "sample", "envelope sample %q does not match content object %q", env.Sample, c.Object)
			}
			return nil
		}},
		{ID: "PCL-VAL-305", Apply: func(m *Message) error {
			root, ok := m.FieldsOf(CrateRootID)
			if !ok {
				return invalid("PCL-VAL-305", "@graph", "message has no RO-Crate root %q", CrateRootID)
			}
			parts, _ := root["hasPart"].([]any)
			have := map[string]bool{}
			for _, p := range parts {
				if r, ok := p.(map[string]any); ok {
					if id, ok := r["@id"].(string); ok {
						have[id] = true
					}
				}
			}
			env, err := m.Envelope()
			if err != nil {
				return nil
			}
			for _, id := range []string{env.ID, env.ContentRef} {
				if !have[id] {
					return invalid("PCL-VAL-305", "hasPart", "RO-Crate root does not list %q", id)
				}
			}
			return nil
		}},
	}
}

// ValidateEnvelope returns the first envelope rule violation.
func ValidateEnvelope(e *Envelope) error {
	return ValidateRules(e, EnvelopeRules())
}

// ValidateContent returns the first content rule violation.
func ValidateContent(c *Content) error {
	return ValidateRules(c, ContentRules())
}

// ValidateMessage validates the graph, then the envelope and content it links.
func ValidateMessage(m *Message) error {
	if err := ValidateRules(m, MessageRules()); err != nil {
		return err
	}
	env, _ := m.Envelope()
	if err := ValidateEnvelope(env); err != nil {
		return err
	}
	c, _ := m.Content()
	return ValidateContent(c)
}

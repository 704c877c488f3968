package pcl

import (
	"encoding/json"
	"fmt"

	"github.com/gb-murray/pcl-exchange/canon"
)

// Authz is the envelope's signature slot.
type Authz struct {
	Type string
	JWS  string
}

// Fields returns the wire form of the slot.
func (a *Authz) Fields() map[string]any {
	return map[string]any{"type": a.Type, "jws": a.JWS}
}

// Envelope carries the routing and authorization metadata of a message.
//
// Every field except Authz is covered by the signature. Extra holds wire
// keys this package does not model; they are signed like any other field.
type Envelope struct {
	ID            string
	Type          string
	Profile       string
	Schema        string
	Identifier    string
	DateCreated   string
	Sender        string
	Receiver      string
	Action        Action
	Capabilities  []string
	Project       string
	Sample        string
	ContentRef    string
	ContentDigest string
	Authz         *Authz
	Extra         map[string]any

	bareContentRef bool
	// rawAuthz keeps a slot value that is not a well-formed Authz so a
	// verifier can still see and classify it.
	rawAuthz any
}

// envelopeField maps one struct field to its wire key. A getter returning
// nil means the key is omitted.
type envelopeField struct {
	key string
	get func(*Envelope) any
	set func(*Envelope, any) error
}

func stringEntry(key string, field func(*Envelope) *string) envelopeField {
	return envelopeField{
		key: key,
		get: func(e *Envelope) any { return *field(e) },
		set: func(e *Envelope, v any) (err error) {
			*field(e), err = stringField(key, v)
			return err
		},
	}
}

var envelopeFields = []envelopeField{
	stringEntry("@id", func(e *Envelope) *string { return &e.ID }),
	stringEntry("@type", func(e *Envelope) *string { return &e.Type }),
	stringEntry("profile", func(e *Envelope) *string { return &e.Profile }),
	stringEntry("schema", func(e *Envelope) *string { return &e.Schema }),
	stringEntry("identifier", func(e *Envelope) *string { return &e.Identifier }),
	stringEntry("dateCreated", func(e *Envelope) *string { return &e.DateCreated }),
	stringEntry("sender", func(e *Envelope) *string { return &e.Sender }),
	stringEntry("receiver", func(e *Envelope) *string { return &e.Receiver }),
	{"action", func(e *Envelope) any { return string(e.Action) }, func(e *Envelope, v any) error {
		s, err := stringField("action", v)
		e.Action = Action(s)
		return err
	}},
	{"capabilities", func(e *Envelope) any { return stringsToAny(e.Capabilities) }, func(e *Envelope, v any) (err error) {
		e.Capabilities, err = stringListField("capabilities", v)
		return
	}},
	stringEntry("project", func(e *Envelope) *string { return &e.Project }),
	stringEntry("sample", func(e *Envelope) *string { return &e.Sample }),
	{"contentRef", func(e *Envelope) any {
		if e.bareContentRef {
			return e.ContentRef
		}
		return ref(e.ContentRef)
	}, func(e *Envelope, v any) (err error) {
		e.ContentRef, e.bareContentRef, err = refField("contentRef", v)
		return
	}},
	{"contentDigest", func(e *Envelope) any {
		if e.ContentDigest == "" {
			return nil
		}
		return e.ContentDigest
	}, func(e *Envelope, v any) error {
		s, err := stringField("contentDigest", v)
		if err == nil && s == "" {
			err = newError(KindParse, "PCL-PARSE-005", "contentDigest", "contentDigest must not be empty when present")
		}
		e.ContentDigest = s
		return err
	}},
	{canon.SignatureSlot, func(e *Envelope) any {
		if e.Authz != nil {
			return e.Authz.Fields()
		}
		return e.rawAuthz
	}, func(e *Envelope, v any) error {
		a, err := parseAuthz(v)
		if err != nil {
			e.rawAuthz = v
			return nil
		}
		e.Authz = a
		return nil
	}},
}

// optional keys may be absent from a well-formed envelope.
var optionalEnvelopeKeys = map[string]bool{"contentDigest": true, canon.SignatureSlot: true}

// EnvelopeKeys returns the modelled wire keys in table order.
func EnvelopeKeys() []string {
	out := make([]string, len(envelopeFields))
	for i, f := range envelopeFields {
		out[i] = f.key
	}
	return out
}

// Fields returns the envelope as the mapping that is canonicalized and
// transmitted. The result is freshly allocated on every call.
func (e *Envelope) Fields() map[string]any {
	out := make(map[string]any, len(envelopeFields)+len(e.Extra))
	for k, v := range e.Extra {
		out[k] = v
	}
	for _, f := range envelopeFields {
		if v := f.get(e); v != nil {
			out[f.key] = v
		}
	}
	return out
}

// CanonicalValue lets the canonicalizer encode an *Envelope directly.
func (e *Envelope) CanonicalValue() (any, error) {
	return e.Fields(), nil
}

// MarshalJSON encodes the envelope in its wire form.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Fields())
}

// UnsignedFields is Fields without the signature slot.
func (e *Envelope) UnsignedFields() map[string]any {
	return canon.Strip(e.Fields())
}

// Clone returns a deep copy of the modelled fields; Extra values are shared.
func (e *Envelope) Clone() *Envelope {
	c := *e
	c.Capabilities = append([]string(nil), e.Capabilities...)
	if e.Authz != nil {
		a := *e.Authz
		c.Authz = &a
	}
	if e.Extra != nil {
		c.Extra = make(map[string]any, len(e.Extra))
		for k, v := range e.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// SetAuthz replaces the signature slot; nil clears it.
func (e *Envelope) SetAuthz(a *Authz) {
	e.Authz = a
	e.rawAuthz = nil
}

// EnvelopeFromFields decodes a wire mapping. Every modelled key except
// contentDigest and authz must be present; unknown keys land in Extra.
func EnvelopeFromFields(fields map[string]any) (*Envelope, error) {
	if fields == nil {
		return nil, newError(KindParse, "PCL-PARSE-001", "", "envelope fields must not be nil")
	}
	e := &Envelope{}
	known := make(map[string]bool, len(envelopeFields))
	for _, f := range envelopeFields {
		known[f.key] = true
		v, ok := fields[f.key]
		if !ok {
			if optionalEnvelopeKeys[f.key] {
				continue
			}
			return nil, newError(KindParse, "PCL-PARSE-006", f.key, fmt.Sprintf("envelope is missing %q", f.key))
		}
		if v == nil && optionalEnvelopeKeys[f.key] {
			continue
		}
		if err := f.set(e, v); err != nil {
			return nil, err
		}
	}
	for k, v := range fields {
		if known[k] {
			continue
		}
		if e.Extra == nil {
			e.Extra = map[string]any{}
		}
		e.Extra[k] = v
	}
	return e, nil
}

// ParseEnvelope decodes a JSON envelope object.
func ParseEnvelope(doc []byte) (*Envelope, error) {
	fields, err := canon.DecodeObject(doc)
	if err != nil {
		return nil, wrapError(KindParse, "PCL-PARSE-001", "", "envelope is not a JSON object", err)
	}
	return EnvelopeFromFields(fields)
}

func parseAuthz(v any) (*Authz, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, newError(KindParse, "PCL-PARSE-007", canon.SignatureSlot, fmt.Sprintf("authz must be an object, got %s", typeName(v)))
	}
	a := &Authz{}
	if t, ok := m["type"]; ok {
		s, err := stringField("authz.type", t)
		if err != nil {
			return nil, err
		}
		a.Type = s
	}
	if j, ok := m["jws"]; ok && j != nil {
		s, err := stringField("authz.jws", j)
		if err != nil {
			return nil, err
		}
		a.JWS = s
	}
	return a, nil
}

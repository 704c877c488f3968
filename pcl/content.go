package pcl

import (
	"encoding/json"
	"fmt"

	"github.com/gb-murray/pcl-exchange/canon"
	"github.com/gb-murray/pcl-exchange/cidutil"
)

// PropertyValue is one named measurement parameter.
//
// Value is a string or a number (json.Number, float64 or an integer kind).
// Extra keeps received members that are not modelled, including an explicit
// null unitText.
type PropertyValue struct {
	Name     string
	Value    any
	UnitText string
	Extra    map[string]any
}

// Fields returns the wire form; unitText is omitted when empty.
func (p PropertyValue) Fields() map[string]any {
	out := make(map[string]any, 4+len(p.Extra))
	for k, v := range p.Extra {
		out[k] = v
	}
	out["@type"] = PropertyValueType
	out["name"] = p.Name
	out["value"] = p.Value
	if p.UnitText != "" {
		out["unitText"] = p.UnitText
	}
	return out
}

// Content is the measurement request payload referenced by the envelope.
type Content struct {
	ID         string
	Type       string
	Instrument string
	Object     string
	Used       string
	Parameters []PropertyValue
	Extra      map[string]any
}

var contentKeys = []string{"@id", "@type", "instrument", "object", "prov:used", "parameter"}

// NewContent returns a content block with the standard identifier and type.
func NewContent(instrument, sample, method string, params ...PropertyValue) *Content {
	return &Content{
		ID:         ContentID,
		Type:       ContentType,
		Instrument: instrument,
		Object:     sample,
		Used:       method,
		Parameters: params,
	}
}

// Fields returns the content block's wire mapping.
func (c *Content) Fields() map[string]any {
	out := make(map[string]any, len(contentKeys)+len(c.Extra))
	for k, v := range c.Extra {
		out[k] = v
	}
	params := make([]any, len(c.Parameters))
	for i, p := range c.Parameters {
		params[i] = p.Fields()
	}
	out["@id"] = c.ID
	out["@type"] = c.Type
	out["instrument"] = ref(c.Instrument)
	out["object"] = ref(c.Object)
	out["prov:used"] = ref(c.Used)
	out["parameter"] = params
	return out
}

// CanonicalValue lets the canonicalizer encode a *Content directly.
func (c *Content) CanonicalValue() (any, error) {
	return c.Fields(), nil
}

// MarshalJSON encodes the content block in its wire form.
func (c *Content) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Fields())
}

// Digest returns the content identifier an envelope uses to bind this block.
func (c *Content) Digest(alg cidutil.DigestAlgorithm) (string, error) {
	return ContentDigest(c.Fields(), alg)
}

// ContentDigest is the CIDv1 of the canonical bytes of a content mapping.
func ContentDigest(fields map[string]any, alg cidutil.DigestAlgorithm) (string, error) {
	b, err := canon.Marshal(fields)
	if err != nil {
		return "", wrapError(KindDigest, "PCL-DIGEST-001", "", "content is not canonicalizable", err)
	}
	id, err := cidutil.Digest(alg, b)
	if err != nil {
		return "", wrapError(KindDigest, "PCL-DIGEST-002", "", "content digest", err)
	}
	return id, nil
}

// ContentFromFields decodes a content block wire mapping.
func ContentFromFields(fields map[string]any) (*Content, error) {
	if fields == nil {
		return nil, newError(KindParse, "PCL-PARSE-001", "", "content fields must not be nil")
	}
	for _, k := range contentKeys {
		if _, ok := fields[k]; !ok {
			return nil, newError(KindParse, "PCL-PARSE-006", k, fmt.Sprintf("content is missing %q", k))
		}
	}
	c := &Content{}
	var err error
	if c.ID, err = stringField("@id", fields["@id"]); err != nil {
		return nil, err
	}
	if c.Type, err = stringField("@type", fields["@type"]); err != nil {
		return nil, err
	}
	if c.Instrument, err = strictRef("instrument", fields["instrument"]); err != nil {
		return nil, err
	}
	if c.Object, err = strictRef("object", fields["object"]); err != nil {
		return nil, err
	}
	if c.Used, err = strictRef("prov:used", fields["prov:used"]); err != nil {
		return nil, err
	}
	list, ok := fields["parameter"].([]any)
	if !ok {
		return nil, newError(KindParse, "PCL-PARSE-004", "parameter", "parameter must be a list")
	}
	for i, item := range list {
		p, err := propertyValueFromFields(fmt.Sprintf("parameter[%d]", i), item)
		if err != nil {
			return nil, err
		}
		c.Parameters = append(c.Parameters, p)
	}
	for k, v := range fields {
		switch k {
		case "@id", "@type", "instrument", "object", "prov:used", "parameter":
			continue
		}
		if c.Extra == nil {
			c.Extra = map[string]any{}
		}
		c.Extra[k] = v
	}
	return c, nil
}

func strictRef(key string, v any) (string, error) {
	id, bare, err := refField(key, v)
	if err != nil {
		return "", err
	}
	if bare {
		return "", newError(KindParse, "PCL-PARSE-003", key, key+" must be an @id reference")
	}
	return id, nil
}

func propertyValueFromFields(key string, v any) (PropertyValue, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return PropertyValue{}, newError(KindParse, "PCL-PARSE-008", key, key+" must be an object")
	}
	if t := m["@type"]; t != PropertyValueType {
		return PropertyValue{}, newError(KindParse, "PCL-PARSE-008", key, fmt.Sprintf("%s has @type %v, want %s", key, t, PropertyValueType))
	}
	var p PropertyValue
	var err error
	if p.Name, err = stringField(key+".name", m["name"]); err != nil {
		return PropertyValue{}, err
	}
	switch val := m["value"].(type) {
	case string, json.Number, float64, float32, int, int32, int64, uint, uint32, uint64:
		p.Value = val
	default:
		return PropertyValue{}, newError(KindParse, "PCL-PARSE-008", key, fmt.Sprintf("%s.value must be a string or number, got %s", key, typeName(val)))
	}
	for k, v := range m {
		switch k {
		case "@type", "name", "value":
			continue
		case "unitText":
			if v != nil {
				if p.UnitText, err = stringField(key+".unitText", v); err != nil {
					return PropertyValue{}, err
				}
				if p.UnitText != "" {
					continue
				}
			}
		}
		if p.Extra == nil {
			p.Extra = map[string]any{}
		}
		p.Extra[k] = v
	}
	return p, nil
}

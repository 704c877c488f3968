// Package pcl models PCL Exchange action messages: the signed envelope, the
// content block it points at, and the RO-Crate graph that packages both.
//
// Entities convert to and from plain field mappings through fixed tables of
// wire keys, so the mapping handed to the canonicalizer is exactly what goes
// on the wire, and an envelope read back from JSON re-canonicalizes to the
// same bytes.
package pcl

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	EnvelopeType   = "PCLActionEnvelope"
	ContentType    = "Action"
	DefaultProfile = "https://w3id.org/pcl-profile/action/v1"
	DefaultSchema  = "https://w3id.org/pcl-schema/measure-request/v1.0"
	DefaultProject = "doi:10.1234/placeholder"

	EnvelopeID = "#envelope"
	ContentID  = "#content"

	CrateMetadataID   = "ro-crate-metadata.json"
	CrateRootID       = "./"
	CrateConformsTo   = "https://w3id.org/ro/crate/1.1"
	CrateContextURL   = "https://w3id.org/ro/crate/1.1/context"
	PropertyValueType = "PropertyValue"

	// AuthzDetachedJWS is the only signature kind this package produces.
	AuthzDetachedJWS = "DetachedJWS"
)

// TimestampLayout is how dateCreated is written: UTC with microseconds.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Action is the kind of exchange an envelope performs.
type Action string

const (
	ActionRequestMeasurement Action = "request_measurement"
	ActionRegisterData       Action = "register_data"
	ActionAck                Action = "ack"
	ActionNack               Action = "nack"
)

// Actions lists every valid action in a stable order.
func Actions() []Action {
	return []Action{ActionRequestMeasurement, ActionRegisterData, ActionAck, ActionNack}
}

// Valid reports whether a is one of the defined actions.
func (a Action) Valid() bool {
	switch a {
	case ActionRequestMeasurement, ActionRegisterData, ActionAck, ActionNack:
		return true
	}
	return false
}

// NewTimestamp formats t for the dateCreated field.
func NewTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts any RFC 3339 timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// DefaultContext returns a fresh copy of the JSON-LD context for messages.
func DefaultContext() []any {
	return []any{
		CrateContextURL,
		map[string]any{
			"prov":      "http://www.w3.org/ns/prov#",
			"qudt":      "http://qudt.org/schema/qudt/",
			"parameter": "http://schema.org/parameter",
			"unitText":  "http://schema.org/unitText",
		},
	}
}

func ref(id string) map[string]any {
	return map[string]any{"@id": id}
}

func stringField(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", newError(KindParse, "PCL-PARSE-002", key, fmt.Sprintf("%s must be a string, got %s", key, typeName(v)))
	}
	return s, nil
}

// refField accepts {"@id": "..."} and reports whether the bare-string form was used.
func refField(key string, v any) (id string, bare bool, err error) {
	switch x := v.(type) {
	case string:
		return x, true, nil
	case map[string]any:
		if len(x) != 1 {
			return "", false, newError(KindParse, "PCL-PARSE-003", key, key+" must hold exactly one @id member")
		}
		id, err := stringField(key+".@id", x["@id"])
		return id, false, err
	case map[string]string:
		if len(x) != 1 {
			return "", false, newError(KindParse, "PCL-PARSE-003", key, key+" must hold exactly one @id member")
		}
		id, ok := x["@id"]
		if !ok {
			return "", false, newError(KindParse, "PCL-PARSE-003", key, key+" must hold exactly one @id member")
		}
		return id, false, nil
	default:
		return "", false, newError(KindParse, "PCL-PARSE-003", key, fmt.Sprintf("%s must be an @id reference, got %s", key, typeName(v)))
	}
}

func stringListField(key string, v any) ([]string, error) {
	switch x := v.(type) {
	case []string:
		return append([]string{}, x...), nil
	case []any:
		out := make([]string, 0, len(x))
		for i, item := range x {
			s, err := stringField(fmt.Sprintf("%s[%d]", key, i), item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, newError(KindParse, "PCL-PARSE-004", key, fmt.Sprintf("%s must be a list of strings, got %s", key, typeName(v)))
	}
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, float32, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

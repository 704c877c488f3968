package pcl

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"

	"github.com/gb-murray/pcl-exchange/canon"
)

// Entity is one node of a message graph.
type Entity interface {
	EntityID() string
	Fields() map[string]any
}

func (e *Envelope) EntityID() string { return e.ID }
func (c *Content) EntityID() string  { return c.ID }

// CrateMetadata is the RO-Crate metadata descriptor.
type CrateMetadata struct {
	Name string
	Text string
}

func NewCrateMetadata() *CrateMetadata {
	return &CrateMetadata{Name: "RO-Crate Metadata", Text: "Metadata descriptor for PCL Exchange"}
}

func (m *CrateMetadata) EntityID() string { return CrateMetadataID }

func (m *CrateMetadata) Fields() map[string]any {
	return map[string]any{
		"@id":        CrateMetadataID,
		"@type":      "CreativeWork",
		"about":      ref(CrateRootID),
		"conformsTo": ref(CrateConformsTo),
		"identifier": CrateMetadataID,
		"name":       m.Name,
		"text":       m.Text,
	}
}

// CrateRoot is the RO-Crate root dataset listing the message parts.
type CrateRoot struct {
	HasPart []string
}

func NewCrateRoot(parts ...string) *CrateRoot {
	if len(parts) == 0 {
		parts = []string{EnvelopeID, ContentID}
	}
	return &CrateRoot{HasPart: parts}
}

func (r *CrateRoot) EntityID() string { return CrateRootID }

func (r *CrateRoot) Fields() map[string]any {
	parts := make([]any, len(r.HasPart))
	for i, p := range r.HasPart {
		parts[i] = ref(p)
	}
	return map[string]any{"@id": CrateRootID, "@type": "Dataset", "hasPart": parts}
}

// RawEntity is a graph node this package does not model.
type RawEntity map[string]any

func (r RawEntity) EntityID() string {
	id, _ := r["@id"].(string)
	return id
}

func (r RawEntity) Fields() map[string]any { return r }

// Message is the JSON-LD document carrying an envelope and its content.
//
// Parsed nodes keep every received member, so Fields on a parsed entity
// reproduces the transmitted mapping until the entity is modified.
type Message struct {
	Context []any
	Graph   []Entity
}

// NewMessage assembles the standard four-node graph.
func NewMessage(env *Envelope, content *Content) *Message {
	return &Message{
		Context: DefaultContext(),
		Graph:   []Entity{NewCrateMetadata(), NewCrateRoot(), env, content},
	}
}

// Entity returns the node with the given @id.
func (m *Message) Entity(id string) (Entity, bool) {
	for _, e := range m.Graph {
		if e.EntityID() == id {
			return e, true
		}
	}
	return nil, false
}

// Envelope returns the first envelope node.
func (m *Message) Envelope() (*Envelope, error) {
	for _, e := range m.Graph {
		if env, ok := e.(*Envelope); ok {
			return env, nil
		}
	}
	return nil, newError(KindValidation, "PCL-VAL-301", "@graph", "message has no envelope")
}

// Content returns the node the envelope's contentRef points at.
func (m *Message) Content() (*Content, error) {
	env, err := m.Envelope()
	if err != nil {
		return nil, err
	}
	e, ok := m.Entity(env.ContentRef)
	if !ok {
		return nil, newError(KindValidation, "PCL-VAL-302", "contentRef", fmt.Sprintf("contentRef %q does not resolve", env.ContentRef))
	}
	c, ok := e.(*Content)
	if !ok {
		return nil, newError(KindValidation, "PCL-VAL-303", "contentRef", fmt.Sprintf("contentRef %q is not a content block", env.ContentRef))
	}
	return c, nil
}

// FieldsOf returns the current mapping of node id.
func (m *Message) FieldsOf(id string) (map[string]any, bool) {
	e, ok := m.Entity(id)
	if !ok {
		return nil, false
	}
	return e.Fields(), true
}

// Document returns the message as a plain mapping.
func (m *Message) Document() map[string]any {
	graph := make([]any, len(m.Graph))
	for i, e := range m.Graph {
		graph[i] = e.Fields()
	}
	return map[string]any{"@context": m.Context, "@graph": graph}
}

// MarshalJSON renders the document indented, for humans and transport.
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.MarshalIndent(m.Document(), "", "  ")
}

// Canonical returns the canonical bytes of the whole document.
func (m *Message) Canonical() ([]byte, error) {
	return canon.Marshal(m.Document())
}

// ParseMessage decodes a strict JSON message document.
func ParseMessage(doc []byte) (*Message, error) {
	root, err := canon.DecodeObject(doc)
	if err != nil {
		return nil, wrapError(KindParse, "PCL-PARSE-010", "", "message is not a JSON object", err)
	}
	return MessageFromFields(root)
}

// ParseMessageJSONC accepts comments and trailing commas, for hand-written files.
func ParseMessageJSONC(doc []byte) (*Message, error) {
	return ParseMessage(jsonc.ToJSON(doc))
}

// MessageFromFields decodes a message mapping. Envelope and content nodes
// are recognised by @type; every other node is kept as a RawEntity.
func MessageFromFields(root map[string]any) (*Message, error) {
	m := &Message{}
	seen := map[string]bool{}
	switch ctx := root["@context"].(type) {
	case []any:
		m.Context = ctx
	case nil:
		return nil, newError(KindParse, "PCL-PARSE-011", "@context", "message has no @context")
	default:
		m.Context = []any{ctx}
	}
	graph, ok := root["@graph"].([]any)
	if !ok {
		return nil, newError(KindParse, "PCL-PARSE-012", "@graph", "message @graph must be a list")
	}
	for i, node := range graph {
		fields, ok := node.(map[string]any)
		if !ok {
			return nil, newError(KindParse, "PCL-PARSE-012", "@graph", fmt.Sprintf("@graph[%d] is not an object", i))
		}
		id, _ := fields["@id"].(string)
		if id == "" {
			return nil, newError(KindParse, "PCL-PARSE-013", "@id", fmt.Sprintf("@graph[%d] has no @id", i))
		}
		if seen[id] {
			return nil, newError(KindParse, "PCL-PARSE-013", "@id", fmt.Sprintf("@graph has two nodes with @id %q", id))
		}
		seen[id] = true
		entity, err := entityFromFields(fields)
		if err != nil {
			return nil, err
		}
		m.Graph = append(m.Graph, entity)
	}
	return m, nil
}

func entityFromFields(fields map[string]any) (Entity, error) {
	switch fields["@type"] {
	case EnvelopeType:
		return EnvelopeFromFields(fields)
	case ContentType:
		return ContentFromFields(fields)
	default:
		return RawEntity(fields), nil
	}
}

// Package builder assembles PCL Exchange action messages from plain values.
//
// A Builder fixes its identifier and creation time when it is created, so
// the envelope it signs is the same envelope it later builds. Defaults that
// depend on the environment (clock, identifier source) are explicit options.
package builder

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gb-murray/pcl-exchange/canon"
	"github.com/gb-murray/pcl-exchange/cidutil"
	"github.com/gb-murray/pcl-exchange/keys"
	"github.com/gb-murray/pcl-exchange/pcl"
	"github.com/gb-murray/pcl-exchange/sig"
)

var (
	ErrNoContent      = errors.New("message content has not been set")
	ErrStaleSignature = errors.New("envelope changed after it was signed")
)

// Param is one measurement parameter. Unit may be empty.
type Param struct {
	Name  string `json:"name" yaml:"name"`
	Value any    `json:"value" yaml:"value"`
	Unit  string `json:"unit,omitempty" yaml:"unit,omitempty"`
}

type Builder struct {
	sender       string
	receiver     string
	identifier   string
	created      time.Time
	action       pcl.Action
	capabilities []string
	project      string
	digestAlg    cidutil.DigestAlgorithm

	content *pcl.Content
	sample  string

	authz  *pcl.Authz
	signed []byte

	clock  func() time.Time
	newID  func() string
	logger *zap.Logger
}

type Option func(*Builder)

// WithClock sets the source of dateCreated.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.clock = now }
}

// WithIDGenerator sets the source of the envelope identifier.
func WithIDGenerator(gen func() string) Option {
	return func(b *Builder) { b.newID = gen }
}

func WithProject(project string) Option {
	return func(b *Builder) { b.project = project }
}

func WithAction(a pcl.Action) Option {
	return func(b *Builder) { b.action = a }
}

// WithDigestAlgorithm selects the hash used for contentDigest.
func WithDigestAlgorithm(alg cidutil.DigestAlgorithm) Option {
	return func(b *Builder) { b.digestAlg = alg }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewUUIDIdentifier returns a fresh urn:uuid identifier.
func NewUUIDIdentifier() string {
	return "urn:uuid:" + uuid.NewString()
}

// New returns a builder for a message from sender to receiver.
func New(sender, receiver string, opts ...Option) *Builder {
	b := &Builder{
		sender:    sender,
		receiver:  receiver,
		action:    pcl.ActionRequestMeasurement,
		project:   pcl.DefaultProject,
		digestAlg: cidutil.DefaultAlgorithm,
		clock:     time.Now,
		newID:     NewUUIDIdentifier,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.identifier = b.newID()
	b.created = b.clock()
	return b
}

// SetContent sets the content block. The sample also becomes the
// envelope's sample reference.
func (b *Builder) SetContent(instrument, sample, method string, params []Param) *Builder {
	pvs := make([]pcl.PropertyValue, len(params))
	for i, p := range params {
		pvs[i] = pcl.PropertyValue{Name: p.Name, Value: p.Value, UnitText: p.Unit}
	}
	b.content = pcl.NewContent(instrument, sample, method, pvs...)
	b.sample = sample
	return b
}

func (b *Builder) AddCapability(capability string) *Builder {
	b.capabilities = append(b.capabilities, capability)
	return b
}

// Identifier is the envelope identifier fixed at New.
func (b *Builder) Identifier() string { return b.identifier }

// Envelope returns the envelope as it would be built now, including the
// signature slot if Sign has been called.
func (b *Builder) Envelope() (*pcl.Envelope, error) {
	if b.content == nil {
		return nil, ErrNoContent
	}
	digest, err := b.content.Digest(b.digestAlg)
	if err != nil {
		return nil, err
	}
	env := &pcl.Envelope{
		ID:            pcl.EnvelopeID,
		Type:          pcl.EnvelopeType,
		Profile:       pcl.DefaultProfile,
		Schema:        pcl.DefaultSchema,
		Identifier:    b.identifier,
		DateCreated:   pcl.NewTimestamp(b.created),
		Sender:        b.sender,
		Receiver:      b.receiver,
		Action:        b.action,
		Capabilities:  append([]string{}, b.capabilities...),
		Project:       b.project,
		Sample:        b.sample,
		ContentRef:    b.content.ID,
		ContentDigest: digest,
	}
	if b.authz != nil {
		a := *b.authz
		env.SetAuthz(&a)
	}
	return env, nil
}

// Sign signs the envelope as it stands. Changing the builder afterwards
// makes Build fail until Sign is called again.
func (b *Builder) Sign(key keys.PrivateKey) error {
	b.authz = nil
	env, err := b.Envelope()
	if err != nil {
		return err
	}
	if err := sig.SignEnvelope(env, key); err != nil {
		return err
	}
	payload, err := canon.Canonicalize(env.Fields())
	if err != nil {
		return err
	}
	b.authz = env.Authz
	b.signed = payload
	b.logger.Debug("signed envelope",
		zap.String("identifier", b.identifier),
		zap.String("kid", key.KeyID()),
		zap.String("alg", key.Algorithm().String()),
	)
	return nil
}

// Build assembles and validates the message.
func (b *Builder) Build() (*pcl.Message, error) {
	env, err := b.Envelope()
	if err != nil {
		return nil, err
	}
	if b.authz != nil {
		now, err := canon.Canonicalize(env.Fields())
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(now, b.signed) {
			return nil, ErrStaleSignature
		}
	}
	msg := pcl.NewMessage(env, b.content)
	if err := pcl.ValidateMessage(msg); err != nil {
		return nil, fmt.Errorf("build message: %w", err)
	}
	return msg, nil
}

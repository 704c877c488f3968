package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"github.com/gb-murray/pcl-exchange/cidutil"
	"github.com/gb-murray/pcl-exchange/pcl"
	"github.com/gb-murray/pcl-exchange/sig"
)

// ErrRejected is returned by Store when the archive's verifier does not
// accept a message.
var ErrRejected = errors.New("archive: message rejected")

// RejectedError carries the verification result that caused a rejection.
type RejectedError struct {
	Result sig.Result
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRejected, e.Result)
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// Archive stores message documents in a CAS and indexes them by the
// envelope identifier.
type Archive struct {
	cas      CAS
	index    Index
	verifier *sig.Verifier
	logger   *zap.Logger
}

type Option func(*Archive)

// WithVerifier makes Store reject messages the verifier does not accept.
func WithVerifier(v *sig.Verifier) Option {
	return func(a *Archive) { a.verifier = v }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Archive) {
		if l != nil {
			a.logger = l
		}
	}
}

func New(cas CAS, index Index, opts ...Option) (*Archive, error) {
	if cas == nil {
		return nil, errors.New("archive: nil CAS")
	}
	if index == nil {
		return nil, errors.New("archive: nil index")
	}
	a := &Archive{cas: cas, index: index, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Store writes the canonical bytes of msg and records it under its
// envelope identifier. Storing the same message twice is a no-op; a
// different message under an existing identifier fails with ErrImmutable.
func (a *Archive) Store(ctx context.Context, msg *pcl.Message) (Record, error) {
	if msg == nil {
		return Record{}, errors.New("archive: nil message")
	}
	env, err := msg.Envelope()
	if err != nil {
		return Record{}, err
	}
	if env.Identifier == "" {
		return Record{}, errors.New("archive: envelope has no identifier")
	}

	if a.verifier != nil {
		res, err := a.verifier.VerifyMessage(msg)
		if err != nil {
			return Record{}, err
		}
		if !res.OK() {
			a.logger.Info("message rejected",
				zap.String("identifier", env.Identifier),
				zap.String("outcome", res.Outcome.String()),
				zap.String("rule", res.RuleID))
			return Record{}, &RejectedError{Result: res}
		}
	}

	doc, err := msg.Canonical()
	if err != nil {
		return Record{}, err
	}
	want, err := cidutil.CIDv1RawSHA256CID(doc)
	if err != nil {
		return Record{}, err
	}
	switch prev, err := a.index.Get(ctx, env.Identifier); {
	case err == nil && prev.MessageCID != want.String():
		return Record{}, fmt.Errorf("archive: %s already holds %s: %w", env.Identifier, prev.MessageCID, ErrImmutable)
	case err != nil && !IsNotFound(err):
		return Record{}, err
	}

	id, err := a.cas.Put(ctx, doc)
	if err != nil {
		return Record{}, fmt.Errorf("archive: store message: %w", err)
	}

	rec := Record{
		Identifier:    env.Identifier,
		MessageCID:    id.String(),
		Sender:        env.Sender,
		Receiver:      env.Receiver,
		Action:        string(env.Action),
		Created:       env.DateCreated,
		ContentDigest: env.ContentDigest,
		KeyID:         keyIDOf(env),
	}
	if err := a.index.Put(ctx, rec); err != nil {
		return Record{}, err
	}
	a.logger.Debug("message stored",
		zap.String("identifier", rec.Identifier),
		zap.String("cid", rec.MessageCID),
		zap.Int("bytes", len(doc)))
	return rec, nil
}

func (a *Archive) Lookup(ctx context.Context, identifier string) (Record, error) {
	return a.index.Get(ctx, identifier)
}

// Fetch returns the record and the stored canonical document for identifier.
func (a *Archive) Fetch(ctx context.Context, identifier string) (Record, []byte, error) {
	rec, err := a.index.Get(ctx, identifier)
	if err != nil {
		return Record{}, nil, err
	}
	id, err := cid.Decode(rec.MessageCID)
	if err != nil {
		return Record{}, nil, fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	doc, err := a.cas.Get(ctx, id)
	if err != nil {
		return Record{}, nil, err
	}
	return rec, doc, nil
}

// Load fetches and parses the message stored under identifier.
func (a *Archive) Load(ctx context.Context, identifier string) (*pcl.Message, error) {
	_, doc, err := a.Fetch(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return pcl.ParseMessage(doc)
}

func (a *Archive) List(ctx context.Context) ([]Record, error) {
	return a.index.List(ctx)
}

func keyIDOf(env *pcl.Envelope) string {
	if env.Authz == nil {
		return ""
	}
	tok, err := sig.ParseToken(env.Authz.JWS)
	if err != nil {
		return ""
	}
	return tok.KeyID
}

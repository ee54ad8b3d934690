// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package attestation

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"

	"github.com/in-toto/in-toto-golang/in_toto"
	"github.com/pkg/errors"
	"github.com/secure-systems-lab/go-securesystemslib/dsse"
	"golang.org/x/crypto/ssh"
)

// ECDSASignerVerifier signs with a local P-256 key.
type ECDSASignerVerifier struct {
	key *ecdsa.PrivateKey
	id  string
}

var _ dsse.SignerVerifier = (*ECDSASignerVerifier)(nil)

// NewECDSASignerVerifier wraps key. The key ID is the sha256 of its public key.
func NewECDSASignerVerifier(key *ecdsa.PrivateKey) (*ECDSASignerVerifier, error) {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "encoding public key")
	}
	sum := sha256.Sum256(der)
	return &ECDSASignerVerifier{key: key, id: hex.EncodeToString(sum[:])}, nil
}

// ParseECDSAKey parses a PEM encoded PKCS#8, SEC 1, or OpenSSH EC private key.
func ParseECDSAKey(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if block.Type == "OPENSSH PRIVATE KEY" {
		raw, err := ssh.ParseRawPrivateKey(data)
		if err != nil {
			return nil, errors.Wrap(err, "parsing OpenSSH private key")
		}
		key, ok := raw.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("not an ECDSA key")
		}
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parsing private key")
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an ECDSA key")
	}
	return key, nil
}

func (s *ECDSASignerVerifier) Sign(ctx context.Context, data []byte) ([]byte, error) {
	h := sha256.Sum256(data)
	return ecdsa.SignASN1(rand.Reader, s.key, h[:])
}

func (s *ECDSASignerVerifier) Verify(ctx context.Context, data, sig []byte) error {
	h := sha256.Sum256(data)
	if !ecdsa.VerifyASN1(&s.key.PublicKey, h[:], sig) {
		return errors.New("signature verification failed")
	}
	return nil
}

func (s *ECDSASignerVerifier) KeyID() (string, error) {
	return s.id, nil
}

func (s *ECDSASignerVerifier) Public() crypto.PublicKey {
	return &s.key.PublicKey
}

// SignAttestation produces a DSSE envelope for ra.
func SignAttestation(ctx context.Context, signer *dsse.EnvelopeSigner, ra *ReleaseAttestation) (*dsse.Envelope, error) {
	b, err := json.Marshal(ra)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling statement")
	}
	envelope, err := signer.SignPayload(ctx, ra.Type, b)
	if err != nil {
		return nil, errors.Wrap(err, "signing payload")
	}
	return envelope, nil
}

// VerifyAttestation checks e against verifier and decodes its statement.
func VerifyAttestation(ctx context.Context, e *dsse.Envelope, verifier *dsse.EnvelopeVerifier) (*ReleaseAttestation, error) {
	if _, err := verifier.Verify(ctx, e); err != nil {
		return nil, errors.Wrap(err, "verifying envelope")
	}
	if e.PayloadType != in_toto.StatementInTotoV1 {
		return nil, errors.New("unexpected payload type")
	}
	if e.Payload == "" {
		return nil, errors.New("empty payload")
	}
	b, err := base64.StdEncoding.DecodeString(e.Payload)
	if err != nil {
		return nil, errors.Wrap(err, "decoding base64 payload")
	}
	var ra ReleaseAttestation
	if err := json.Unmarshal(b, &ra); err != nil {
		return nil, errors.Wrap(err, "unmarshaling payload")
	}
	if ra.Type != in_toto.StatementInTotoV1 {
		return nil, errors.Errorf("unexpected statement type %q", ra.Type)
	}
	return &ra, nil
}

// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package kmsdsse signs release provenance with Cloud KMS keys.
package kmsdsse

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"regexp"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
	"github.com/pkg/errors"
	"github.com/secure-systems-lab/go-securesystemslib/dsse"
	"google.golang.org/api/option"
)

var keyNameRegex = regexp.MustCompile(`^projects/[^/]+/locations/[^/]+/keyRings/[^/]+/cryptoKeys/[^/]+/cryptoKeyVersions/[^/]+$`)

// ValidateKeyName checks that name is a fully qualified CryptoKeyVersion resource name.
func ValidateKeyName(name string) error {
	if !keyNameRegex.MatchString(name) {
		return errors.Errorf("invalid CryptoKeyVersion name: %s", name)
	}
	return nil
}

// Client is the subset of the KMS API used for signing.
type Client interface {
	GetPublicKey(ctx context.Context, req *kmspb.GetPublicKeyRequest, opts ...gax.CallOption) (*kmspb.PublicKey, error)
	AsymmetricSign(ctx context.Context, req *kmspb.AsymmetricSignRequest, opts ...gax.CallOption) (*kmspb.AsymmetricSignResponse, error)
}

var _ Client = (*kms.KeyManagementClient)(nil)

// CloudKMSSignerVerifier signs DSSE payloads with a KMS CryptoKeyVersion.
type CloudKMSSignerVerifier struct {
	client  Client
	keyName string
	pubpb   *kmspb.PublicKey
	pub     crypto.PublicKey
}

// NewCloudKMSSignerVerifier fetches the public key of keyName.
func NewCloudKMSSignerVerifier(ctx context.Context, c Client, keyName string) (*CloudKMSSignerVerifier, error) {
	if err := ValidateKeyName(keyName); err != nil {
		return nil, err
	}
	pubpb, err := c.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{Name: keyName})
	if err != nil {
		return nil, errors.Wrap(err, "fetching public key")
	}
	blk, _ := pem.Decode([]byte(pubpb.Pem))
	if blk == nil || blk.Bytes == nil {
		return nil, errors.New("failed to decode PEM public key")
	}
	pub, err := x509.ParsePKIXPublicKey(blk.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse PEM public key")
	}
	return &CloudKMSSignerVerifier{client: c, keyName: keyName, pubpb: pubpb, pub: pub}, nil
}

// NewSigner connects to Cloud KMS and returns a signer for keyName.
// The returned close function releases the client.
func NewSigner(ctx context.Context, keyName string, opts ...option.ClientOption) (*CloudKMSSignerVerifier, func() error, error) {
	kc, err := kms.NewKeyManagementClient(ctx, opts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating KMS client")
	}
	sv, err := NewCloudKMSSignerVerifier(ctx, kc, keyName)
	if err != nil {
		kc.Close()
		return nil, nil, err
	}
	return sv, kc.Close, nil
}

func (s *CloudKMSSignerVerifier) Public() crypto.PublicKey {
	return s.pub
}

func (s *CloudKMSSignerVerifier) Sign(ctx context.Context, data []byte) ([]byte, error) {
	resp, err := s.client.AsymmetricSign(ctx, &kmspb.AsymmetricSignRequest{Name: s.keyName, Data: data})
	if err != nil {
		return nil, errors.Wrap(err, "signing with KMS")
	}
	return resp.Signature, nil
}

func (s *CloudKMSSignerVerifier) Verify(ctx context.Context, data, sig []byte) error {
	switch s.pubpb.Algorithm {
	case kmspb.CryptoKeyVersion_EC_SIGN_P256_SHA256:
		ecKey, ok := s.pub.(*ecdsa.PublicKey)
		if !ok {
			return errors.New("unexpected public key type")
		}
		digest := sha256.Sum256(data)
		if !ecdsa.VerifyASN1(ecKey, digest[:], sig) {
			return errors.New("signature verification failed")
		}
		return nil
	default:
		return errors.Errorf("unsupported key algorithm %s", s.pubpb.Algorithm)
	}
}

func (s *CloudKMSSignerVerifier) KeyID() (string, error) {
	return "https://cloudkms.googleapis.com/v1/" + s.keyName, nil
}

var _ dsse.SignerVerifier = (*CloudKMSSignerVerifier)(nil)

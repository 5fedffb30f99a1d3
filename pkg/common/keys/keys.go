package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	jwk "github.com/lestrrat-go/jwx/v2/jwk"
)

// Service resolves the signing key pair associated with a client
// registration. Client-credentials assertions are signed with this key and
// platforms verify them against the tool's published JWKS.
type Service interface {
	// KeyPair returns the private key and key id for a registration, or an
	// error when no key material is associated with it.
	KeyPair(registrationID string) (*rsa.PrivateKey, string, error)
	// JWKS returns the tool's public keys for publication.
	JWKS() (jwk.Set, error)
}

// SingleKeyService serves the same RSA key pair for every registration.
type SingleKeyService struct {
	key *rsa.PrivateKey
	kid string
	set jwk.Set
}

var _ Service = (*SingleKeyService)(nil)

// NewSingleKeyService wraps an existing key pair.
func NewSingleKeyService(key *rsa.PrivateKey, kid string) (*SingleKeyService, error) {
	if key == nil {
		return nil, errors.New("keys: nil private key")
	}
	if kid == "" {
		kid = uuid.NewString()
	}
	jwkKey, err := jwk.FromRaw(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	_ = jwkKey.Set(jwk.KeyIDKey, kid)
	_ = jwkKey.Set(jwk.AlgorithmKey, "RS256")
	_ = jwkKey.Set(jwk.KeyUsageKey, "sig")
	set := jwk.NewSet()
	if err := set.AddKey(jwkKey); err != nil {
		return nil, err
	}
	return &SingleKeyService{key: key, kid: kid, set: set}, nil
}

// FromEnv builds a SingleKeyService from TOOL_PRIVATE_KEY_B64 or
// TOOL_PRIVATE_KEY_PEM (PKCS#1 or PKCS#8) plus TOOL_KID. Without either a
// 2048-bit key is generated and export instructions are printed so the
// operator can persist it.
func FromEnv() (*SingleKeyService, error) {
	kid := os.Getenv("TOOL_KID")

	var key *rsa.PrivateKey
	if b64 := os.Getenv("TOOL_PRIVATE_KEY_B64"); b64 != "" {
		if der, err := base64.StdEncoding.DecodeString(b64); err == nil {
			key = parsePEM(der)
		}
	}
	if key == nil {
		if pemStr := os.Getenv("TOOL_PRIVATE_KEY_PEM"); pemStr != "" {
			key = parsePEM([]byte(pemStr))
		}
	}
	if key == nil {
		gen, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
		key = gen
		if kid == "" {
			kid = uuid.NewString()
		}
		block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(gen)}
		pemBytes := pem.EncodeToMemory(block)
		fmt.Println("[keys] Generated ephemeral RSA key (dev mode). To persist, set one of:")
		fmt.Printf("export TOOL_PRIVATE_KEY_PEM='%s'\n", string(pemBytes))
		fmt.Printf("export TOOL_PRIVATE_KEY_B64='%s'\n", base64.StdEncoding.EncodeToString(pemBytes))
		fmt.Printf("export TOOL_KID='%s'\n", kid)
	}
	return NewSingleKeyService(key, kid)
}

func parsePEM(data []byte) *rsa.PrivateKey {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k
	}
	if pkcs8, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rk, ok := pkcs8.(*rsa.PrivateKey); ok {
			return rk
		}
	}
	return nil
}

// KeyPair returns the shared key pair regardless of registration id.
func (s *SingleKeyService) KeyPair(string) (*rsa.PrivateKey, string, error) {
	if s.key == nil {
		return nil, "", errors.New("keys: signing key not initialized")
	}
	return s.key, s.kid, nil
}

// JWKS returns the tool's public keys.
func (s *SingleKeyService) JWKS() (jwk.Set, error) {
	return s.set, nil
}

// JWKSJSON returns the tool's public keys as JSON bytes.
func (s *SingleKeyService) JWKSJSON() ([]byte, error) {
	return json.Marshal(s.set)
}

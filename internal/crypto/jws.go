package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
)

var ErrBadSignature = errors.New("signature does not match payload")

type JWS struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload,omitempty"`
	Signature string `json:"signature"`
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// SignDetachedJWS signs payload with an RSA key (PKCS#1 or PKCS#8 PEM). The
// payload is left out of the returned object and must be supplied again
// on verification.
func SignDetachedJWS(payload []byte, privateKeyPEM []byte) (JWS, error) {
	hb, _ := json.Marshal(header{Alg: "RS256", Typ: "JWT"})
	protected := base64.RawURLEncoding.EncodeToString(hb)

	priv, err := parseRSAPrivateKey(privateKeyPEM)
	if err != nil {
		return JWS{}, err
	}

	h := signingHash(protected, payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, h[:])
	if err != nil {
		return JWS{}, err
	}
	return JWS{
		Protected: protected,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
	}, nil
}

func ParseDetachedJWS(data []byte) (JWS, error) {
	var j JWS
	if err := json.Unmarshal(data, &j); err != nil {
		return JWS{}, err
	}
	if j.Protected == "" || j.Signature == "" {
		return JWS{}, errors.New("jws: missing protected header or signature")
	}
	return j, nil
}

// VerifyDetachedJWS checks j against payload using the public key of the
// PEM certificate.
func VerifyDetachedJWS(payload []byte, j JWS, certPEM []byte) error {
	hb, err := base64.RawURLEncoding.DecodeString(j.Protected)
	if err != nil {
		return fmt.Errorf("jws header: %w", err)
	}
	var hdr header
	if err := json.Unmarshal(hb, &hdr); err != nil {
		return fmt.Errorf("jws header: %w", err)
	}
	if hdr.Alg != "RS256" {
		return fmt.Errorf("jws: unsupported alg %q", hdr.Alg)
	}
	if j.Payload != "" && j.Payload != base64.RawURLEncoding.EncodeToString(payload) {
		return ErrBadSignature
	}
	sig, err := base64.RawURLEncoding.DecodeString(j.Signature)
	if err != nil {
		return fmt.Errorf("jws signature: %w", err)
	}
	cert, err := ParseCertificate(certPEM)
	if err != nil {
		return err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errors.New("certificate does not hold an RSA key")
	}
	h := signingHash(j.Protected, payload)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sig); err != nil {
		return ErrBadSignature
	}
	return nil
}

func ParseCertificate(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("parse cert: no PEM block found")
	}
	return x509.ParseCertificate(block.Bytes)
}

func signingHash(protected string, payload []byte) [32]byte {
	return sha256.Sum256([]byte(protected + "." + base64.RawURLEncoding.EncodeToString(payload)))
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no pem block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

// Package traefik extracts TLS key pairs from a traefik acme.json store.
package traefik

import (
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

var ErrDomainNotFound = errors.New("domain not found")

type acmeEntry struct {
	Domain struct {
		Main string   `json:"main"`
		SANs []string `json:"sans"`
	} `json:"domain"`
	Certificate string `json:"certificate"`
	Key         string `json:"key"`
}

// LoadFile reads the acme store and returns the key pair for domain
func LoadFile(file, domain string) (tls.Certificate, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return tls.Certificate{}, err
	}
	return KeyPair(data, domain)
}

// KeyPair returns the key pair for domain. The main domain is preferred,
// a match in the SANs is used otherwise.
func KeyPair(acme []byte, domain string) (tls.Certificate, error) {
	e, err := lookup(acme, domain)
	if err != nil {
		return tls.Certificate{}, err
	}
	certPEM, err := base64.StdEncoding.DecodeString(e.Certificate)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode certificate: %w", err)
	}
	keyPEM, err := base64.StdEncoding.DecodeString(e.Key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode key: %w", err)
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}

func lookup(acme []byte, domain string) (*acmeEntry, error) {
	obj, err := oj.Parse(acme)
	if err != nil {
		return nil, err
	}
	path, err := jp.ParseString(`$..Certificates[*]`)
	if err != nil {
		return nil, err
	}
	var bySAN *acmeEntry
	for _, item := range path.Get(obj) {
		e := acmeEntry{}
		if err := oj.Unmarshal([]byte(oj.JSON(item)), &e); err != nil {
			return nil, err
		}
		if e.Domain.Main == domain {
			return &e, nil
		}
		if bySAN == nil && slices.Contains(e.Domain.SANs, domain) {
			bySAN = &e
		}
	}
	if bySAN != nil {
		return bySAN, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, domain)
}

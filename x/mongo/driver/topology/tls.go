// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package topology

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/ocsp"
)

// TLSConfig holds the inputs needed to build a *tls.Config for a connection: a CA bundle, an
// optional client certificate (whose private key may be PKCS#8-encrypted, the format `mongod`
// itself emits for encrypted client certs), and whether to stple-check revocation via OCSP.
type TLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	KeyPassword        string
	InsecureSkipVerify bool
	DisableOCSP        bool
}

// Build constructs a *tls.Config from cfg. A nil cfg means "no TLS".
func (cfg *TLSConfig) Build() (*tls.Config, error) {
	if cfg == nil {
		return nil, nil
	}

	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}

	if cfg.CAFile != "" {
		pool, err := loadCARoots(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.CertFile != "" {
		cert, err := loadClientCertificate(cfg.CertFile, cfg.KeyFile, cfg.KeyPassword)
		if err != nil {
			return nil, err
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if !cfg.DisableOCSP {
		tlsCfg.VerifyPeerCertificate = ocspVerifier()
	}

	return tlsCfg, nil
}

func loadCARoots(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("topology: read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("topology: no certificates found in %s", path)
	}
	return pool, nil
}

// loadClientCertificate reads a PEM certificate and private key pair, transparently decrypting
// a PKCS#8-encrypted key (the shape produced when a client cert is exported with a passphrase)
// via youmark/pkcs8 before handing both to tls.X509KeyPair.
func loadClientCertificate(certFile, keyFile, password string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("topology: read cert file: %w", err)
	}
	if keyFile == "" {
		keyFile = certFile
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("topology: read key file: %w", err)
	}

	if password == "" {
		return tls.X509KeyPair(certPEM, keyPEM)
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return tls.Certificate{}, fmt.Errorf("topology: no PEM block found in key file")
	}
	key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(password))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("topology: decrypt PKCS#8 key: %w", err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return tls.Certificate{}, fmt.Errorf("topology: no PEM block found in cert file")
	}
	leaf, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("topology: parse client certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{certBlock.Bytes}, PrivateKey: key, Leaf: leaf}, nil
}

// ocspVerifier returns a VerifyPeerCertificate callback that staples-checks the server's leaf
// certificate against the OCSP responder named in its AuthorityInfoAccess extension, swallowing
// a responder that can't be reached (soft-fail, matching the driver's non-stapled OCSP mode) but
// failing closed on an explicit "revoked" response.
func ocspVerifier() func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) < 2 {
			return nil
		}
		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return nil
		}
		issuer, err := x509.ParseCertificate(rawCerts[1])
		if err != nil {
			return nil
		}
		if len(leaf.OCSPServer) == 0 {
			return nil
		}

		req, err := ocsp.CreateRequest(leaf, issuer, nil)
		if err != nil {
			return nil
		}
		resp, err := http.Post(leaf.OCSPServer[0], "application/ocsp-request", bytes.NewReader(req))
		if err != nil {
			return nil
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil
		}

		parsed, err := ocsp.ParseResponse(body, issuer)
		if err != nil {
			return nil
		}
		if parsed.Status == ocsp.Revoked {
			return fmt.Errorf("topology: server certificate revoked per OCSP responder")
		}
		return nil
	}
}

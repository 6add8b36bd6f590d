package rpc

import (
	"errors"
)

type Config struct {
	// CAs defines the set of root certificate authorities used to verify
	// the remote side's certificate.
	CAs []string `json:"cas"`
	// Cert and Key form the certificate presented to the remote side.
	// Leave both empty to disable TLS.
	Cert string `json:"cert"`
	Key  string `json:"key"`
	// SkipVerify disables verification of the remote certificate.
	SkipVerify bool `json:"skip_verify"`

	// ConnectTimeout is the maximum amount of time a dial will wait for a
	// connection to complete, in seconds.
	ConnectTimeout uint `json:"connect_timeout"`
}

func (c *Config) Validate() error {
	cfgCount := 0
	if c.Key != "" {
		cfgCount++
	}
	if c.Cert != "" {
		cfgCount++
	}

	if cfgCount == 1 {
		return errors.New("incomplete certificate configuration")
	}

	// if TLS is on and verification is not skipped, we need CAs to verify against
	if cfgCount == 2 && !c.SkipVerify {
		if len(c.CAs) == 0 {
			return errors.New("no CAs configured")
		}
	}

	return nil
}

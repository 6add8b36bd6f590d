package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	// defaultHeartbeatTimeout bounds each liveness probe of a quorum check
	defaultHeartbeatTimeout = 10 * time.Second
)

// MemberConfig describes one member of a replica set configuration.
type MemberConfig struct {
	// ID is the numeric id of the member
	ID int64 `json:"id"`
	// Host is the host:port of the member, used for establishing connections
	Host string `json:"host"`
	// NoVote represents whether the member participates in voting or not
	NoVote bool `json:"no_vote"`
	// Priority represents the member's eligibility to become primary;
	// a voting member with a priority greater than zero is electable
	Priority int `json:"priority"`
	// Tags represent additional label information of the member
	Tags map[string]string `json:"tags"`
}

// IsVoter reports whether the member's affirmative response counts toward
// the majority threshold.
func (m *MemberConfig) IsVoter() bool {
	return !m.NoVote
}

// IsElectable reports whether the member is eligible to become primary.
func (m *MemberConfig) IsElectable() bool {
	return m.IsVoter() && m.Priority > 0
}

// ReplicaConfig is a replica set configuration. It is read-only once built
// and must outlive any quorum check or election attempt referencing it.
type ReplicaConfig struct {
	// SetName is the name of the replica set
	SetName string `json:"set"`
	// Version is the configuration version; 1 means initial configuration
	Version int64 `json:"version"`
	// Members contain information about all members of the set
	Members []MemberConfig `json:"members"`
	// HeartbeatTimeout is the timeout for each liveness probe
	HeartbeatTimeout time.Duration `json:"heartbeat_timeout,omitempty"`
}

// Validate checks the configuration for internal consistency.
func (c *ReplicaConfig) Validate() error {
	if c.SetName == "" {
		return errors.New("replica set name is required")
	}
	if c.Version < 1 {
		return fmt.Errorf("configuration version must be at least 1, got %d", c.Version)
	}
	if len(c.Members) == 0 {
		return errors.New("configuration must have at least one member")
	}

	hosts := make(map[string]struct{}, len(c.Members))
	ids := make(map[int64]struct{}, len(c.Members))
	voters := 0
	electable := 0
	for i := range c.Members {
		m := &c.Members[i]
		if m.Host == "" {
			return fmt.Errorf("member %d has no host", m.ID)
		}
		if _, ok := hosts[m.Host]; ok {
			return fmt.Errorf("duplicate member host %s", m.Host)
		}
		hosts[m.Host] = struct{}{}
		if _, ok := ids[m.ID]; ok {
			return fmt.Errorf("duplicate member id %d", m.ID)
		}
		ids[m.ID] = struct{}{}
		if m.IsVoter() {
			voters++
		}
		if m.IsElectable() {
			electable++
		}
	}
	if voters == 0 {
		return errors.New("configuration must have at least one voting member")
	}
	if electable == 0 {
		return errors.New("configuration must have at least one electable member")
	}

	return nil
}

// IsInitial reports whether this is an initial configuration, before any
// prior cluster existed.
func (c *ReplicaConfig) IsInitial() bool {
	return c.Version == 1
}

// NumMembers returns the number of members in the configuration.
func (c *ReplicaConfig) NumMembers() int {
	return len(c.Members)
}

// MemberAt returns the member configuration at the given index.
func (c *ReplicaConfig) MemberAt(i int) *MemberConfig {
	return &c.Members[i]
}

// FindMemberByHost returns the member with the given host:port,
// or nil if no such member exists.
func (c *ReplicaConfig) FindMemberByHost(host string) *MemberConfig {
	for i := range c.Members {
		if c.Members[i].Host == host {
			return &c.Members[i]
		}
	}
	return nil
}

// MajorityVoteCount returns the minimum number of voter affirmations
// required to adopt the configuration.
func (c *ReplicaConfig) MajorityVoteCount() int {
	voters := 0
	for i := range c.Members {
		if c.Members[i].IsVoter() {
			voters++
		}
	}
	return voters/2 + 1
}

// HeartbeatTimeoutPeriod returns the configured heartbeat timeout,
// or the default when unset.
func (c *ReplicaConfig) HeartbeatTimeoutPeriod() time.Duration {
	if c.HeartbeatTimeout == 0 {
		return defaultHeartbeatTimeout
	}
	return c.HeartbeatTimeout
}

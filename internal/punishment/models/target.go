package models

import (
	"net/netip"
	"strings"

	"github.com/google/uuid"

	dErrors "github.com/Proximyst/ban/pkg/domain-errors"
)

// Target identifies the punished subject. At least one of PlayerID and IP
// is set.
type Target struct {
	PlayerID uuid.UUID  `json:"player_id,omitzero"`
	IP       netip.Addr `json:"ip,omitzero"`
}

// PlayerTarget targets a player by UUID only.
func PlayerTarget(id uuid.UUID) Target {
	return Target{PlayerID: id}
}

// IPTarget targets an address only.
func IPTarget(ip netip.Addr) Target {
	return Target{IP: ip.Unmap().WithZone("")}
}

func (t Target) HasPlayer() bool { return t.PlayerID != uuid.Nil }

func (t Target) HasIP() bool { return t.IP.IsValid() }

// IsZero reports whether neither component is set.
func (t Target) IsZero() bool { return !t.HasPlayer() && !t.HasIP() }

// Validate rejects an empty target.
func (t Target) Validate() error {
	if t.IsZero() {
		return dErrors.New(dErrors.CodeInvalidPunishment, "target requires a player id or an ip address")
	}
	return nil
}

// Keys returns one lookup key per set component, player first.
func (t Target) Keys() []Key {
	keys := make([]Key, 0, 2)
	if t.HasPlayer() {
		keys = append(keys, PlayerKey(t.PlayerID))
	}
	if t.HasIP() {
		keys = append(keys, IPKey(t.IP))
	}
	return keys
}

func (t Target) String() string {
	keys := t.Keys()
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}

// Key is a single-component lookup key used by the store and the cache.
type Key string

const (
	playerKeyPrefix = "player:"
	ipKeyPrefix     = "ip:"
)

func PlayerKey(id uuid.UUID) Key {
	return Key(playerKeyPrefix + id.String())
}

func IPKey(ip netip.Addr) Key {
	return Key(ipKeyPrefix + ip.Unmap().WithZone("").String())
}

func (k Key) String() string { return string(k) }

// Target expands the key back into a single-component target.
func (k Key) Target() (Target, error) {
	s := string(k)
	switch {
	case strings.HasPrefix(s, playerKeyPrefix):
		id, err := uuid.Parse(strings.TrimPrefix(s, playerKeyPrefix))
		if err != nil || id == uuid.Nil {
			return Target{}, dErrors.New(dErrors.CodeInvalidInput, "malformed player key")
		}
		return PlayerTarget(id), nil
	case strings.HasPrefix(s, ipKeyPrefix):
		ip, err := netip.ParseAddr(strings.TrimPrefix(s, ipKeyPrefix))
		if err != nil {
			return Target{}, dErrors.New(dErrors.CodeInvalidInput, "malformed ip key")
		}
		return IPTarget(ip), nil
	default:
		return Target{}, dErrors.New(dErrors.CodeInvalidInput, "unknown key kind")
	}
}

package domain

import (
	"net/netip"
	"strings"

	"github.com/google/uuid"

	dErrors "github.com/Proximyst/ban/pkg/domain-errors"
)

// Actor sentinels for punishments not issued by a player.
const (
	ActorConsole = "console"
	ActorSystem  = "system"
)

// ParsePlayerID parses a player UUID at a trust boundary.
// Empty, malformed and nil UUIDs are rejected with CodeInvalidInput.
func ParsePlayerID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "player id is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid player id")
	}
	if id == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "player id must not be nil")
	}
	return id, nil
}

// ParseIP parses an IPv4 or IPv6 address. IPv4-mapped IPv6 addresses are
// unmapped and zones are dropped so one host always yields one key.
func ParseIP(s string) (netip.Addr, error) {
	if s == "" {
		return netip.Addr{}, dErrors.New(dErrors.CodeInvalidInput, "ip address is required")
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid ip address")
	}
	return addr.Unmap().WithZone(""), nil
}

// ParseActor accepts a player UUID or one of the console/system sentinels.
// Player UUIDs are returned in canonical lowercase form.
func ParseActor(s string) (string, error) {
	switch s {
	case ActorConsole, ActorSystem:
		return s, nil
	}
	id, err := ParsePlayerID(s)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "actor must be a player id, console or system")
	}
	return id.String(), nil
}

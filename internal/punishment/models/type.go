package models

import (
	"fmt"
	"strings"

	dErrors "github.com/Proximyst/ban/pkg/domain-errors"
)

// Type enumerates punishment kinds. The numeric values are persisted and
// must never be renumbered.
type Type int16

const (
	TypeWarn Type = 0
	TypeMute Type = 1
	TypeKick Type = 2
	TypeBan  Type = 3
	TypeNote Type = 4
)

// AllTypes lists every known type in persisted order.
var AllTypes = []Type{TypeWarn, TypeMute, TypeKick, TypeBan, TypeNote}

var typeNames = map[Type]string{
	TypeWarn: "WARN",
	TypeMute: "MUTE",
	TypeKick: "KICK",
	TypeBan:  "BAN",
	TypeNote: "NOTE",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int16(t))
}

// IsValid reports whether t is a known type.
func (t Type) IsValid() bool {
	_, ok := typeNames[t]
	return ok
}

// Instantaneous types take effect once and never carry an active interval.
func (t Type) Instantaneous() bool {
	return t == TypeKick || t == TypeNote
}

// CanLift reports whether records of this type may be revoked.
func (t Type) CanLift() bool {
	return t == TypeBan || t == TypeMute || t == TypeWarn
}

// Applicable types act on an online target at the moment they are issued.
func (t Type) Applicable() bool {
	return t == TypeBan || t == TypeKick
}

// BypassPermission is the host permission exempting a player from
// enforcement of this type. Types without enforcement return "".
func (t Type) BypassPermission() string {
	switch t {
	case TypeBan:
		return "ban.bypass.ban"
	case TypeMute:
		return "ban.bypass.mute"
	case TypeKick:
		return "ban.bypass.kick"
	default:
		return ""
	}
}

// NotifyPermission is the host permission for receiving broadcasts about
// this type.
func (t Type) NotifyPermission() string {
	return "ban.notify." + strings.ToLower(t.String())
}

// ParseType accepts a type name in any case.
func ParseType(s string) (Type, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for t, name := range typeNames {
		if name == upper {
			return t, nil
		}
	}
	return 0, dErrors.New(dErrors.CodeInvalidPunishment, fmt.Sprintf("unknown punishment type %q", s))
}

func (t Type) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("unknown punishment type %d", int16(t))
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

package autorole

import (
	"fmt"
	"net/url"
	"strings"
)

// KeyKind tells the three kinds of link keys apart.
type KeyKind uint8

const (
	// KindInvite is a concrete invite code.
	KindInvite KeyKind = iota + 1
	// KindMain is the fallback used when the joining invite is not tracked.
	KindMain
	// KindDefault is granted on every join regardless of the invite.
	KindDefault
)

func (k KeyKind) String() string {
	switch k {
	case KindInvite:
		return "invite"
	case KindMain:
		return "main"
	case KindDefault:
		return "default"
	default:
		return fmt.Sprintf("KeyKind(%d)", k)
	}
}

// InviteKey identifies one link of a community: a concrete invite code or one
// of the Main/Default sentinels. Sentinels and codes never share a namespace,
// so an invite whose code is literally "main" stays a concrete invite.
type InviteKey struct {
	kind KeyKind
	code string
}

var (
	MainKey    = InviteKey{kind: KindMain}
	DefaultKey = InviteKey{kind: KindDefault}
)

// InviteCode returns the key of a concrete invite.
func InviteCode(code string) InviteKey {
	return InviteKey{kind: KindInvite, code: code}
}

func (k InviteKey) Kind() KeyKind { return k.kind }

// Code is empty for sentinels.
func (k InviteKey) Code() string { return k.code }

func (k InviteKey) IsZero() bool { return k.kind == 0 }

func (k InviteKey) IsSentinel() bool { return k.kind == KindMain || k.kind == KindDefault }

// String renders the key the way moderators type it.
func (k InviteKey) String() string {
	if k.kind == KindInvite {
		return k.code
	}
	return k.kind.String()
}

// Field is the storage encoding of the key.
func (k InviteKey) Field() string {
	if k.kind == KindInvite {
		return "invite:" + k.code
	}
	return k.kind.String()
}

// ParseField decodes a key produced by Field.
func ParseField(field string) (InviteKey, error) {
	switch {
	case field == "main":
		return MainKey, nil
	case field == "default":
		return DefaultKey, nil
	case strings.HasPrefix(field, "invite:") && len(field) > len("invite:"):
		return InviteCode(strings.TrimPrefix(field, "invite:")), nil
	default:
		return InviteKey{}, fmt.Errorf("%w: unknown field %q", ErrInvalidKey, field)
	}
}

// ParseKey reads a key from moderator input. "main" and "default" select the
// sentinels; anything else is an invite code or invite URL. A concrete invite
// named "main" can still be linked by passing its URL.
func ParseKey(input string) (InviteKey, error) {
	input = strings.TrimSpace(input)
	switch strings.ToLower(input) {
	case "main":
		return MainKey, nil
	case "default":
		return DefaultKey, nil
	}
	code, err := NormalizeCode(input)
	if err != nil {
		return InviteKey{}, err
	}
	return InviteCode(code), nil
}

// NormalizeCode extracts the invite code from a bare code or an invite URL
// such as https://chat.example/invite/abc123.
func NormalizeCode(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", fmt.Errorf("%w: empty invite", ErrInvalidKey)
	}

	if strings.Contains(s, "/") {
		if !strings.Contains(s, "://") {
			s = "https://" + s
		}
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		s = segments[len(segments)-1]
	}

	if s == "" || strings.ContainsAny(s, " \t\r\n?#") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, input)
	}
	return s, nil
}

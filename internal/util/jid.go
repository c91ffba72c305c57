package util

import (
	"regexp"
	"strings"
)

// JID servers in the protocol's namespace.
const (
	ServerUser       = "s.whatsapp.net"
	ServerGroup      = "g.us"
	ServerLID        = "lid"
	ServerBroadcast  = "broadcast"
	ServerNewsletter = "newsletter"
)

var jidUserRegex = regexp.MustCompile(`^[0-9]{5,20}(:[0-9]+)?$`)
var jidGroupRegex = regexp.MustCompile(`^[0-9][0-9-]{5,30}$`)

// IsValidJID reports whether s looks like an addressable identifier for a
// chat, user or group. Actions validate before touching the socket so a bad
// identifier fails fast instead of queueing.
func IsValidJID(s string) bool {
	user, server, ok := SplitJID(s)
	if !ok {
		return false
	}
	switch server {
	case ServerUser, ServerLID:
		return jidUserRegex.MatchString(user)
	case ServerGroup:
		return jidGroupRegex.MatchString(user)
	case ServerBroadcast, ServerNewsletter:
		return user != ""
	default:
		return false
	}
}

// IsGroupJID reports whether s addresses a group.
func IsGroupJID(s string) bool {
	_, server, ok := SplitJID(s)
	return ok && server == ServerGroup
}

// IsLID reports whether s is an alternate-namespace identifier that needs
// mapping to a primary address.
func IsLID(s string) bool {
	_, server, ok := SplitJID(s)
	return ok && server == ServerLID
}

// SplitJID splits user@server, tolerating a device suffix on the user part.
func SplitJID(s string) (user, server string, ok bool) {
	idx := strings.LastIndex(s, "@")
	if idx <= 0 || idx == len(s)-1 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

// PhoneFromJID extracts the bare phone number from a user JID, dropping any
// device part.
func PhoneFromJID(s string) string {
	user, server, ok := SplitJID(s)
	if !ok || server != ServerUser {
		return ""
	}
	if colon := strings.Index(user, ":"); colon >= 0 {
		user = user[:colon]
	}
	return user
}

func IsValidEnum(value string, validValues []string) bool {
	if value == "" {
		return true
	}
	for _, v := range validValues {
		if value == v {
			return true
		}
	}
	return false
}

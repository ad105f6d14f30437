package types

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"statehouse/pkg/errdef"
)

// Segment separator used by the persisted key layout. Namespace and agent
// may not contain it; record keys are free-form.
const KeySep = ":"

// ValidateTriple checks the (namespace, agent, key) identity of a request.
// The namespace may be empty (callers substitute DefaultNamespace); agent
// and key must be non-empty valid UTF-8, and namespace/agent must not
// contain the key separator.
func ValidateTriple(namespace, agentID, key string) error {
	if namespace != "" && !utf8.ValidString(namespace) {
		return errdef.New(errdef.KindInvalidRequest, "namespace is not valid UTF-8")
	}
	if strings.Contains(namespace, KeySep) {
		return errdef.Newf(errdef.KindInvalidRequest, "namespace must not contain %q", KeySep)
	}
	if agentID == "" {
		return errdef.New(errdef.KindInvalidRequest, "agent id is required")
	}
	if !utf8.ValidString(agentID) {
		return errdef.New(errdef.KindInvalidRequest, "agent id is not valid UTF-8")
	}
	if strings.Contains(agentID, KeySep) {
		return errdef.Newf(errdef.KindInvalidRequest, "agent id must not contain %q", KeySep)
	}
	if key == "" {
		return errdef.New(errdef.KindInvalidRequest, "key is required")
	}
	if !utf8.ValidString(key) {
		return errdef.New(errdef.KindInvalidRequest, "key is not valid UTF-8")
	}
	return nil
}

// ValidateAgent checks a (namespace, agent) pair for listing and replay
// requests, where no key is involved.
func ValidateAgent(namespace, agentID string) error {
	if strings.Contains(namespace, KeySep) {
		return errdef.Newf(errdef.KindInvalidRequest, "namespace must not contain %q", KeySep)
	}
	if agentID == "" {
		return errdef.New(errdef.KindInvalidRequest, "agent id is required")
	}
	if strings.Contains(agentID, KeySep) {
		return errdef.Newf(errdef.KindInvalidRequest, "agent id must not contain %q", KeySep)
	}
	return nil
}

// ValidateValue checks that v is a well-formed JSON tree no larger than
// maxBytes (0 disables the size check). Values arrive already serialized, so
// cyclic structures cannot occur; malformed or truncated JSON is rejected.
func ValidateValue(v Value, maxBytes int64) error {
	if len(v) == 0 {
		return errdef.New(errdef.KindInvalidRequest, "value is required")
	}
	if maxBytes > 0 && int64(len(v)) > maxBytes {
		return errdef.Newf(errdef.KindInvalidRequest, "value exceeds %d bytes", maxBytes)
	}
	if !json.Valid(v) {
		return errdef.New(errdef.KindInvalidRequest, "value is not valid JSON")
	}
	return nil
}

package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// BridgeTXT is the TXT record set of a bridge.
type BridgeTXT struct {
	Path    string
	Proto   Proto
	Version int
}

// Encode returns the TXT strings.
func (t BridgeTXT) Encode() []string {
	path := t.Path
	if path == "" {
		path = "/"
	}
	proto := t.Proto
	if proto == "" {
		proto = ProtoWS
	}
	version := t.Version
	if version == 0 {
		version = ProtocolVersion
	}
	return []string{
		"path=" + path,
		"proto=" + string(proto),
		"ver=" + strconv.Itoa(version),
	}
}

// ParseTXT parses raw TXT record strings into a map.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			result[record[:idx]] = record[idx+1:]
		}
	}
	return result
}

// ParseBridgeTXT parses TXT records. Missing keys take their defaults.
func ParseBridgeTXT(records []string) (BridgeTXT, error) {
	m := ParseTXT(records)
	t := BridgeTXT{Path: "/", Proto: ProtoWS, Version: ProtocolVersion}

	if p, ok := m["path"]; ok && p != "" {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		t.Path = p
	}
	if p, ok := m["proto"]; ok {
		t.Proto = Proto(p)
		if !t.Proto.IsValid() {
			return t, fmt.Errorf("%w: proto %q", ErrInvalidTXT, p)
		}
	}
	if v, ok := m["ver"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return t, fmt.Errorf("%w: ver %q", ErrInvalidTXT, v)
		}
		t.Version = n
	}
	return t, nil
}

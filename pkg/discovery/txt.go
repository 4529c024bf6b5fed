package discovery

import (
	"fmt"
	"strings"

	"github.com/pairlink/pairlink-go/pkg/version"
)

// TXT record key constants.
const (
	// TXTKeyVersion carries the protocol version ("major.minor").
	TXTKeyVersion = "vn"

	// TXTKeyName carries the relay display name (optional).
	TXTKeyName = "nm"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeRelayTXT creates TXT records for relay discovery.
func EncodeRelayTXT(info *RelayInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	v := info.Version
	if v == "" {
		v = version.Current
	}
	txt[TXTKeyVersion] = v

	if info.DisplayName != "" {
		txt[TXTKeyName] = info.DisplayName
	}

	return txt
}

// DecodeRelayTXT parses TXT records from relay discovery. Only the
// TXT-backed fields of the result are populated.
func DecodeRelayTXT(txt TXTRecordMap) (*RelayInfo, error) {
	info := &RelayInfo{}

	v, ok := txt[TXTKeyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	if _, err := version.Parse(v); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, v)
	}
	info.Version = v

	info.DisplayName = txt[TXTKeyName]

	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}

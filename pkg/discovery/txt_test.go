package discovery

import (
	"errors"
	"testing"

	"github.com/pairlink/pairlink-go/pkg/version"
)

func TestEncodeRelayTXT(t *testing.T) {
	txt := EncodeRelayTXT(&RelayInfo{
		Version:     "1.0",
		DisplayName: "Living Room Relay",
	})

	if txt[TXTKeyVersion] != "1.0" {
		t.Errorf("vn = %q, want %q", txt[TXTKeyVersion], "1.0")
	}
	if txt[TXTKeyName] != "Living Room Relay" {
		t.Errorf("nm = %q, want %q", txt[TXTKeyName], "Living Room Relay")
	}
}

func TestEncodeRelayTXT_DefaultVersion(t *testing.T) {
	txt := EncodeRelayTXT(&RelayInfo{})

	if txt[TXTKeyVersion] != version.Current {
		t.Errorf("vn = %q, want %q", txt[TXTKeyVersion], version.Current)
	}
	if _, ok := txt[TXTKeyName]; ok {
		t.Error("nm should be omitted when DisplayName is empty")
	}
}

func TestDecodeRelayTXT(t *testing.T) {
	info, err := DecodeRelayTXT(TXTRecordMap{
		TXTKeyVersion: "1.2",
		TXTKeyName:    "Office",
	})
	if err != nil {
		t.Fatalf("DecodeRelayTXT returned error: %v", err)
	}
	if info.Version != "1.2" {
		t.Errorf("Version = %q, want %q", info.Version, "1.2")
	}
	if info.DisplayName != "Office" {
		t.Errorf("DisplayName = %q, want %q", info.DisplayName, "Office")
	}
}

func TestDecodeRelayTXT_MissingVersion(t *testing.T) {
	_, err := DecodeRelayTXT(TXTRecordMap{TXTKeyName: "Office"})
	if !errors.Is(err, ErrMissingRequired) {
		t.Errorf("error = %v, want ErrMissingRequired", err)
	}
}

func TestDecodeRelayTXT_BadVersion(t *testing.T) {
	_, err := DecodeRelayTXT(TXTRecordMap{TXTKeyVersion: "banana"})
	if !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("error = %v, want ErrInvalidVersion", err)
	}
}

func TestDecodeRelayTXT_NameOptional(t *testing.T) {
	info, err := DecodeRelayTXT(TXTRecordMap{TXTKeyVersion: "1.0"})
	if err != nil {
		t.Fatalf("DecodeRelayTXT returned error: %v", err)
	}
	if info.DisplayName != "" {
		t.Errorf("DisplayName = %q, want empty", info.DisplayName)
	}
}

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{
		"vn=1.0",
		"nm=Some=Relay",
		"flag",
		"",
	})

	if txt["vn"] != "1.0" {
		t.Errorf("vn = %q, want %q", txt["vn"], "1.0")
	}
	if txt["nm"] != "Some=Relay" {
		t.Errorf("nm = %q, want %q (value may contain '=')", txt["nm"], "Some=Relay")
	}
	if v, ok := txt["flag"]; !ok || v != "" {
		t.Errorf("flag = %q (present=%v), want empty value present", v, ok)
	}
	if len(txt) != 3 {
		t.Errorf("len = %d, want 3", len(txt))
	}
}

func TestTXTRecordsRoundTrip(t *testing.T) {
	original := TXTRecordMap{"vn": "1.0", "nm": "Kitchen"}

	back := StringsToTXTRecords(TXTRecordsToStrings(original))

	if len(back) != len(original) {
		t.Fatalf("len = %d, want %d", len(back), len(original))
	}
	for k, v := range original {
		if back[k] != v {
			t.Errorf("%s = %q, want %q", k, back[k], v)
		}
	}
}

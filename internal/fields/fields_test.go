package fields

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		data string
		sep  byte
		want Fields
	}{
		{"three fields with terminator", "a~b~c\x00", '~', Fields{"a", "b", "c"}},
		{"three fields end of string", "a~b~c", '~', Fields{"a", "b", "c"}},
		{"trailing garbage after NUL", "1~2\x00~junk", '~', Fields{"1", "2"}},
		{"empty middle field", "x~~z", '~', Fields{"x", "", "z"}},
		{"single field", "only\x00", '~', Fields{"only"}},
		{"empty payload", "", '~', Fields{""}},
		{"slash separated event", "dev/hook-response/geolocation/0", '/', Fields{"dev", "hook-response", "geolocation", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.data, tt.sep)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Split(%q) = %q, want %q", tt.data, got, tt.want)
			}
		})
	}
}

func TestSplitFieldCountMatchesInput(t *testing.T) {
	for n := 1; n <= 12; n++ {
		parts := make([]string, n)
		for i := range parts {
			parts[i] = strings.Repeat("f", i) + "x"
		}
		payload := strings.Join(parts, "~") + "\x00"

		got := Split(payload, '~')
		if got.Len() != n {
			t.Fatalf("n=%d: got %d fields", n, got.Len())
		}
		for i := range parts {
			if got[i] != parts[i] {
				t.Errorf("n=%d field %d: got %q, want %q", n, i, got[i], parts[i])
			}
		}
	}
}

func TestSplitIsRepeatable(t *testing.T) {
	payload := "2024-05-01T10:00:00Z~1600 Amphitheatre Parkway\x00"
	first := Parse(payload)
	second := Parse(payload)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("parsing twice differs: %q vs %q", first, second)
	}
}

func TestEmpty(t *testing.T) {
	if !Empty("~", '~') {
		t.Error("expected bare delimiter to be empty")
	}
	if !Empty("", '~') {
		t.Error("expected empty string to be empty")
	}
	if Empty("a~", '~') {
		t.Error("expected payload with content not to be empty")
	}
}

func TestTypedAccessors(t *testing.T) {
	f := Parse("41.385064~2.173403~ 35 ~abc")

	lat, err := f.Float(0)
	if err != nil || lat != 41.385064 {
		t.Errorf("Float(0) = %v, %v", lat, err)
	}
	acc, err := f.Int(2)
	if err != nil || acc != 35 {
		t.Errorf("Int(2) = %v, %v", acc, err)
	}
	u, err := f.Uint(2, 16)
	if err != nil || u != 35 {
		t.Errorf("Uint(2) = %v, %v", u, err)
	}
	if _, err := f.Int(3); err == nil {
		t.Error("expected error parsing non-numeric field")
	}
	if _, err := f.String(9); err == nil {
		t.Error("expected out of range error")
	}
}

package protocol

import "testing"

func TestParseBool(t *testing.T) {
	tests := []struct {
		in      []byte
		want    bool
		wantErr bool
	}{
		{[]byte("1"), true, false},
		{[]byte("0"), false, false},
		{[]byte("true\n"), true, false},
		{[]byte("OFF"), false, false},
		{[]byte{0x01}, true, false},
		{[]byte{0x00}, false, false},
		{[]byte("2"), false, true},
		{[]byte(""), false, true},
	}
	for _, tt := range tests {
		got, err := ParseBool(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBool(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseBool(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseColor(t *testing.T) {
	r, g, b, err := ParseColor([]byte(" 255, 0,128 "))
	if err != nil {
		t.Fatalf("ParseColor: %v", err)
	}
	if r != 255 || g != 0 || b != 128 {
		t.Errorf("ParseColor = %d,%d,%d, want 255,0,128", r, g, b)
	}
	for _, in := range []string{"1,2", "1,2,3,4", "256,0,0", "a,b,c", "-1,0,0"} {
		if _, _, _, err := ParseColor([]byte(in)); err == nil {
			t.Errorf("ParseColor(%q) = nil error, want error", in)
		}
	}
}

func TestParseNumbers(t *testing.T) {
	if v, err := ParseFloat([]byte("1.25\x00")); err != nil || v != 1.25 {
		t.Errorf("ParseFloat = %v, %v; want 1.25", v, err)
	}
	if _, err := ParseFloat([]byte("fast")); err == nil {
		t.Error("ParseFloat(fast) = nil error")
	}
	if v, err := ParseInt([]byte(" 7 ")); err != nil || v != 7 {
		t.Errorf("ParseInt = %v, %v; want 7", v, err)
	}
	if v, err := ParseUint8([]byte("200")); err != nil || v != 200 {
		t.Errorf("ParseUint8 = %v, %v; want 200", v, err)
	}
	if _, err := ParseUint8([]byte("300")); err == nil {
		t.Error("ParseUint8(300) = nil error")
	}
}

func TestFormat(t *testing.T) {
	if got := string(FormatFloat(1.5)); got != "1.50" {
		t.Errorf("FormatFloat(1.5) = %q", got)
	}
	if got := string(FormatInt(12)); got != "12" {
		t.Errorf("FormatInt(12) = %q", got)
	}
	if got := string(FormatBool(true)); got != "1" {
		t.Errorf("FormatBool(true) = %q", got)
	}
	if got := string(FormatColor(1, 2, 3)); got != "1,2,3" {
		t.Errorf("FormatColor = %q", got)
	}
}

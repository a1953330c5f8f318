package preset

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Preset
		wantErr bool
	}{
		{in: "light", want: Light},
		{in: "BEAUTY", want: Beauty},
		{in: " pro ", want: Pro},
		{in: "preset:neuro", want: Neuro},
		{in: "", wantErr: true},
		{in: "vintage", wantErr: true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownPreset) {
				t.Errorf("Parse(%q) error = %v, want ErrUnknownPreset", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Parse(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestPresetProperties(t *testing.T) {
	all := All()
	if len(all) != 4 {
		t.Fatalf("All() = %v", all)
	}
	for _, p := range all {
		if !p.Valid() {
			t.Errorf("%v not valid", p)
		}
		back, err := Parse(p.String())
		if err != nil || back != p {
			t.Errorf("Parse(%q) = %v, %v", p.String(), back, err)
		}
		if p.Label() == "" {
			t.Errorf("%v has no label", p)
		}
		if p.RequiresPro() == p.Local() {
			t.Errorf("%v: RequiresPro and Local must differ", p)
		}
	}
	if !Neuro.RequiresPro() || Light.RequiresPro() {
		t.Error("only neuro requires Pro")
	}
	if Preset(0).Valid() {
		t.Error("zero value must not be valid")
	}
}

func TestPresetText(t *testing.T) {
	b, err := Beauty.MarshalText()
	if err != nil || string(b) != "beauty" {
		t.Errorf("MarshalText() = %q, %v", b, err)
	}
	var p Preset
	if err := p.UnmarshalText([]byte("pro")); err != nil || p != Pro {
		t.Errorf("UnmarshalText() = %v, %v", p, err)
	}
	if _, err := Preset(42).MarshalText(); err == nil {
		t.Error("MarshalText() of invalid preset should fail")
	}
}

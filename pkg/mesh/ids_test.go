package mesh

import "testing"

func TestParseNodeID(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{in: "!a1b2c3d4", want: 0xa1b2c3d4},
		{in: "0x0000002a", want: 42},
		{in: "1234", want: 1234},
		{in: " !00000007 ", want: 7},
		{in: "!", wantErr: true},
		{in: "nope", wantErr: true},
		{in: "!1ffffffff", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseNodeID(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %d", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseNodeID(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatNodeID_RoundTrip(t *testing.T) {
	s := FormatNodeID(0xdeadbeef)
	if s != "!deadbeef" {
		t.Fatalf("expected !deadbeef, got %s", s)
	}
	n, err := ParseNodeID(s)
	if err != nil || n != 0xdeadbeef {
		t.Errorf("round trip failed: %d, %v", n, err)
	}
}

func TestParsePortNum(t *testing.T) {
	p, err := ParsePortNum("neighborinfo_app")
	if err != nil || p != PortNeighborInfo {
		t.Errorf("expected NEIGHBORINFO_APP, got %v (%v)", p, err)
	}
	p, err = ParsePortNum("3")
	if err != nil || p != PortPosition {
		t.Errorf("expected POSITION_APP, got %v (%v)", p, err)
	}
	if _, err := ParsePortNum("BOGUS_APP"); err == nil {
		t.Error("expected error for unknown port name")
	}
	if PortNum(999).String() != "PORT_999" {
		t.Errorf("unexpected name for unknown port: %s", PortNum(999))
	}
}

func TestPositionDegrees(t *testing.T) {
	p := Position{LatitudeI: 525200000, LongitudeI: 134050000}
	if lat := p.Latitude(); lat < 52.51999 || lat > 52.52001 {
		t.Errorf("unexpected latitude %f", lat)
	}
	if lon := p.Longitude(); lon < 13.40499 || lon > 13.40501 {
		t.Errorf("unexpected longitude %f", lon)
	}
}

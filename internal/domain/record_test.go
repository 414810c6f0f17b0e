package domain

import (
	"strings"
	"testing"
)

func TestCreateRecordRequestValidate(t *testing.T) {
	valid := CreateRecordRequest{
		Field:      "articles.image",
		SourceType: SourceTypeLocalFile,
		ObjectKey:  "uploads/photo.jpg",
		PPOI:       "0.25x0.75",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}

	missingField := valid
	missingField.Field = " "
	if err := missingField.Validate(); err == nil {
		t.Fatal("expected error for missing field")
	}

	badSource := valid
	badSource.SourceType = "carrier_pigeon"
	if err := badSource.Validate(); err == nil {
		t.Fatal("expected error for unsupported source_type")
	}

	missingKey := valid
	missingKey.ObjectKey = ""
	if err := missingKey.Validate(); err == nil {
		t.Fatal("expected error for local_file without object_key")
	}

	badPPOI := valid
	badPPOI.PPOI = "left-ish"
	err := badPPOI.Validate()
	if err == nil {
		t.Fatal("expected error for malformed ppoi")
	}
	if !strings.Contains(err.Error(), "ppoi") {
		t.Fatalf("error should mention ppoi, got %v", err)
	}

	presigned := valid
	presigned.SourceType = SourceTypeS3Presigned
	presigned.ObjectKey = ""
	if err := presigned.Validate(); err != nil {
		t.Fatalf("presigned uploads should not require object_key, got %v", err)
	}
}

func TestParsePPOI(t *testing.T) {
	cases := []struct {
		in     string
		want   PPOI
		wantOK bool
	}{
		{"0.5x0.5", PPOI{0.5, 0.5}, true},
		{"0x1", PPOI{0, 1}, true},
		{"0.25x0.75", PPOI{0.25, 0.75}, true},
		{" 0.1x0.9 ", PPOI{0.1, 0.9}, true},
		{"", PPOI{0.5, 0.5}, false},
		{"0.5", PPOI{0.5, 0.5}, false},
		{"1.5x0.5", PPOI{0.5, 0.5}, false},
		{"-0.1x0.5", PPOI{0.5, 0.5}, false},
		{"axb", PPOI{0.5, 0.5}, false},
		{"0.5x0.5x0.5", PPOI{0.5, 0.5}, false},
	}
	for _, tc := range cases {
		got, ok := ParsePPOI(tc.in)
		if ok != tc.wantOK {
			t.Fatalf("ParsePPOI(%q) ok = %v, want %v", tc.in, ok, tc.wantOK)
		}
		if got != tc.want {
			t.Fatalf("ParsePPOI(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestPPOIStringRoundTrip(t *testing.T) {
	p := PPOI{X: 0.25, Y: 0.75}
	back, ok := ParsePPOI(p.String())
	if !ok || back != p {
		t.Fatalf("round trip gave %+v (ok=%v), want %+v", back, ok, p)
	}
}

func TestPPOIClamp(t *testing.T) {
	p := PPOI{X: -2, Y: 3}.Clamp()
	if p.X != 0 || p.Y != 1 {
		t.Fatalf("clamp gave %+v", p)
	}
}

package imaging

import (
	"errors"
	"testing"

	"imgfield/internal/domain"
)

func TestContextSealBlocksIdentityAttributes(t *testing.T) {
	pc := NewContext([]Spec{{Name: "default"}})

	if err := pc.SetName("__processed__/abc/photo-123.jpg"); err != nil {
		t.Fatalf("set name before seal: %v", err)
	}
	if err := pc.SetExtension(".jpg"); err != nil {
		t.Fatalf("set extension before seal: %v", err)
	}
	if err := pc.SetPPOI(domain.PPOI{X: 0.25, Y: 0.75}); err != nil {
		t.Fatalf("set ppoi before seal: %v", err)
	}

	pc.Seal()
	if !pc.Sealed() {
		t.Fatal("context should report sealed")
	}

	if err := pc.SetProcessors(nil); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed from SetProcessors, got %v", err)
	}
	if err := pc.SetName("other"); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed from SetName, got %v", err)
	}
	if err := pc.SetExtension(".png"); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed from SetExtension, got %v", err)
	}
	if err := pc.SetPPOI(domain.DefaultPPOI()); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed from SetPPOI, got %v", err)
	}

	if pc.Name() != "__processed__/abc/photo-123.jpg" {
		t.Fatalf("name changed after rejected write: %q", pc.Name())
	}
	if pc.Extension() != ".jpg" {
		t.Fatalf("extension changed after rejected write: %q", pc.Extension())
	}
}

func TestContextSaveOptionsWritableAfterSeal(t *testing.T) {
	pc := NewContext(nil)
	pc.Seal()

	pc.Save().Format = FormatJPEG
	pc.Save().Quality = 90
	if pc.Save().Format != FormatJPEG || pc.Save().Quality != 90 {
		t.Fatal("save options must stay writable after seal")
	}
}

func TestContextExtensionNormalization(t *testing.T) {
	pc := NewContext(nil)
	if err := pc.SetExtension("JPG"); err != nil {
		t.Fatalf("set extension: %v", err)
	}
	if pc.Extension() != ".jpg" {
		t.Fatalf("expected .jpg, got %q", pc.Extension())
	}
}

func TestContextDefaultPPOIIsCenter(t *testing.T) {
	pc := NewContext(nil)
	if pc.PPOI() != domain.DefaultPPOI() {
		t.Fatalf("expected center ppoi, got %+v", pc.PPOI())
	}
}

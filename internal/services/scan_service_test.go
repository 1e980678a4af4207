package services

import (
	"context"
	"errors"
	"testing"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/towing"
)

var jpeg = towing.Image{Data: []byte("\xff\xd8\xff\xe0image"), MIMEType: "image/jpeg"}

type scanFixture struct {
	users   *stubUserRepository
	vision  *stubVision
	plates  *stubPlates
	towing  *stubTowing
	archive *stubArchive
	rec     *eventRecorder
}

func newScanFixture() *scanFixture {
	return &scanFixture{
		users:   newStubUsers(domain.UserProfile{UID: "pro", IsProMember: true}, domain.UserProfile{UID: "free"}),
		vision:  &stubVision{},
		towing:  &stubTowing{result: LookupResult{SearchID: "search-9", Info: civicInfo}},
		archive: &stubArchive{},
		rec:     &eventRecorder{},
	}
}

func (f *scanFixture) service(t *testing.T) ScanService {
	t.Helper()
	deps := ScanServiceDeps{
		Users:   f.users,
		Vision:  f.vision,
		Towing:  f.towing,
		Archive: f.archive,
		Logger:  f.rec.log,
	}
	if f.plates != nil {
		deps.Plates = f.plates
	}
	svc, err := NewScanService(deps)
	if err != nil {
		t.Fatalf("NewScanService: %v", err)
	}
	return svc
}

func TestParseScanMode(t *testing.T) {
	if mode, err := ParseScanMode(""); err != nil || mode != ScanModeSmartCode {
		t.Fatalf("expected default smart code, got %q %v", mode, err)
	}
	if mode, err := ParseScanMode(" Vehicle_Photo "); err != nil || mode != ScanModeVehiclePhoto {
		t.Fatalf("expected vehicle photo, got %q %v", mode, err)
	}
	if _, err := ParseScanMode("barcode"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestScanRequiresProMembership(t *testing.T) {
	f := newScanFixture()
	svc := f.service(t)
	for _, uid := range []string{"free", "missing"} {
		_, err := svc.Scan(context.Background(), ScanCommand{UserUID: uid, Mode: ScanModeSmartCode, Image: jpeg})
		if !errors.Is(err, ErrProRequired) {
			t.Fatalf("%s: expected pro required, got %v", uid, err)
		}
	}
	if len(f.archive.objects) != 0 || len(f.towing.commands) != 0 {
		t.Fatalf("non-pro scans must not archive or look up")
	}
}

func TestScanAuthorize(t *testing.T) {
	svc := newScanFixture().service(t)
	ctx := context.Background()
	if err := svc.Authorize(ctx, " pro "); err != nil {
		t.Fatalf("expected pro user to be authorized, got %v", err)
	}
	for _, uid := range []string{"free", "missing"} {
		if err := svc.Authorize(ctx, uid); !errors.Is(err, ErrProRequired) {
			t.Fatalf("%s: expected pro required, got %v", uid, err)
		}
	}
	if err := svc.Authorize(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty uid, got %v", err)
	}
}

func TestScanVINLooksUpAndArchives(t *testing.T) {
	f := newScanFixture()
	f.vision.kind = domain.CodeKindVIN
	f.vision.vin = "1HGCM82633A004352"
	svc := f.service(t)

	result, err := svc.Scan(context.Background(), ScanCommand{UserUID: "pro", Mode: ScanModeSmartCode, Image: jpeg})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.CodeKind != domain.CodeKindVIN || result.VIN != "1HGCM82633A004352" || result.SearchID != "search-9" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Query != "VIN 1HGCM82633A004352" {
		t.Fatalf("unexpected query %q", result.Query)
	}
	if len(f.archive.objects) != 1 || f.archive.objects[0].Mode != string(ScanModeSmartCode) {
		t.Fatalf("expected archived scan, got %+v", f.archive.objects)
	}
	cmd := f.towing.commands[0]
	if cmd.Source != domain.SearchSourceVINScan || cmd.ScanImagePath != result.ArchivedImage || cmd.ScanImagePath == "" {
		t.Fatalf("unexpected lookup command %+v", cmd)
	}
}

func TestScanPlateWithoutDecoder(t *testing.T) {
	f := newScanFixture()
	f.vision.kind = domain.CodeKindPlate
	svc := f.service(t)

	_, err := svc.Scan(context.Background(), ScanCommand{UserUID: "pro", Image: jpeg})
	if !errors.Is(err, ErrPlateDecodingUnavailable) {
		t.Fatalf("expected plate decoding unavailable, got %v", err)
	}
}

func TestScanPlateDecodesToVIN(t *testing.T) {
	f := newScanFixture()
	f.vision.kind = domain.CodeKindPlate
	f.plates = &stubPlates{vin: "1hgcm82633a004352"}
	svc := f.service(t)

	result, err := svc.Scan(context.Background(), ScanCommand{UserUID: "pro", Image: jpeg})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.VIN != "1HGCM82633A004352" || f.towing.commands[0].Source != domain.SearchSourcePlateScan {
		t.Fatalf("unexpected plate result %+v", result)
	}
	if f.vision.extractions != 0 {
		t.Fatalf("plate scans must not run VIN extraction")
	}
}

func TestScanNoCodeFound(t *testing.T) {
	f := newScanFixture()
	f.vision.kind = domain.CodeKindNone
	svc := f.service(t)

	result, err := svc.Scan(context.Background(), ScanCommand{UserUID: "pro", Image: jpeg})
	if !errors.Is(err, towing.ErrExtractionNotFound) {
		t.Fatalf("expected extraction not found, got %v", err)
	}
	if result.CodeKind != domain.CodeKindNone || len(f.towing.commands) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestScanVehiclePhoto(t *testing.T) {
	f := newScanFixture()
	year := 2018
	f.vision.vehicle = domain.IdentifiedVehicle{Year: &year, Make: "Subaru", Model: "Outback"}
	svc := f.service(t)

	result, err := svc.Scan(context.Background(), ScanCommand{UserUID: "pro", Mode: ScanModeVehiclePhoto, Image: jpeg})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.Vehicle == nil || result.Vehicle.Model != "Outback" || result.Query != "2018 Subaru Outback" {
		t.Fatalf("unexpected result %+v", result)
	}
	if f.towing.commands[0].Source != domain.SearchSourcePhoto {
		t.Fatalf("unexpected source %s", f.towing.commands[0].Source)
	}
}

func TestScanVehiclePhotoIdentificationFailure(t *testing.T) {
	f := newScanFixture()
	f.vision.vehicle = domain.IdentificationFailure{Reason: "no vehicle visible"}
	svc := f.service(t)

	_, err := svc.Scan(context.Background(), ScanCommand{UserUID: "pro", Mode: ScanModeVehiclePhoto, Image: jpeg})
	if !errors.Is(err, towing.ErrExtractionNotFound) {
		t.Fatalf("expected extraction not found, got %v", err)
	}
}

func TestScanArchiveFailureIsBestEffort(t *testing.T) {
	f := newScanFixture()
	f.vision.kind = domain.CodeKindVIN
	f.vision.vin = "1HGCM82633A004352"
	f.archive.err = errors.New("bucket missing")
	svc := f.service(t)

	result, err := svc.Scan(context.Background(), ScanCommand{UserUID: "pro", Image: jpeg})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.ArchivedImage != "" || !f.rec.has("scan_archive_failed") {
		t.Fatalf("expected logged archive failure, got %+v", result)
	}
}

func TestScanRejectsOversizedImages(t *testing.T) {
	f := newScanFixture()
	svc, err := NewScanService(ScanServiceDeps{Users: f.users, Vision: f.vision, Towing: f.towing, MaxScanBytes: 4})
	if err != nil {
		t.Fatalf("NewScanService: %v", err)
	}
	if _, err := svc.Scan(context.Background(), ScanCommand{UserUID: "pro", Image: jpeg}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := svc.Scan(context.Background(), ScanCommand{UserUID: "pro"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty image, got %v", err)
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/storage"
	"github.com/kbkonsulting/Safe2Tow/internal/repositories"
	"github.com/kbkonsulting/Safe2Tow/internal/towing"
)

// DefaultMaxScanBytes bounds uploaded scan images.
const DefaultMaxScanBytes = 10 << 20

// ScanMode selects how an uploaded image is interpreted.
type ScanMode string

const (
	// ScanModeSmartCode reads a VIN or license plate.
	ScanModeSmartCode ScanMode = "smart_code"
	// ScanModeVehiclePhoto identifies the vehicle from a photo.
	ScanModeVehiclePhoto ScanMode = "vehicle_photo"
)

// ParseScanMode validates a client supplied mode.
func ParseScanMode(raw string) (ScanMode, error) {
	switch mode := ScanMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case ScanModeSmartCode, ScanModeVehiclePhoto:
		return mode, nil
	case "":
		return ScanModeSmartCode, nil
	default:
		return "", fmt.Errorf("%w: unknown scan mode %q", ErrInvalidInput, raw)
	}
}

// ScanCommand is an uploaded image to interpret.
type ScanCommand struct {
	UserUID string
	Mode    ScanMode
	Image   towing.Image
}

// ScanResult reports what was read from the image and the resulting lookup.
type ScanResult struct {
	Mode          ScanMode
	CodeKind      domain.CodeKind
	VIN           string
	Vehicle       *domain.IdentifiedVehicle
	Query         string
	SearchID      string
	Info          domain.TowingInfo
	ArchivedImage string
}

// ScanServiceDeps bundles collaborators required to construct a scan service.
type ScanServiceDeps struct {
	Users  repositories.UserRepository
	Vision VisionExtractor
	Towing TowingService
	// Plates is optional; plate scans fail with ErrPlateDecodingUnavailable without it.
	Plates PlateDecoder
	// Archive is optional.
	Archive      ScanArchive
	MaxScanBytes int
	Logger       Logger
}

type scanService struct {
	users    repositories.UserRepository
	vision   VisionExtractor
	towing   TowingService
	plates   PlateDecoder
	archive  ScanArchive
	maxBytes int
	logger   Logger
}

var _ ScanService = (*scanService)(nil)

// NewScanService wires the Pro-only image scan flow.
func NewScanService(deps ScanServiceDeps) (ScanService, error) {
	if deps.Users == nil {
		return nil, errors.New("scan service: user repository is required")
	}
	if deps.Vision == nil {
		return nil, errors.New("scan service: vision extractor is required")
	}
	if deps.Towing == nil {
		return nil, errors.New("scan service: towing service is required")
	}
	maxBytes := deps.MaxScanBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxScanBytes
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &scanService{
		users:    deps.Users,
		vision:   deps.Vision,
		towing:   deps.Towing,
		plates:   deps.Plates,
		archive:  deps.Archive,
		maxBytes: maxBytes,
		logger:   logger,
	}, nil
}

func (s *scanService) Authorize(ctx context.Context, uid string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.requirePro(ctx, uid)
}

func (s *scanService) Scan(ctx context.Context, cmd ScanCommand) (ScanResult, error) {
	uid := strings.TrimSpace(cmd.UserUID)
	if uid == "" {
		return ScanResult{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if len(cmd.Image.Data) == 0 {
		return ScanResult{}, fmt.Errorf("%w: image is required", ErrInvalidInput)
	}
	if len(cmd.Image.Data) > s.maxBytes {
		return ScanResult{}, fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidInput, s.maxBytes)
	}
	if err := s.requirePro(ctx, uid); err != nil {
		return ScanResult{}, err
	}

	result := ScanResult{Mode: cmd.Mode}
	if result.Mode == "" {
		result.Mode = ScanModeSmartCode
	}
	result.ArchivedImage = s.store(ctx, uid, result.Mode, cmd.Image)

	lookup := LookupCommand{UserUID: uid, ScanImagePath: result.ArchivedImage}
	switch result.Mode {
	case ScanModeSmartCode:
		kind, vin, source, err := s.readCode(ctx, cmd.Image)
		result.CodeKind = kind
		if err != nil {
			return result, err
		}
		result.VIN = vin
		lookup.VIN = vin
		lookup.Source = source
	case ScanModeVehiclePhoto:
		vehicle, err := s.identify(ctx, cmd.Image)
		if err != nil {
			return result, err
		}
		result.Vehicle = &vehicle
		lookup.Query = vehicle.SearchQuery()
		lookup.Make = vehicle.Make
		lookup.Model = vehicle.Model
		if vehicle.Year != nil {
			lookup.Year = *vehicle.Year
		}
		lookup.Source = domain.SearchSourcePhoto
	default:
		return ScanResult{}, fmt.Errorf("%w: unknown scan mode %q", ErrInvalidInput, cmd.Mode)
	}

	found, err := s.towing.Lookup(ctx, lookup)
	result.Query = lookup.QueryText()
	if err != nil {
		return result, err
	}
	result.SearchID = found.SearchID
	result.Info = found.Info
	return result, nil
}

func (s *scanService) requirePro(ctx context.Context, uid string) error {
	profile, err := s.users.FindByID(ctx, uid)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return ErrProRequired
		}
		return err
	}
	if !profile.IsProMember {
		return ErrProRequired
	}
	return nil
}

func (s *scanService) readCode(ctx context.Context, img towing.Image) (domain.CodeKind, string, domain.SearchSource, error) {
	kind, err := s.vision.ClassifyCode(ctx, img)
	if err != nil {
		return "", "", "", err
	}
	switch kind {
	case domain.CodeKindVIN:
		vin, err := s.vision.ExtractVIN(ctx, img)
		return kind, vin, domain.SearchSourceVINScan, err
	case domain.CodeKindPlate:
		if s.plates == nil {
			return kind, "", "", ErrPlateDecodingUnavailable
		}
		raw, err := s.plates.DecodePlate(ctx, img)
		if err != nil {
			return kind, "", "", err
		}
		vin, ok := towing.NormalizeVIN(raw)
		if !ok {
			return kind, "", "", fmt.Errorf("%w: plate decoder returned %q", towing.ErrExtractionNotFound, raw)
		}
		return kind, vin, domain.SearchSourcePlateScan, nil
	default:
		return kind, "", "", fmt.Errorf("%w: no VIN or license plate in image", towing.ErrExtractionNotFound)
	}
}

func (s *scanService) identify(ctx context.Context, img towing.Image) (domain.IdentifiedVehicle, error) {
	identification, err := s.vision.IdentifyVehicle(ctx, img)
	if err != nil {
		return domain.IdentifiedVehicle{}, err
	}
	switch v := identification.(type) {
	case domain.IdentifiedVehicle:
		return v, nil
	case domain.IdentificationFailure:
		return domain.IdentifiedVehicle{}, fmt.Errorf("%w: %s", towing.ErrExtractionNotFound, v.Reason)
	default:
		return domain.IdentifiedVehicle{}, fmt.Errorf("%w: unexpected identification %T", towing.ErrMalformedResponse, identification)
	}
}

// store archives the image when an archive is configured. Failures are logged and the scan
// continues without an archived copy.
func (s *scanService) store(ctx context.Context, uid string, mode ScanMode, img towing.Image) string {
	if s.archive == nil {
		return ""
	}
	stored, err := s.archive.StoreScan(ctx, storage.ScanObject{
		UID:      uid,
		Data:     img.Data,
		MIMEType: img.ContentType(),
		Mode:     string(mode),
	})
	if err != nil {
		s.logger(ctx, "scan_archive_failed", map[string]any{"uid": uid, "error": err.Error()})
		return ""
	}
	return stored.Path
}

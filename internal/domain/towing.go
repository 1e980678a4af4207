package domain

import (
	"strconv"
	"strings"
)

// MethodSafetyLevel classifies a single lift direction.
type MethodSafetyLevel string

const (
	// MethodSafe means the lift can be performed without additional steps.
	MethodSafe MethodSafetyLevel = "SAFE"
	// MethodSafeWithCaution means the lift is acceptable only when the instructions are followed.
	MethodSafeWithCaution MethodSafetyLevel = "SAFE_WITH_CAUTION"
	// MethodUnsafe means the lift risks drivetrain damage.
	MethodUnsafe MethodSafetyLevel = "UNSAFE"
)

// MethodSafetyLevels lists every accepted method safety value in schema order.
func MethodSafetyLevels() []MethodSafetyLevel {
	return []MethodSafetyLevel{MethodSafe, MethodSafeWithCaution, MethodUnsafe}
}

// Valid reports whether the level is one of the closed set.
func (l MethodSafetyLevel) Valid() bool {
	switch l {
	case MethodSafe, MethodSafeWithCaution, MethodUnsafe:
		return true
	}
	return false
}

// TowingSafetyLevel is the overall classification for the vehicle.
type TowingSafetyLevel string

const (
	TowingSafe          TowingSafetyLevel = "SAFE"
	TowingCaution       TowingSafetyLevel = "CAUTION"
	TowingDollyRequired TowingSafetyLevel = "DOLLY_REQUIRED"
)

// TowingSafetyLevels lists every accepted overall safety value in schema order.
func TowingSafetyLevels() []TowingSafetyLevel {
	return []TowingSafetyLevel{TowingSafe, TowingCaution, TowingDollyRequired}
}

// Valid reports whether the level is one of the closed set.
func (l TowingSafetyLevel) Valid() bool {
	switch l {
	case TowingSafe, TowingCaution, TowingDollyRequired:
		return true
	}
	return false
}

// VehicleDescriptor identifies the vehicle a result applies to.
type VehicleDescriptor struct {
	Year  int    `json:"year"`
	Make  string `json:"make"`
	Model string `json:"model"`
	Trim  string `json:"trim"`
}

// TowingMethod is the procedure for one lift direction.
type TowingMethod struct {
	SafetyLevel  MethodSafetyLevel `json:"safetyLevel"`
	Instructions string            `json:"instructions"`
}

// Steps splits the newline-delimited instructions into trimmed, non-empty steps.
func (m TowingMethod) Steps() []string {
	lines := strings.Split(m.Instructions, "\n")
	steps := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			steps = append(steps, line)
		}
	}
	return steps
}

// AWDVariantInfo describes the AWD/4WD trim when its procedure differs from the primary result.
type AWDVariantInfo struct {
	Summary                    string       `json:"summary"`
	FrontTowing                TowingMethod `json:"frontTowing"`
	RearTowing                 TowingMethod `json:"rearTowing"`
	Cautions                   []string     `json:"cautions"`
	AWDSystemType              string       `json:"awdSystemType"`
	IsDrivetrainEngagedWhenOff bool         `json:"isDrivetrainEngagedWhenOff"`
	SteeringLocksWhenOff       bool         `json:"steeringLocksWhenOff"`
}

// TowingInfo is the complete towing recommendation for a vehicle query.
type TowingInfo struct {
	Vehicle                    VehicleDescriptor `json:"vehicle"`
	Drivetrain                 string            `json:"drivetrain"`
	AWDSystemType              string            `json:"awdSystemType"`
	IsDrivetrainEngagedWhenOff bool              `json:"isDrivetrainEngagedWhenOff"`
	SteeringLocksWhenOff       bool              `json:"steeringLocksWhenOff"`
	TowingSafetyLevel          TowingSafetyLevel `json:"towingSafetyLevel"`
	Summary                    string            `json:"summary"`
	FrontTowing                TowingMethod      `json:"frontTowing"`
	RearTowing                 TowingMethod      `json:"rearTowing"`
	Cautions                   []string          `json:"cautions"`
	AnecdotalAdvice            []string          `json:"anecdotalAdvice,omitempty"`
	UnlockAdvice               []string          `json:"unlockAdvice,omitempty"`
	AWDVariantInfo             *AWDVariantInfo   `json:"awdVariantInfo,omitempty"`
}

// HasAWDVariant reports whether a distinct AWD/4WD procedure was returned.
func (t TowingInfo) HasAWDVariant() bool {
	return t.AWDVariantInfo != nil
}

// VehicleIdentification is the outcome of identifying a vehicle from a photo.
// Exactly one of IdentifiedVehicle or IdentificationFailure implements it.
type VehicleIdentification interface {
	isVehicleIdentification()
}

// IdentifiedVehicle is the success branch of VehicleIdentification.
type IdentifiedVehicle struct {
	Year  *int   `json:"year,omitempty"`
	Make  string `json:"make"`
	Model string `json:"model"`
}

func (IdentifiedVehicle) isVehicleIdentification() {}

// SearchQuery renders the identification as a free-text lookup query.
func (v IdentifiedVehicle) SearchQuery() string {
	parts := make([]string, 0, 3)
	if v.Year != nil && *v.Year > 0 {
		parts = append(parts, strconv.Itoa(*v.Year))
	}
	parts = append(parts, strings.TrimSpace(v.Make), strings.TrimSpace(v.Model))
	return strings.Join(parts, " ")
}

// IdentificationFailure is the error branch of VehicleIdentification.
type IdentificationFailure struct {
	Reason string `json:"error"`
}

func (IdentificationFailure) isVehicleIdentification() {}

// CodeKind labels what an uploaded code image contains.
type CodeKind string

const (
	CodeKindVIN   CodeKind = "vin"
	CodeKindPlate CodeKind = "plate"
	CodeKindNone  CodeKind = "none"
)

// Valid reports whether the kind is one of the closed set.
func (k CodeKind) Valid() bool {
	switch k {
	case CodeKindVIN, CodeKindPlate, CodeKindNone:
		return true
	}
	return false
}

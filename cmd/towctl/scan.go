package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/services"
	"github.com/kbkonsulting/Safe2Tow/internal/towing"
)

type scanOutput struct {
	VIN            string                        `json:"vin,omitempty"`
	Vehicle        *domain.IdentifiedVehicle     `json:"vehicle,omitempty"`
	Identification *domain.IdentificationFailure `json:"identification,omitempty"`
	CodeKind       domain.CodeKind               `json:"codeKind,omitempty"`
	Lookup         *lookupOutput                 `json:"lookup,omitempty"`
}

func (a *app) scanCommand() *cobra.Command {
	var followLookup bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Read a VIN, vehicle or code type from an image file",
	}

	vin := &cobra.Command{
		Use:   "vin <image-file>",
		Short: "Extract a VIN from a photo of a VIN plate or sticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScan(cmd, args[0], followLookup, func(ctx context.Context, kit *toolkit, img towing.Image) (scanOutput, string, error) {
				value, err := kit.vision.ExtractVIN(ctx, img)
				if err != nil {
					return scanOutput{}, "", err
				}
				return scanOutput{VIN: value}, "VIN " + value, nil
			})
		},
	}
	identify := &cobra.Command{
		Use:   "identify <image-file>",
		Short: "Identify the year, make and model in a vehicle photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScan(cmd, args[0], followLookup, func(ctx context.Context, kit *toolkit, img towing.Image) (scanOutput, string, error) {
				ident, err := kit.vision.IdentifyVehicle(ctx, img)
				if err != nil {
					return scanOutput{}, "", err
				}
				switch v := ident.(type) {
				case domain.IdentifiedVehicle:
					return scanOutput{Vehicle: &v}, v.SearchQuery(), nil
				case domain.IdentificationFailure:
					return scanOutput{Identification: &v}, "", nil
				default:
					return scanOutput{}, "", fmt.Errorf("unexpected identification %T", ident)
				}
			})
		},
	}
	classify := &cobra.Command{
		Use:   "classify <image-file>",
		Short: "Report whether an image shows a VIN, a licence plate or neither",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScan(cmd, args[0], false, func(ctx context.Context, kit *toolkit, img towing.Image) (scanOutput, string, error) {
				kind, err := kit.vision.ClassifyCode(ctx, img)
				if err != nil {
					return scanOutput{}, "", err
				}
				return scanOutput{CodeKind: kind}, "", nil
			})
		},
	}
	for _, sub := range []*cobra.Command{vin, identify} {
		sub.Flags().BoolVar(&followLookup, "lookup", false, "look up towing guidance for the result")
	}

	cmd.AddCommand(vin, identify, classify)
	return cmd
}

type scanFunc func(ctx context.Context, kit *toolkit, img towing.Image) (scanOutput, string, error)

func (a *app) runScan(cmd *cobra.Command, path string, followLookup bool, fn scanFunc) error {
	ctx := cmd.Context()
	img, err := readImage(path, services.DefaultMaxScanBytes)
	if err != nil {
		return err
	}
	kit, err := a.toolkit(ctx)
	if err != nil {
		return err
	}
	out, query, err := fn(ctx, kit, img)
	if err != nil {
		return err
	}
	if followLookup && query != "" {
		result, err := kit.towing.Lookup(ctx, services.LookupCommand{Query: query, Source: domain.SearchSourceCLI})
		if err != nil {
			out.Lookup = &lookupOutput{Query: query, Error: err.Error()}
		} else {
			out.Lookup = &lookupOutput{Query: result.Query, SearchID: result.SearchID, TowingInfo: &result.Info}
		}
	}
	return a.print(cmd.OutOrStdout(), out)
}

func readImage(path string, maxBytes int64) (towing.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return towing.Image{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return towing.Image{}, fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(data)) > maxBytes {
		return towing.Image{}, fmt.Errorf("%s exceeds %d bytes", path, maxBytes)
	}
	if len(data) == 0 {
		return towing.Image{}, fmt.Errorf("%s is empty", path)
	}
	return towing.Image{Data: data}, nil
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"retrofitgki"
)

// writeSummary dumps the composed layout as JSON, in the manner of the
// mkbootimg_args.json files the AOSP unpack tool leaves behind.
func writeSummary(path string, res *retrofitgki.RetrofitResult) error {
	out, err := json.MarshalIndent(res, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(out, '\n'), 0o644)
}

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Print the decoded header and segment layout of boot images",
		ArgsUsage: "IMAGE...",
		Action:    runInspect,
	}
}

func runInspect(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return fmt.Errorf("no images given")
	}
	for _, path := range cmd.Args().Slice() {
		data, closeData, err := mapFile(path)
		if err != nil {
			return err
		}
		err = inspectImage(path, data)
		closeData()
		if err != nil {
			return err
		}
	}
	return nil
}

func inspectImage(path string, data []byte) error {
	if len(data) >= retrofitgki.BOOT_MAGIC_SIZE &&
		string(data[:retrofitgki.BOOT_MAGIC_SIZE]) == retrofitgki.VENDOR_BOOT_MAGIC {
		return inspectVendorBoot(path, data)
	}
	return inspectBoot(path, data)
}

func inspectBoot(path string, data []byte) error {
	img, err := retrofitgki.ParseBootImage(path, data)
	if err != nil {
		return err
	}
	hdr := img.Header
	fmt.Printf("%s:\n", path)
	fmt.Printf("  boot image header version: %d\n", hdr.Version)
	fmt.Printf("  page size: %d\n", hdr.PageSize())
	fmt.Printf("  os version/patch level: %#x\n", hdr.OsVersion())
	for _, seg := range img.Segments {
		if len(seg.Data) == 0 {
			continue
		}
		fmt.Printf("  %s: %s (%s) at offset %#x\n",
			seg.Kind, humanize.IBytes(uint64(len(seg.Data))),
			retrofitgki.SniffFormat(seg.Data), seg.Offset)
	}
	return nil
}

func inspectVendorBoot(path string, data []byte) error {
	img, err := retrofitgki.ParseVendorBootImage(path, data)
	if err != nil {
		return err
	}
	hdr := img.Header
	fmt.Printf("%s:\n", path)
	fmt.Printf("  vendor boot image header version: %d\n", hdr.Version)
	fmt.Printf("  page size: %d\n", hdr.PageSize())
	for _, seg := range img.Segments {
		if len(seg.Data) == 0 {
			continue
		}
		fmt.Printf("  %s: %s (%s) at offset %#x\n",
			seg.Kind, humanize.IBytes(uint64(len(seg.Data))),
			retrofitgki.SniffFormat(seg.Data), seg.Offset)
	}
	return nil
}

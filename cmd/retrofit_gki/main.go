package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/golang/glog"
	"github.com/urfave/cli/v3"

	"retrofitgki"
)

func main() {
	// glog registers its flags on the default FlagSet; none of our own
	// flags live there.
	_ = flag.CommandLine.Parse(nil)
	defer glog.Flush()

	app := &cli.Command{
		Name:  "retrofit_gki",
		Usage: "Retrofit GKI boot artifacts into a single legacy boot image",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "boot",
				Usage:    "path to the certified GKI boot.img",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "init_boot",
				Usage:    "path to the init_boot.img holding the generic ramdisk",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "vendor_boot",
				Usage: "path to the vendor_boot.img (required for --version 2)",
			},
			&cli.IntFlag{
				Name:     "version",
				Usage:    "destination boot image header version (2, 3 or 4)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"o"},
				Usage:    "output boot image path",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "json",
				Usage: "optional path for a JSON summary of the composed layout",
			},
		},
		Action: runRetrofit,
		Commands: []*cli.Command{
			inspectCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// mapFile maps a source image read-only. The engine borrows the mapping
// for the duration of one composition.
func mapFile(path string) (mmap.MMap, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	return m, func() {
		m.Unmap()
		f.Close()
	}, nil
}

func runRetrofit(ctx context.Context, cmd *cli.Command) error {
	req := retrofitgki.RetrofitRequest{
		Version: uint32(cmd.Int("version")),
	}

	boot, closeBoot, err := mapFile(cmd.String("boot"))
	if err != nil {
		return err
	}
	defer closeBoot()
	req.Boot = boot

	initBoot, closeInitBoot, err := mapFile(cmd.String("init_boot"))
	if err != nil {
		return err
	}
	defer closeInitBoot()
	req.InitBoot = initBoot

	if path := cmd.String("vendor_boot"); path != "" {
		vendorBoot, closeVendorBoot, err := mapFile(path)
		if err != nil {
			return err
		}
		defer closeVendorBoot()
		req.VendorBoot = vendorBoot
	}

	glog.V(1).Infof("composing v%d destination from %s + %s",
		req.Version, cmd.String("boot"), cmd.String("init_boot"))

	res, err := retrofitgki.Retrofit(req)
	if err != nil {
		return err
	}
	for _, e := range res.Layout {
		glog.V(1).Infof("  %-14s offset=%#x size=%d padded=%d", e.Name, e.Offset, e.Size, e.PaddedSize)
	}

	output := cmd.String("output")
	if err := os.WriteFile(output, res.Data, 0o644); err != nil {
		return err
	}
	glog.Infof("wrote %s (%d bytes)", output, len(res.Data))

	if path := cmd.String("json"); path != "" {
		if err := writeSummary(path, res); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/fatdisk/fatdisk"
	"github.com/fatdisk/fatdisk/blockdev"
	"github.com/fatdisk/fatdisk/disks"
)

func main() {
	app := cli.App{
		Usage: "Inspect FAT32 disk images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "image",
				Aliases:  []string{"i"},
				Usage:    "path to the disk image",
				Required: true,
			},
			&cli.UintFlag{
				Name:  "sector-size",
				Usage: "sector size of the image in bytes",
				Value: 512,
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "log driver activity to stderr",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "parts",
				Usage:     "List the partitions in the image's MBR",
				Action:    listPartitions,
				ArgsUsage: " ",
			},
			{
				Name:      "ls",
				Usage:     "List a directory",
				Action:    listDirectory,
				ArgsUsage: "PATH",
			},
			{
				Name:      "cat",
				Usage:     "Copy a file's contents to stdout",
				Action:    catFile,
				ArgsUsage: "PATH",
			},
			{
				Name:      "label",
				Usage:     "Show or change a volume label",
				Action:    volumeLabel,
				ArgsUsage: "LETTER [NEW_LABEL]",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func openDevice(ctx *cli.Context, writable bool) (*blockdev.Image, func(), error) {
	flags := os.O_RDONLY
	if writable {
		flags = os.O_RDWR
	}
	file, err := os.OpenFile(ctx.String("image"), flags, 0)
	if err != nil {
		return nil, nil, err
	}
	dev, err := blockdev.NewImage(file, ctx.Uint("sector-size"))
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	dev.SetReadOnly(!writable)
	return dev, func() { file.Close() }, nil
}

func newRegistry(ctx *cli.Context) *fatdisk.Registry {
	var logger *slog.Logger
	if ctx.Bool("verbose") {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	return fatdisk.NewRegistry(logger)
}

func listPartitions(ctx *cli.Context) error {
	dev, closeDev, err := openDevice(ctx, false)
	if err != nil {
		return err
	}
	defer closeDev()

	if err := dev.Initialize(); err != nil {
		return err
	}
	parts, err := fatdisk.ScanDisk(dev)
	if err != nil {
		return err
	}
	for _, part := range parts {
		size := uint64(part.Sectors) * uint64(dev.SectorSize())
		fmt.Printf("%d: type 0x%02X (%s) start %d sectors %d (%s)\n",
			part.Index, part.Type, disks.TypeName(part.Type),
			part.LBA, part.Sectors, humanize.IBytes(size))
	}
	return nil
}

func listDirectory(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return fmt.Errorf("a path like \"C:/\" is required")
	}
	dev, closeDev, err := openDevice(ctx, false)
	if err != nil {
		return err
	}
	defer closeDev()

	registry := newRegistry(ctx)
	if _, err := registry.Mount(dev, fatdisk.MountReadOnly); err != nil {
		return err
	}
	defer registry.Eject(dev)

	dir, err := registry.OpenDir(path)
	if err != nil {
		return err
	}
	defer dir.Close()

	for {
		info, err := dir.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		kind := "-"
		if info.IsDir() {
			kind = "d"
		}
		fmt.Printf("%s %10s  %s  %s\n",
			kind, humanize.IBytes(uint64(info.Size())),
			info.ModTime().Format("2006-01-02 15:04"), info.Name())
	}
}

func catFile(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return fmt.Errorf("a path like \"C:/file.txt\" is required")
	}
	dev, closeDev, err := openDevice(ctx, false)
	if err != nil {
		return err
	}
	defer closeDev()

	registry := newRegistry(ctx)
	if _, err := registry.Mount(dev, fatdisk.MountReadOnly); err != nil {
		return err
	}
	defer registry.Eject(dev)

	file, err := registry.OpenFile(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(os.Stdout, file)
	return err
}

func volumeLabel(ctx *cli.Context) error {
	letter := ctx.Args().First()
	if len(letter) != 1 {
		return fmt.Errorf("a single drive letter is required")
	}
	newLabel := ctx.Args().Get(1)

	dev, closeDev, err := openDevice(ctx, newLabel != "")
	if err != nil {
		return err
	}
	defer closeDev()

	registry := newRegistry(ctx)
	flags := fatdisk.MountFlags(0)
	if newLabel == "" {
		flags = fatdisk.MountReadOnly
	}
	if _, err := registry.Mount(dev, flags); err != nil {
		return err
	}
	defer registry.Eject(dev)

	vol, err := registry.Volume(letter[0])
	if err != nil {
		return err
	}
	if newLabel != "" {
		if err := vol.SetLabel(newLabel); err != nil {
			return err
		}
	}
	fmt.Println(vol.Label())
	return nil
}

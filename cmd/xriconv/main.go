// xriconv 离线工具：由 *_XRI.csv 重新生成 *_XRI.bin，或打印二进制文件头
//
//	xriconv <session-folder | file_XRI.csv> ...
//	xriconv -inspect <file_XRI.bin | file_Shadow.bin> ...
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gowvp/lumen/internal/core/replay"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("xriconv", "err", err)
		os.Exit(1)
	}
}

func run(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("xriconv", flag.ContinueOnError)
	inspect := fs.Bool("inspect", false, "print binary headers instead of converting")
	force := fs.Bool("f", false, "overwrite an existing *_XRI.bin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("no input, usage: xriconv [-f] [-inspect] <path>...")
	}

	var errs []error
	for _, p := range fs.Args() {
		var err error
		if *inspect {
			err = inspectFile(p, w)
		} else {
			err = convert(p, *force, w)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// convert 接受会话目录或 CSV 文件
func convert(path string, force bool, w io.Writer) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	csvs := []string{path}
	if fi.IsDir() {
		csvs, err = filepath.Glob(filepath.Join(path, "*"+replay.PoseCSVSuffix))
		if err != nil {
			return err
		}
		if len(csvs) == 0 {
			return fmt.Errorf("%w: *%s", replay.ErrMissingFile, replay.PoseCSVSuffix)
		}
	} else if !strings.HasSuffix(path, replay.PoseCSVSuffix) {
		return fmt.Errorf("want *%s", replay.PoseCSVSuffix)
	}

	for _, c := range csvs {
		bin := strings.TrimSuffix(c, replay.PoseCSVSuffix) + replay.PoseBinSuffix
		if _, err := os.Stat(bin); err == nil && !force {
			fmt.Fprintf(w, "skip %s (exists, use -f)\n", bin)
			continue
		}
		n, err := replay.ConvertCSV(c, bin)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %d frames\n", bin, n)
	}
	return nil
}

func inspectFile(path string, w io.Writer) error {
	switch {
	case strings.HasSuffix(path, replay.PoseBinSuffix):
		h, err := replay.InspectPose(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: pose v%d frames=%d state=%t\n", path, h.Version, h.FrameCount, h.HasState)
	case strings.HasSuffix(path, replay.MotionBinSuffix):
		h, err := replay.InspectMotion(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: motion v%d bones=%d freq=%d mapped=%d ids=%v\n",
			path, h.Version, h.BoneCount, h.Frequency, h.MappedCount, h.BoneIDs)
	default:
		return fmt.Errorf("unknown file type, want *%s or *%s", replay.PoseBinSuffix, replay.MotionBinSuffix)
	}
	return nil
}

package replay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gowvp/lumen/pkg/binfmt"
)

const (
	PoseBinSuffix   = "_XRI.bin"
	PoseCSVSuffix   = "_XRI.csv"
	MotionBinSuffix = "_Shadow.bin"
)

var (
	ErrMissingFile = errors.New("replay: missing file")
	ErrAmbiguous   = errors.New("replay: more than one candidate file")
	ErrFrequency   = errors.New("replay: invalid clock frequency")
)

// files 回放目录中的三个文件
type files struct {
	poseBin   string
	poseCSV   string
	motionBin string
}

// locate 每类文件最多一个，缺少二进制位姿流时需要 CSV 可用
func locate(folder string) (files, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return files{}, fmt.Errorf("replay: read folder: %w", err)
	}
	var f files
	pick := func(dst *string, name string) error {
		if *dst != "" {
			return fmt.Errorf("%w: %s and %s", ErrAmbiguous, filepath.Base(*dst), name)
		}
		*dst = filepath.Join(folder, name)
		return nil
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		var err error
		switch {
		case strings.HasSuffix(name, PoseBinSuffix):
			err = pick(&f.poseBin, name)
		case strings.HasSuffix(name, PoseCSVSuffix):
			err = pick(&f.poseCSV, name)
		case strings.HasSuffix(name, MotionBinSuffix):
			err = pick(&f.motionBin, name)
		}
		if err != nil {
			return files{}, err
		}
	}
	if f.motionBin == "" {
		return files{}, fmt.Errorf("%w: *%s in %s", ErrMissingFile, MotionBinSuffix, folder)
	}
	if f.poseBin == "" && f.poseCSV == "" {
		return files{}, fmt.Errorf("%w: *%s or *%s in %s", ErrMissingFile, PoseBinSuffix, PoseCSVSuffix, folder)
	}
	return f, nil
}

// Load 读取回放目录并按最小 tick 归一化时间
// 任一文件缺失、魔数错误或记录截断都返回错误，不产生部分会话
func Load(folder string, cfg Config) (*Session, error) {
	f, err := locate(folder)
	if err != nil {
		return nil, err
	}

	var converted bool
	if f.poseBin == "" {
		f.poseBin = strings.TrimSuffix(f.poseCSV, PoseCSVSuffix) + PoseBinSuffix
		if _, err := ConvertCSV(f.poseCSV, f.poseBin); err != nil {
			return nil, err
		}
		converted = true
	}

	ph, poses, err := readPose(f.poseBin)
	if err != nil {
		return nil, err
	}
	mh, motion, err := readMotion(f.motionBin)
	if err != nil {
		return nil, err
	}
	if mh.Frequency <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrFrequency, mh.Frequency)
	}

	s := Session{
		Folder:       folder,
		PoseHeader:   ph,
		MotionHeader: mh,
		Converted:    converted,
		cfg:          cfg,
	}
	s.normalize(poses, motion)
	return &s, nil
}

func readPose(path string) (binfmt.PoseHeader, []binfmt.PoseRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return binfmt.PoseHeader{}, nil, fmt.Errorf("replay: %w", err)
	}
	defer file.Close()
	h, recs, err := binfmt.ReadPoseStream(file)
	if err != nil {
		return h, nil, fmt.Errorf("replay: %s: %w", filepath.Base(path), err)
	}
	return h, recs, nil
}

func readMotion(path string) (binfmt.MotionHeader, []binfmt.MotionFrame, error) {
	file, err := os.Open(path)
	if err != nil {
		return binfmt.MotionHeader{}, nil, fmt.Errorf("replay: %w", err)
	}
	defer file.Close()
	h, frames, err := binfmt.ReadMotionStream(file)
	if err != nil {
		return h, nil, fmt.Errorf("replay: %s: %w", filepath.Base(path), err)
	}
	return h, frames, nil
}

// InspectPose 只读取位姿流文件头
func InspectPose(path string) (binfmt.PoseHeader, error) {
	file, err := os.Open(path)
	if err != nil {
		return binfmt.PoseHeader{}, err
	}
	defer file.Close()
	return binfmt.ReadPoseHeader(file)
}

// InspectMotion 只读取动捕流文件头
func InspectMotion(path string) (binfmt.MotionHeader, error) {
	file, err := os.Open(path)
	if err != nil {
		return binfmt.MotionHeader{}, err
	}
	defer file.Close()
	return binfmt.ReadMotionHeader(file)
}

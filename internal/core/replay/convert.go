package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gowvp/lumen/internal/core/capture"
	"github.com/gowvp/lumen/pkg/binfmt"
)

// ConvertCSV 由位姿 CSV 重新生成二进制位姿流，返回写入的帧数
// 缺少必需列时立即失败，失败时删除未完成的输出文件
func ConvertCSV(csvPath, binPath string) (n int, err error) {
	in, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("replay: %w", err)
	}
	defer in.Close()

	r := csv.NewReader(in)
	r.ReuseRecord = true
	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("replay: read csv header: %w", err)
	}
	dec, err := capture.NewRowDecoder(header)
	if err != nil {
		return 0, err
	}
	r.FieldsPerRecord = len(header)

	out, err := os.Create(binPath)
	if err != nil {
		return 0, fmt.Errorf("replay: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(binPath)
		}
	}()

	w, err := binfmt.NewPoseWriter(out, true)
	if err != nil {
		return 0, err
	}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("replay: csv row %d: %w", w.Count()+1, err)
		}
		rec, err := dec.Decode(row)
		if err != nil {
			return 0, fmt.Errorf("replay: csv row %d: %w", w.Count()+1, err)
		}
		if err := w.Write(&rec); err != nil {
			return 0, err
		}
	}
	if err := w.Finish(); err != nil {
		return 0, err
	}
	return w.Count(), nil
}

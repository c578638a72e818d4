package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"stack2bin/internal/models"
)

// PlaneRecord is the per-plane metadata persisted next to the binary store
// at the end of a run. Shape and frame counts live here because the store
// itself is a headerless sample stream.
type PlaneRecord struct {
	Plane           int       `yaml:"plane"`
	Ly              int       `yaml:"ly"`
	Lx              int       `yaml:"lx"`
	NFrames         int       `yaml:"nframes"`
	FramesPerFile   []int     `yaml:"framesPerFile"`
	FramesPerFolder []int     `yaml:"framesPerFolder"`
	MeanImg         []float64 `yaml:"meanImg,flow"`
	MeanImgChan2    []float64 `yaml:"meanImgChan2,flow,omitempty"`
	BinPath         string    `yaml:"binPath"`
	Chan2Path       string    `yaml:"chan2Path,omitempty"`
}

// WriteRecord persists a finalized plane result as YAML at path.
func WriteRecord(res *models.PlaneResult, path string) error {
	rec := PlaneRecord{
		Plane:           res.Plane,
		Ly:              res.Ly,
		Lx:              res.Lx,
		NFrames:         res.NFrames,
		FramesPerFile:   res.FramesPerFile,
		FramesPerFolder: res.FramesPerFolder,
		MeanImg:         res.MeanImg,
		MeanImgChan2:    res.MeanImgChan2,
		BinPath:         res.BinPath,
		Chan2Path:       res.Chan2Path,
	}
	data, err := yaml.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("error marshaling plane record: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing plane record: %w", err)
	}
	return nil
}

// ReadRecord loads a previously written plane record.
func ReadRecord(path string) (*PlaneRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading plane record: %w", err)
	}
	rec := &PlaneRecord{}
	if err := yaml.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("error parsing plane record: %w", err)
	}
	return rec, nil
}

package pipeline

import (
	"path/filepath"

	"fraud-pipeline/internal/cfg"
	"fraud-pipeline/internal/common"
)

// Layout resolves the on-disk file handoff between stages.
type Layout struct {
	Root           string
	RawFile        string
	ClassifiersDir string
	ModelFile      string
}

func NewLayout(s *cfg.Settings) Layout {
	classifiers := s.ClassifiersDir
	if !filepath.IsAbs(classifiers) {
		classifiers = filepath.Join(s.DataRoot, classifiers)
	}
	return Layout{
		Root:           s.DataRoot,
		RawFile:        s.RawFile,
		ClassifiersDir: classifiers,
		ModelFile:      s.Model.ModelFile,
	}
}

func (l Layout) RawDir() string       { return filepath.Join(l.Root, common.RawDir) }
func (l Layout) RawPath() string      { return filepath.Join(l.RawDir(), l.RawFile) }
func (l Layout) TrainTestDir() string { return filepath.Join(l.RawDir(), common.TrainTestDir) }
func (l Layout) TrainPath() string    { return filepath.Join(l.TrainTestDir(), common.TrainFile) }
func (l Layout) TestPath() string     { return filepath.Join(l.TrainTestDir(), common.TestFile) }
func (l Layout) CleanDir() string     { return filepath.Join(l.Root, common.CleanDir) }
func (l Layout) ProcessedDir() string { return filepath.Join(l.Root, common.ProcessedDir) }
func (l Layout) ScaledDir() string    { return filepath.Join(l.ProcessedDir(), common.ScaledDir) }
func (l Layout) RUSDir() string       { return filepath.Join(l.ProcessedDir(), common.RUSDir) }
func (l Layout) TomekDir() string     { return filepath.Join(l.ProcessedDir(), common.TomekDir) }
func (l Layout) ReportsDir() string   { return filepath.Join(l.Root, common.ReportsDir) }
func (l Layout) ModelPath() string    { return filepath.Join(l.ClassifiersDir, l.ModelFile) }

// VersionPath is where a registered model version keeps its own artifact.
func (l Layout) VersionPath(version string) string {
	return filepath.Join(l.ClassifiersDir, common.VersionsDir, version+filepath.Ext(l.ModelFile))
}

// StageIO overrides where one stage reads and writes. Empty fields keep the
// layout defaults.
type StageIO struct {
	Src    string // source file name, or an absolute path
	SrcDir string
	DstDir string
	SortBy string
	Scaler string // scaler state file; "-" marks the input as unscaled
}

// NoScaler is the Scaler value for inputs that were never robust scaled.
const NoScaler = "-"

// scalerBeside resolves the scaler state for a stage reading src: the explicit
// path when set, else the state file in src's directory.
func (sio StageIO) scalerBeside(src string) string {
	if sio.Scaler != "" {
		return sio.Scaler
	}
	return filepath.Join(filepath.Dir(src), common.ScalerFile)
}

func (sio StageIO) source(defDir, defFile string) string {
	if sio.Src != "" && filepath.IsAbs(sio.Src) {
		return sio.Src
	}
	dir, file := defDir, defFile
	if sio.SrcDir != "" {
		dir = sio.SrcDir
	}
	if sio.Src != "" {
		file = sio.Src
	}
	return filepath.Join(dir, file)
}

func (sio StageIO) dest(defDir string) string {
	if sio.DstDir != "" {
		return sio.DstDir
	}
	return defDir
}

func (sio StageIO) sortBy(def string) string {
	if sio.SortBy != "" {
		return sio.SortBy
	}
	return def
}

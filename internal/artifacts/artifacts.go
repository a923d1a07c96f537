// Package artifacts owns the on-disk layout of job directories: uploaded
// inputs, the staging directory a sandbox run writes into, and the published
// outputs a client can download. Outputs only become visible through an
// atomic rename, so a job's artifacts are either absent or complete.
package artifacts

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"deskforge/internal/store"
)

var (
	// ErrNotFound reports an artifact name outside the job's vocabulary or a
	// vocabulary name whose file does not exist.
	ErrNotFound = errors.New("artifact not found")
)

// MissingError lists the required artifacts a sandbox run failed to produce.
type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required artifacts: %s", strings.Join(e.Names, ", "))
}

// CodeFilename is the accepted generated script, published alongside the
// run's outputs.
const CodeFilename = "generated.star"

// SummaryFilename mirrors the harness constant.
const SummaryFilename = "summary.json"

// ReportFilename is the composed markdown for report jobs.
const ReportFilename = "report.md"

// Info describes one artifact for listings.
type Info struct {
	Name      string
	Required  bool
	Exists    bool
	SizeBytes int64
}

// Manager lays jobs out as <root>/<job-id>/{inputs,staging,outputs}.
type Manager struct {
	root string
}

func NewManager(root string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("bad data dir %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return &Manager{root: abs}, nil
}

func (m *Manager) jobDir(jobID string) string {
	return filepath.Join(m.root, jobID)
}

// InputsDir holds the uploaded files for a job, kept after completion so the
// original inputs stay downloadable.
func (m *Manager) InputsDir(jobID string) string {
	return filepath.Join(m.jobDir(jobID), "inputs")
}

// StagingDir is the sandbox's output directory. It is discarded on failure
// and renamed to OutputsDir on success.
func (m *Manager) StagingDir(jobID string) string {
	return filepath.Join(m.jobDir(jobID), "staging")
}

// OutputsDir is the published artifact directory.
func (m *Manager) OutputsDir(jobID string) string {
	return filepath.Join(m.jobDir(jobID), "outputs")
}

// SaveInput streams one uploaded file into the job's inputs directory. The
// stored name is the base name of the upload; traversal in client-supplied
// filenames is stripped, not honored.
func (m *Manager) SaveInput(jobID, filename string, r io.Reader) (int64, error) {
	name := filepath.Base(filepath.Clean(filename))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return 0, fmt.Errorf("invalid input filename %q", filename)
	}
	dir := m.InputsDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create inputs dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return 0, fmt.Errorf("failed to create input file: %w", err)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return n, fmt.Errorf("failed to write input file: %w", err)
	}
	return n, f.Close()
}

// InputPaths resolves the stored paths for a job's input filenames.
func (m *Manager) InputPaths(jobID string, filenames []string) []string {
	paths := make([]string, len(filenames))
	for i, name := range filenames {
		paths[i] = filepath.Join(m.InputsDir(jobID), filepath.Base(name))
	}
	return paths
}

// BeginStaging returns a fresh staging directory, removing any remnant of an
// earlier attempt.
func (m *Manager) BeginStaging(jobID string) (string, error) {
	dir := m.StagingDir(jobID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to clear staging dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging dir: %w", err)
	}
	return dir, nil
}

// WriteCode places the accepted script into staging so it is published with
// the rest of the run's outputs.
func (m *Manager) WriteCode(jobID string, source []byte) error {
	return os.WriteFile(filepath.Join(m.StagingDir(jobID), CodeFilename), source, 0o644)
}

// PrimaryOutputName is the transform output's filename, which follows the
// input's extension. Other kinds have no single primary output.
func PrimaryOutputName(kind store.JobKind, inputFilename string) string {
	if kind != store.KindSpreadsheetTransform {
		return ""
	}
	ext := filepath.Ext(inputFilename)
	if ext == "" {
		ext = ".xlsx"
	}
	return "output" + ext
}

// RequiredNames is the per-kind required artifact vocabulary.
func RequiredNames(kind store.JobKind, primaryOutput string) []string {
	switch kind {
	case store.KindSpreadsheetTransform:
		return []string{primaryOutput, SummaryFilename, CodeFilename}
	case store.KindReport:
		return []string{ReportFilename, SummaryFilename, CodeFilename}
	default:
		return []string{SummaryFilename, CodeFilename}
	}
}

// Collect verifies the staging directory against the kind's required
// vocabulary and the output size ceiling, then publishes it with a single
// rename. A required file that exists but is empty counts as missing. On
// any error staging is left in place for inspection.
func (m *Manager) Collect(jobID string, kind store.JobKind, primaryOutput string, maxBytes int64) error {
	staging := m.StagingDir(jobID)

	var missing []string
	for _, name := range RequiredNames(kind, primaryOutput) {
		info, err := os.Stat(filepath.Join(staging, name))
		if err != nil || info.IsDir() || info.Size() == 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Names: missing}
	}

	if maxBytes > 0 {
		total, err := dirSize(staging)
		if err != nil {
			return fmt.Errorf("failed to measure outputs: %w", err)
		}
		if total > maxBytes {
			return fmt.Errorf("outputs exceed the %d MB ceiling", maxBytes/(1024*1024))
		}
	}

	outputs := m.OutputsDir(jobID)
	if err := os.RemoveAll(outputs); err != nil {
		return fmt.Errorf("failed to clear outputs dir: %w", err)
	}
	if err := os.Rename(staging, outputs); err != nil {
		return fmt.Errorf("failed to publish outputs: %w", err)
	}
	return nil
}

// List enumerates the kind's vocabulary plus any extra published files, with
// existence and size for each, inputs included.
func (m *Manager) List(jobID string, kind store.JobKind, primaryOutput string, inputFilenames []string) ([]Info, error) {
	outputs := m.OutputsDir(jobID)
	required := RequiredNames(kind, primaryOutput)

	seen := make(map[string]bool, len(required))
	infos := make([]Info, 0, len(required)+len(inputFilenames))
	for _, name := range required {
		seen[name] = true
		infos = append(infos, statInfo(filepath.Join(outputs, name), name, true))
	}

	entries, err := os.ReadDir(outputs)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read outputs dir: %w", err)
	}
	var extra []Info
	for _, entry := range entries {
		if entry.IsDir() || seen[entry.Name()] {
			continue
		}
		extra = append(extra, statInfo(filepath.Join(outputs, entry.Name()), entry.Name(), false))
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Name < extra[j].Name })
	infos = append(infos, extra...)

	for _, name := range inputFilenames {
		base := filepath.Base(name)
		infos = append(infos, statInfo(filepath.Join(m.InputsDir(jobID), base), "inputs/"+base, false))
	}
	return infos, nil
}

func statInfo(path, name string, required bool) Info {
	info := Info{Name: name, Required: required}
	if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
		info.Exists = true
		info.SizeBytes = fi.Size()
	}
	return info
}

// Resolve maps an artifact name from a request to its file path. Names are
// either a published output file or "inputs/<original-filename>"; anything
// else, including traversal attempts, is ErrNotFound.
func (m *Manager) Resolve(jobID, name string) (string, error) {
	dir := m.OutputsDir(jobID)
	rel := name
	if after, ok := strings.CutPrefix(name, "inputs/"); ok {
		dir = m.InputsDir(jobID)
		rel = after
	}
	if rel == "" || rel != filepath.Base(filepath.Clean(rel)) {
		return "", ErrNotFound
	}
	path := filepath.Join(dir, rel)
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return "", ErrNotFound
	}
	return path, nil
}

// Remove deletes everything stored for a job.
func (m *Manager) Remove(jobID string) error {
	return os.RemoveAll(m.jobDir(jobID))
}

// ContentType picks a response content type from the artifact's extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".md", ".star", ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

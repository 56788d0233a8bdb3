// Package artifacts writes per-iteration files under the experiment folder.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/animus-labs/qmt/internal/domain"
	"github.com/animus-labs/qmt/internal/platform/objectstore"
)

const (
	KindSource       = "source"
	KindFollowup     = "followup"
	KindMetadata     = "metadata"
	KindMetadataExec = "metadata_exec"
	KindScans        = "scans"
)

// DefaultFolderStructure maps each artifact kind to its folder relative to
// the experiment root.
func DefaultFolderStructure() map[string]string {
	return map[string]string{
		KindSource:       "programs/source",
		KindFollowup:     "programs/followup",
		KindMetadata:     "programs/metadata",
		KindMetadataExec: "programs/metadata_exec",
		KindScans:        "scans",
	}
}

type Layout struct {
	Root    string
	folders map[string]string
}

// NewLayout fills kinds missing from folders with the defaults.
func NewLayout(root string, folders map[string]string) (Layout, error) {
	if strings.TrimSpace(root) == "" {
		return Layout{}, errors.New("experiment folder is required")
	}
	merged := DefaultFolderStructure()
	for kind, dir := range folders {
		if _, known := merged[kind]; !known {
			return Layout{}, fmt.Errorf("unknown folder kind %q", kind)
		}
		dir = filepath.Clean(dir)
		if filepath.IsAbs(dir) || dir == ".." || strings.HasPrefix(dir, ".."+string(filepath.Separator)) {
			return Layout{}, fmt.Errorf("folder %q for %s must stay inside the experiment folder", dir, kind)
		}
		merged[kind] = dir
	}
	return Layout{Root: root, folders: merged}, nil
}

func (l Layout) Dir(kind string) string {
	return filepath.Join(l.Root, l.folders[kind])
}

func (l Layout) Path(kind, programID, ext string) string {
	return filepath.Join(l.Dir(kind), programID+"."+ext)
}

// Setup creates every folder of the layout.
func (l Layout) Setup() error {
	for kind := range l.folders {
		if err := os.MkdirAll(l.Dir(kind), 0o755); err != nil {
			return fmt.Errorf("create %s folder: %w", kind, err)
		}
	}
	return nil
}

// Writer puts artifacts on disk and, when a mirror is configured, copies each
// one to the object store.
type Writer struct {
	layout Layout
	mirror objectstore.Store
	prefix string
	logger *slog.Logger
}

func NewWriter(layout Layout, mirror objectstore.Store, prefix string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{layout: layout, mirror: mirror, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// WriteProgram stores a program's text and returns its path.
func (w *Writer) WriteProgram(ctx context.Context, kind string, p domain.Program) (string, error) {
	if kind != KindSource && kind != KindFollowup {
		return "", fmt.Errorf("unknown program kind %q", kind)
	}
	return w.write(ctx, kind, p.ID, "py", []byte(p.Text), "text/x-python")
}

// WriteMetadata stores the full iteration record, rule-specific metadata
// included.
func (w *Writer) WriteMetadata(ctx context.Context, rec domain.Record) (string, error) {
	return w.writeJSON(ctx, KindMetadata, rec.ProgramID, rec)
}

// ExecMetadata is the execution-only view of an iteration.
type ExecMetadata struct {
	ProgramID  string                 `json:"program_id"`
	ResA       domain.ExecutionResult `json:"res_A"`
	ResB       domain.ExecutionResult `json:"res_B"`
	Exceptions domain.Exceptions      `json:"exceptions"`
	Divergence []domain.Verdict       `json:"divergence"`
}

func (w *Writer) WriteExecMetadata(ctx context.Context, rec domain.Record) (string, error) {
	return w.writeJSON(ctx, KindMetadataExec, rec.ProgramID, ExecMetadata{
		ProgramID:  rec.ProgramID,
		ResA:       rec.SourceResult,
		ResB:       rec.FollowupResult,
		Exceptions: rec.Exceptions,
		Divergence: rec.Divergence,
	})
}

// WriteScanReport stores the history scan that followed programID.
func (w *Writer) WriteScanReport(ctx context.Context, programID string, report any) (string, error) {
	return w.writeJSON(ctx, KindScans, programID, report)
}

func (w *Writer) writeJSON(ctx context.Context, kind, programID string, v any) (string, error) {
	blob, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", kind, err)
	}
	return w.write(ctx, kind, programID, "json", append(blob, '\n'), "application/json")
}

func (w *Writer) write(ctx context.Context, kind, programID, ext string, data []byte, contentType string) (string, error) {
	if strings.TrimSpace(programID) == "" || strings.ContainsAny(programID, `/\`) {
		return "", fmt.Errorf("invalid program id %q", programID)
	}
	p := w.layout.Path(kind, programID, ext)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", kind, err)
	}
	if w.mirror != nil {
		key := path.Join(w.prefix, filepath.ToSlash(w.layout.folders[kind]), programID+"."+ext)
		if err := w.mirror.Put(ctx, key, data, contentType); err != nil {
			w.logger.Warn("artifact mirror failed", "kind", kind, "program_id", programID, "key", key, "error", err)
		}
	}
	return p, nil
}

// Package backup exports the portal namespace to a JSON file and restores it,
// optionally mirroring every export to a git history and to object storage.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"portal/internal/events"
	"portal/internal/gitrepo"
	"portal/internal/keycodec"
	"portal/internal/localstore"
	"portal/internal/logging"
	"portal/internal/scheduler"
)

var (
	ErrHistoryDisabled = errors.New("backup history is not configured")
	ErrArchiveDisabled = errors.New("backup archive is not configured")
	ErrBackupTooLarge  = errors.New("backup file is too large")
)

// maxImportSize caps uploaded backup files.
const maxImportSize = 16 << 20

type File struct {
	Name string
	Data []byte
}

// History is the version store behind RestoreRevision. *gitrepo.Service implements it.
type History interface {
	Commit(data []byte, message string, when time.Time) (gitrepo.Revision, bool, error)
	History(limit int) ([]gitrepo.Revision, error)
	Snapshot(revision string) ([]byte, error)
}

type Options struct {
	Store   localstore.Store
	Bus     *events.Bus
	Clock   scheduler.Clock
	History History
	Archive Archiver
	Logger  *logging.Logger
}

type Service struct {
	store   localstore.Store
	bus     *events.Bus
	clock   scheduler.Clock
	history History
	archive Archiver
	log     *logging.Logger
}

func New(opts Options) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = scheduler.RealClock()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Service{
		store:   opts.Store,
		bus:     opts.Bus,
		clock:   clock,
		history: opts.History,
		archive: opts.Archive,
		log:     log.With("component", "backup"),
	}
}

// FileName is the download name for a backup taken at the given date.
func FileName(when time.Time) string {
	return "lms-backup-" + when.UTC().Format("2006-01-02") + ".json"
}

// Export collects every backup key into a pretty-printed JSON object.
// localstore.ErrNothingToExport is returned when the namespace holds nothing to back up.
// A configured history records the snapshot; a history failure is logged, not returned.
func (s *Service) Export(ctx context.Context) (File, error) {
	snapshot, err := localstore.ExportSnapshot(ctx, s.store, keycodec.BackupFilter)
	if err != nil {
		return File{}, err
	}
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return File{}, fmt.Errorf("encode backup: %w", err)
	}

	now := s.clock.Now()
	file := File{Name: FileName(now), Data: data}
	if s.history != nil {
		rev, created, err := s.history.Commit(data, "Backup "+now.UTC().Format(time.RFC3339), now)
		if err != nil {
			s.log.Warn("backup history commit failed", "error", err)
		} else if created {
			s.log.Info("backup recorded", "revision", rev.ShortHash, "keys", len(snapshot))
		}
	}
	return file, nil
}

// Import restores a backup file. Nothing is written when the file does not parse.
func (s *Service) Import(ctx context.Context, r io.Reader) (int, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxImportSize+1))
	if err != nil {
		return 0, fmt.Errorf("read backup: %w", err)
	}
	if len(raw) > maxImportSize {
		return 0, fmt.Errorf("%w: limit is %d bytes", ErrBackupTooLarge, maxImportSize)
	}
	return s.importRaw(ctx, raw, "file")
}

// encodeSnapshot indents by two spaces and leaves markup unescaped.
func encodeSnapshot(snapshot map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (s *Service) importRaw(ctx context.Context, raw []byte, source string) (int, error) {
	count, err := localstore.ImportSnapshot(ctx, s.store, raw)
	if err != nil {
		return count, err
	}
	s.log.Info("backup imported", "source", source, "keys", count)
	if s.bus != nil {
		s.bus.Publish(events.Event{Topic: events.StoreImported, Payload: count})
	}
	return count, nil
}

func (s *Service) HistoryEnabled() bool { return s.history != nil }

func (s *Service) ArchiveEnabled() bool { return s.archive != nil }

// History lists recorded snapshots, newest first.
func (s *Service) History(limit int) ([]gitrepo.Revision, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.History(limit)
}

// RestoreRevision imports the snapshot recorded at revision.
func (s *Service) RestoreRevision(ctx context.Context, revision string) (int, error) {
	if s.history == nil {
		return 0, ErrHistoryDisabled
	}
	raw, err := s.history.Snapshot(revision)
	if err != nil {
		return 0, err
	}
	return s.importRaw(ctx, raw, "history:"+revision)
}

// Archive exports and uploads the result, returning the object name.
func (s *Service) Archive(ctx context.Context) (string, error) {
	if s.archive == nil {
		return "", ErrArchiveDisabled
	}
	file, err := s.Export(ctx)
	if err != nil {
		return "", err
	}
	name, err := s.archive.Upload(ctx, file)
	if err != nil {
		return "", err
	}
	s.log.Info("backup archived", "object", name, "bytes", len(file.Data))
	return name, nil
}

// Restore downloads an archived backup and imports it.
func (s *Service) Restore(ctx context.Context, objectName string) (int, error) {
	if s.archive == nil {
		return 0, ErrArchiveDisabled
	}
	raw, err := s.archive.Download(ctx, objectName)
	if err != nil {
		return 0, err
	}
	return s.importRaw(ctx, raw, "archive:"+objectName)
}

// Archived lists the archived backups of this profile.
func (s *Service) Archived(ctx context.Context) ([]ArchivedObject, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	return s.archive.List(ctx)
}

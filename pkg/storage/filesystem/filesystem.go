package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/nicktill/tixcondenser/pkg/report"
	"github.com/nicktill/tixcondenser/pkg/storage"
)

// Report file naming and permissions
const (
	ReportsFilePrefix    = "tix-report"
	ReportsFileExtension = "json"

	DirectoryPermissions fs.FileMode = 0o750
	FilePermissions      fs.FileMode = 0o640

	// tempFilePattern names partial writes; they never match reportsFilePattern
	tempFilePattern = "." + ReportsFilePrefix + "-*.tmp"
	corruptSuffix   = ".corrupt"
)

var reportsFilePattern = regexp.MustCompile(`^` + ReportsFilePrefix + `-(\d+)\.` + ReportsFileExtension + `$`)

// ReportFileName returns the file name holding the report that starts at ts
func ReportFileName(ts int64) string {
	return fmt.Sprintf("%s-%d.%s", ReportsFilePrefix, ts, ReportsFileExtension)
}

// Storage persists one installation's reports as one file per report under
// {base}/{userId}/{installationId}/.
type Storage struct {
	basePath       string
	userID         int64
	installationID int64
	codec          report.Codec

	// starts mirrors the directory listing, ascending
	starts []int64
}

// Open loads the store for an installation. A missing directory is not an
// error, it is created on the first Append. Leftover partial writes are
// removed and report files that do not decode are renamed aside with a
// .corrupt suffix, so they never block extraction.
func Open(basePath string, userID, installationID int64) (*Storage, error) {
	s := &Storage{
		basePath:       basePath,
		userID:         userID,
		installationID: installationID,
	}

	entries, err := os.ReadDir(s.reportDirectory())
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list reports of installation %d: %w", installationID, err)
	}

	log.Printf("Loading reports directory (user %d, installation %d)", userID, installationID)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(tempFilePattern, entry.Name()); ok {
			log.Printf("Removing partial report file %s", entry.Name())
			os.Remove(filepath.Join(s.reportDirectory(), entry.Name()))
			continue
		}
		match := reportsFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		ts, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			log.Printf("Skipping report file %s: %v", entry.Name(), err)
			continue
		}
		if err := s.check(ts); err != nil {
			log.Printf("Report file %s is corrupt, moving it aside: %v", entry.Name(), err)
			path := s.reportFile(ts)
			if err := os.Rename(path, path+corruptSuffix); err != nil {
				return nil, fmt.Errorf("%w: cannot quarantine %s: %v", storage.ErrStorageIntegrity, path, err)
			}
			continue
		}
		s.starts = append(s.starts, ts)
	}
	sort.Slice(s.starts, func(i, j int) bool { return s.starts[i] < s.starts[j] })
	log.Printf("Reports directory (user %d, installation %d) loaded with %d reports", userID, installationID, len(s.starts))

	return s, nil
}

// UserID returns the owning user
func (s *Storage) UserID() int64 { return s.userID }

// InstallationID returns the owning installation
func (s *Storage) InstallationID() int64 { return s.installationID }

// SampleStartTimes returns a copy of the stored start timestamps
func (s *Storage) SampleStartTimes() []int64 {
	out := make([]int64, len(s.starts))
	copy(out, s.starts)
	return out
}

// Append writes the report file. The file is created exclusively, an
// existing file is left untouched and reported as ErrDuplicateKey.
func (s *Storage) Append(ctx context.Context, r report.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDirectory(); err != nil {
		return err
	}

	ts := r.StartTimestamp()
	path := s.reportFile(ts)
	data, err := s.codec.Serialize(r)
	if err != nil {
		return err
	}

	// Write aside, then link into place: the final name only ever holds a
	// complete file, and Link fails if it already exists
	tmp, err := os.CreateTemp(s.reportDirectory(), tempFilePattern)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write report file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync report file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close report file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), FilePermissions); err != nil {
		return fmt.Errorf("failed to set report file permissions: %w", err)
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			log.Printf("Report file %s already exists, not writing to disk", path)
			return fmt.Errorf("%w: installation %d, timestamp %d", storage.ErrDuplicateKey, s.installationID, ts)
		}
		return fmt.Errorf("failed to link report file: %w", err)
	}

	s.starts = insertSorted(s.starts, ts)
	return nil
}

// Get reads reports in request order
func (s *Storage) Get(ctx context.Context, timestamps []int64) ([]report.Report, error) {
	results := make([]report.Report, 0, len(timestamps))
	for _, ts := range timestamps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(s.reportFile(ts))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: installation %d, timestamp %d", storage.ErrNotFound, s.installationID, ts)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read report file: %w", err)
		}
		r, err := s.codec.Deserialize(data)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// check decodes the report file starting at ts
func (s *Storage) check(ts int64) error {
	data, err := os.ReadFile(s.reportFile(ts))
	if err != nil {
		return err
	}
	_, err = s.codec.Deserialize(data)
	return err
}

// Delete removes report files, missing files are ignored
func (s *Storage) Delete(ctx context.Context, timestamps []int64) error {
	removed := make(map[int64]struct{}, len(timestamps))
	defer func() { s.starts = removeAll(s.starts, removed) }()

	for _, ts := range timestamps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(s.reportFile(ts)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete report file: %w", err)
		}
		removed[ts] = struct{}{}
	}
	return nil
}

// ensureDirectory asserts the installation directory exists, creating it
// when absent. Anything else is a storage integrity failure.
func (s *Storage) ensureDirectory() error {
	dir := s.reportDirectory()

	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return fmt.Errorf("%w: %s is not a directory", storage.ErrStorageIntegrity, dir)
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s: %v", storage.ErrStorageIntegrity, dir, err)
	}

	log.Printf("Creating reports directory %s", dir)
	if err := os.MkdirAll(dir, DirectoryPermissions); err != nil {
		return fmt.Errorf("%w: %s: %v", storage.ErrStorageIntegrity, dir, err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s vanished after creation", storage.ErrStorageIntegrity, dir)
	}
	return nil
}

func (s *Storage) reportDirectory() string {
	return filepath.Join(s.basePath,
		strconv.FormatInt(s.userID, 10),
		strconv.FormatInt(s.installationID, 10))
}

func (s *Storage) reportFile(ts int64) string {
	return filepath.Join(s.reportDirectory(), ReportFileName(ts))
}

func insertSorted(starts []int64, ts int64) []int64 {
	i := sort.Search(len(starts), func(i int) bool { return starts[i] >= ts })
	starts = append(starts, 0)
	copy(starts[i+1:], starts[i:])
	starts[i] = ts
	return starts
}

func removeAll(starts []int64, remove map[int64]struct{}) []int64 {
	if len(remove) == 0 {
		return starts
	}
	filtered := starts[:0]
	for _, ts := range starts {
		if _, ok := remove[ts]; !ok {
			filtered = append(filtered, ts)
		}
	}
	return filtered
}

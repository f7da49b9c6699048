package alarms

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
	"github.com/oshokin/alarm-bridge/internal/logger"
)

// DefaultFilePermissions is used when the registry file is written.
const DefaultFilePermissions = 0o600

// fileDocument is the YAML layout of the registry file.
type fileDocument struct {
	// Alarms lists every live alarm.
	Alarms []fileAlarm `yaml:"alarms"`
}

// fileAlarm is one YAML entry.
type fileAlarm struct {
	// ID is the alarm id.
	ID string `yaml:"id"`
	// State is a state name accepted by domain.ParseState.
	State string `yaml:"state"`
	// FireDate is an RFC 3339 instant, empty for relative alarms.
	FireDate string `yaml:"fire_date,omitempty"`
}

// File reads alarms from a YAML file maintained by another process and
// pushes a notification whenever the file changes on disk.
type File struct {
	// path is the filesystem location of the registry.
	path string
	// mu serializes reads and writes done through this value.
	mu sync.Mutex
}

// NewFile creates a registry backed by path.
func NewFile(path string) *File {
	return &File{
		path: filepath.Clean(path),
	}
}

// Path returns the registry location.
func (f *File) Path() string {
	return f.path
}

// CurrentAlarms reads and parses the file. A missing file is an empty registry.
func (f *File) CurrentAlarms(_ context.Context) ([]domain.Alarm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read alarm file: %w", err)
	}

	var doc fileDocument
	if err = yaml.Unmarshal(contents, &doc); err != nil {
		return nil, fmt.Errorf("decode alarm file: %w", err)
	}

	result := make([]domain.Alarm, 0, len(doc.Alarms))

	for i, entry := range doc.Alarms {
		a, err := entry.toDomain()
		if err != nil {
			return nil, fmt.Errorf("alarm #%d: %w", i+1, err)
		}

		result = append(result, a)
	}

	return result, nil
}

// Save replaces the file content with alarms. The write goes through a
// temporary file and a rename so readers never see a partial document.
func (f *File) Save(_ context.Context, alarms []domain.Alarm) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc := fileDocument{Alarms: make([]fileAlarm, 0, len(alarms))}
	for _, a := range alarms {
		doc.Alarms = append(doc.Alarms, fromDomain(a))
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode alarm file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("create temporary alarm file: %w", err)
	}

	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write alarm file: %w", err)
	}

	if err = tmp.Chmod(DefaultFilePermissions); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod alarm file: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close alarm file: %w", err)
	}

	if err = os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace alarm file: %w", err)
	}

	return nil
}

// Watch notifies on every create, write, rename or removal of the file.
// The parent directory is watched so atomic replacements are seen too.
func (f *File) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	if err = watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}

	out := make(chan struct{}, 1)
	ctx = logger.WithKV(ctx, "alarm_file", f.path)

	go func() {
		defer close(out)

		defer func() {
			_ = watcher.Close()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if filepath.Clean(event.Name) != f.path {
					continue
				}

				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}

				logger.DebugKV(ctx, "Alarm file changed", "op", event.Op.String())

				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}

				logger.WarnKV(ctx, "Alarm file watcher error", "error", err)
			}
		}
	}()

	return out, nil
}

// toDomain validates and converts a YAML entry.
func (e fileAlarm) toDomain() (domain.Alarm, error) {
	if e.ID == "" {
		return domain.Alarm{}, errors.New("missing id")
	}

	state, err := domain.ParseState(e.State)
	if err != nil {
		return domain.Alarm{}, err
	}

	a := domain.Alarm{ID: e.ID, State: state}

	if e.FireDate != "" {
		fireDate, err := time.Parse(time.RFC3339, e.FireDate)
		if err != nil {
			return domain.Alarm{}, fmt.Errorf("parse fire_date: %w", err)
		}

		a.FireDate = &fireDate
	}

	return a, nil
}

// fromDomain converts an alarm into a YAML entry.
func fromDomain(a domain.Alarm) fileAlarm {
	entry := fileAlarm{ID: a.ID, State: a.State.String()}
	if a.FireDate != nil {
		entry.FireDate = a.FireDate.UTC().Format(time.RFC3339)
	}

	return entry
}

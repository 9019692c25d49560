package labclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/tyemirov/labcommons/pkg/authstate"
)

const (
	credentialsDirectoryName = "labcommons"
	credentialsFileName      = "credentials.json"
	credentialsFileMode      = 0o600
	credentialsDirMode       = 0o700
)

// DefaultCredentialsPath returns the per-user credential file location.
func DefaultCredentialsPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("labclient.credentials_path: %w", err)
	}
	return filepath.Join(configDir, credentialsDirectoryName, credentialsFileName), nil
}

// CredentialFile persists the session shared by every console process of one user.
type CredentialFile struct {
	path  string
	mutex sync.Mutex
}

// NewCredentialFile binds to path without touching the filesystem.
func NewCredentialFile(path string) *CredentialFile {
	return &CredentialFile{path: path}
}

// Path returns the file location.
func (file *CredentialFile) Path() string {
	return file.path
}

// Load returns the stored session, or nil when none is stored.
func (file *CredentialFile) Load() (*authstate.Session, error) {
	file.mutex.Lock()
	defer file.mutex.Unlock()
	contents, err := os.ReadFile(file.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("labclient.credentials.load: %w", err)
	}
	if len(contents) == 0 {
		return nil, nil
	}
	var session authstate.Session
	if err := json.Unmarshal(contents, &session); err != nil {
		return nil, fmt.Errorf("labclient.credentials.decode: %w", err)
	}
	if session.UserID == "" {
		return nil, nil
	}
	return &session, nil
}

// Save writes session atomically with owner-only permissions.
func (file *CredentialFile) Save(session *authstate.Session) error {
	if session == nil {
		return file.Clear()
	}
	encoded, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("labclient.credentials.encode: %w", err)
	}
	file.mutex.Lock()
	defer file.mutex.Unlock()
	directory := filepath.Dir(file.path)
	if err := os.MkdirAll(directory, credentialsDirMode); err != nil {
		return fmt.Errorf("labclient.credentials.mkdir: %w", err)
	}
	temporary, err := os.CreateTemp(directory, ".credentials-*")
	if err != nil {
		return fmt.Errorf("labclient.credentials.save: %w", err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)
	if err := temporary.Chmod(credentialsFileMode); err != nil {
		temporary.Close()
		return fmt.Errorf("labclient.credentials.chmod: %w", err)
	}
	if _, err := temporary.Write(encoded); err != nil {
		temporary.Close()
		return fmt.Errorf("labclient.credentials.save: %w", err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("labclient.credentials.save: %w", err)
	}
	if err := os.Rename(temporaryPath, file.path); err != nil {
		return fmt.Errorf("labclient.credentials.save: %w", err)
	}
	return nil
}

// Clear removes the stored session. A missing file is not an error.
func (file *CredentialFile) Clear() error {
	file.mutex.Lock()
	defer file.mutex.Unlock()
	if err := os.Remove(file.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("labclient.credentials.clear: %w", err)
	}
	return nil
}

// Watch calls onChange whenever another writer replaces or removes the file.
// It watches the parent directory so atomic renames are observed. Watching stops when ctx ends.
func (file *CredentialFile) Watch(ctx context.Context, onChange func()) error {
	directory := filepath.Dir(file.path)
	if err := os.MkdirAll(directory, credentialsDirMode); err != nil {
		return fmt.Errorf("labclient.credentials.mkdir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("labclient.credentials.watch: %w", err)
	}
	if err := watcher.Add(directory); err != nil {
		watcher.Close()
		return fmt.Errorf("labclient.credentials.watch: %w", err)
	}
	target := filepath.Clean(file.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				onChange()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

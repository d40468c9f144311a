package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	ipipeline "github.com/imagevault/pipeline/internal/pipeline"
)

// FilesystemStore is a Store backed by a local directory, used for
// development and tests. Signed URLs carry an HMAC token over
// (objectName, expiry) so the expiry contract holds without a credential
// service; ServeHTTP verifies the token and serves the bytes.
type FilesystemStore struct {
	baseDir string
	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewFilesystemStore creates the base directory if needed. baseURL is the
// externally reachable prefix under which ServeHTTP is mounted.
func NewFilesystemStore(baseDir, baseURL string, secret []byte) (*FilesystemStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FilesystemStore{
		baseDir: baseDir,
		baseURL: baseURL,
		secret:  secret,
		now:     time.Now,
	}, nil
}

// SetClock overrides the store's clock. Test hook.
func (fs *FilesystemStore) SetClock(now func() time.Time) {
	fs.now = now
}

func (fs *FilesystemStore) path(objectName string) (string, error) {
	path := filepath.Join(fs.baseDir, objectName)
	// Security: prevent directory traversal
	if !filepath.HasPrefix(filepath.Clean(path), filepath.Clean(fs.baseDir)) {
		return "", fmt.Errorf("invalid object name: path traversal detected")
	}
	return path, nil
}

// Put implements Store.
func (fs *FilesystemStore) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	path, err := fs.path(objectName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create object file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// Get implements Store.
func (fs *FilesystemStore) Get(ctx context.Context, objectName string) (io.ReadCloser, error) {
	path, err := fs.path(objectName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", objectName, ipipeline.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}

// Remove implements Store.
func (fs *FilesystemStore) Remove(ctx context.Context, objectName string) error {
	path, err := fs.path(objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("object %s: %w", objectName, ipipeline.ErrNotFound)
		}
		return fmt.Errorf("failed to remove object: %w", err)
	}
	return nil
}

// SignURL implements Store.
func (fs *FilesystemStore) SignURL(ctx context.Context, objectName string, ttl time.Duration) (string, error) {
	if _, err := os.Stat(filepath.Join(fs.baseDir, objectName)); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("object %s: %w", objectName, ipipeline.ErrNotFound)
		}
		return "", fmt.Errorf("failed to stat object: %w", err)
	}
	exp := fs.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", fs.token(objectName, exp))
	return fmt.Sprintf("%s/%s?%s", fs.baseURL, objectName, q.Encode()), nil
}

// PublicURL implements Store.
func (fs *FilesystemStore) PublicURL(objectName string) string {
	return fmt.Sprintf("%s/%s", fs.baseURL, objectName)
}

func (fs *FilesystemStore) token(objectName string, exp int64) string {
	mac := hmac.New(sha256.New, fs.secret)
	fmt.Fprintf(mac, "%s:%d", objectName, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

// ServeHTTP serves signed URLs issued by SignURL. Mount it under the path
// prefix that baseURL points at, with the prefix stripped.
func (fs *FilesystemStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	objectName := r.URL.Path
	if len(objectName) > 0 && objectName[0] == '/' {
		objectName = objectName[1:]
	}
	exp, err := strconv.ParseInt(r.URL.Query().Get("exp"), 10, 64)
	if err != nil {
		http.Error(w, "invalid expiry", http.StatusBadRequest)
		return
	}
	sig := r.URL.Query().Get("sig")
	if !hmac.Equal([]byte(sig), []byte(fs.token(objectName, exp))) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}
	if fs.now().Unix() >= exp {
		http.Error(w, "url expired", http.StatusForbidden)
		return
	}

	f, err := fs.Get(r.Context(), objectName)
	if err != nil {
		http.Error(w, "object not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		// Client went away mid-transfer; nothing to do.
		return
	}
}

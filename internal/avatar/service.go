package avatar

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

var (
	ErrFetch   = errors.New("failed to fetch avatar source")
	ErrDecode  = errors.New("failed to decode avatar image")
	ErrStorage = errors.New("failed to store avatar image")
)

// Published avatars are exactly avatarSize x avatarSize; default
// identicons are requested at gravatarSize.
const (
	avatarSize     = 250
	gravatarSize   = 200
	gravatarRating = "pg"
)

// GravatarURL returns the deterministic identicon URL for an email.
// Pure computation, no network call.
func GravatarURL(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	hash := md5.Sum([]byte(normalized))
	return fmt.Sprintf("https://www.gravatar.com/avatar/%x?d=identicon&r=%s&s=%d",
		hash, gravatarRating, gravatarSize)
}

// Service fetches a source image, resizes it to a fixed square and
// publishes it atomically under the avatars directory.
type Service struct {
	client     *http.Client
	tmpDir     string
	avatarsDir string
}

func NewService(tmpDir, avatarsDir string, client *http.Client) *Service {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Service{
		client:     client,
		tmpDir:     tmpDir,
		avatarsDir: avatarsDir,
	}
}

// EnsureDirs creates the tmp and avatars directories if absent. Called
// once at startup.
func (s *Service) EnsureDirs() error {
	for _, dir := range []string{s.tmpDir, s.avatarsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Update fetches the source image, resizes it to exactly 250x250 and
// moves it into the avatars directory only after the resize completed,
// so a partially written file is never served. Returns the published
// filename. The temporary file is removed on every failure path.
func (s *Service) Update(ctx context.Context, userID uuid.UUID, source string) (string, error) {
	srcURL := resolveSource(source)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status %d", ErrFetch, resp.StatusCode)
	}

	img, err := imaging.Decode(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	resized := imaging.Resize(img, avatarSize, avatarSize, imaging.Lanczos)

	filename := fmt.Sprintf("%s_%d.jpg", userID, time.Now().UnixMilli())
	tmpPath := filepath.Join(s.tmpDir, filename)
	finalPath := filepath.Join(s.avatarsDir, filename)

	if err := imaging.Save(resized, tmpPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return filename, nil
}

// resolveSource turns the caller-supplied value into a fetchable URL:
// http(s) values pass through, anything else is treated as an email
// address and gravatarized.
func resolveSource(source string) string {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return source
	}
	return GravatarURL(source)
}

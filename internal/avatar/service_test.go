package avatar

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGravatarURL(t *testing.T) {
	got := GravatarURL("user@example.com")
	assert.Equal(t, "https://www.gravatar.com/avatar/b58996c504c5638798eb6b511e6f49af?d=identicon&r=pg&s=200", got)

	// Address is lowercased and trimmed before hashing.
	assert.Equal(t, got, GravatarURL("  User@Example.COM  "))
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 20), G: uint8(y * 20), B: 100, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestDirs(t *testing.T) (tmpDir, avatarsDir string) {
	t.Helper()
	base := t.TempDir()
	return filepath.Join(base, "tmp"), filepath.Join(base, "public", "avatars")
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("resizes a small source to exactly 250x250", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			w.Write(encodePNG(t, 10, 10))
		}))
		defer server.Close()

		tmpDir, avatarsDir := newTestDirs(t)
		svc := NewService(tmpDir, avatarsDir, server.Client())
		require.NoError(t, svc.EnsureDirs())

		userID := uuid.New()
		filename, err := svc.Update(ctx, userID, server.URL)
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(filename, userID.String()+"_"))
		assert.True(t, strings.HasSuffix(filename, ".jpg"))

		published, err := imaging.Open(filepath.Join(avatarsDir, filename))
		require.NoError(t, err)
		bounds := published.Bounds()
		assert.Equal(t, 250, bounds.Dx())
		assert.Equal(t, 250, bounds.Dy())

		// The temporary file was renamed away, not left behind.
		entries, err := os.ReadDir(tmpDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("fetch failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		tmpDir, avatarsDir := newTestDirs(t)
		svc := NewService(tmpDir, avatarsDir, server.Client())
		require.NoError(t, svc.EnsureDirs())

		_, err := svc.Update(ctx, uuid.New(), server.URL)
		assert.ErrorIs(t, err, ErrFetch)
	})

	t.Run("decode failure leaves no files", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not an image"))
		}))
		defer server.Close()

		tmpDir, avatarsDir := newTestDirs(t)
		svc := NewService(tmpDir, avatarsDir, server.Client())
		require.NoError(t, svc.EnsureDirs())

		_, err := svc.Update(ctx, uuid.New(), server.URL)
		assert.ErrorIs(t, err, ErrDecode)

		for _, dir := range []string{tmpDir, avatarsDir} {
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		}
	})

	t.Run("save failure publishes nothing", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			w.Write(encodePNG(t, 10, 10))
		}))
		defer server.Close()

		// tmpDir is deliberately missing so the write fails.
		tmpDir, avatarsDir := newTestDirs(t)
		require.NoError(t, os.MkdirAll(avatarsDir, 0o755))

		svc := NewService(tmpDir, avatarsDir, server.Client())

		_, err := svc.Update(ctx, uuid.New(), server.URL)
		assert.ErrorIs(t, err, ErrStorage)

		entries, err := os.ReadDir(avatarsDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("unreachable host", func(t *testing.T) {
		tmpDir, avatarsDir := newTestDirs(t)
		svc := NewService(tmpDir, avatarsDir, nil)
		require.NoError(t, svc.EnsureDirs())

		_, err := svc.Update(ctx, uuid.New(), "http://127.0.0.1:1/avatar.png")
		assert.ErrorIs(t, err, ErrFetch)
	})
}

func TestResolveSource(t *testing.T) {
	assert.Equal(t, "https://example.com/a.png", resolveSource("https://example.com/a.png"))
	assert.Equal(t, "http://example.com/a.png", resolveSource("http://example.com/a.png"))
	assert.True(t, strings.HasPrefix(resolveSource("a@x.com"), "https://www.gravatar.com/avatar/"))
}

// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// Tests for chat image upload and thumbnail serving.

package handlers

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUploadRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	uploadDir := t.TempDir()
	router := gin.New()
	router.POST("/upload", Upload(uploadDir))
	return router, uploadDir
}

func uploadRequest(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

var uploadNameRe = regexp.MustCompile(`^/static/uploads/[0-9a-f]{32}\.png$`)

func TestUploadStoresFile(t *testing.T) {
	router, uploadDir := newUploadRouter(t)

	content := []byte("png bytes here")
	body, contentType := uploadRequest(t, "photo.png", content)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", contentType)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, true, resp["success"])
	url := resp["url"].(string)
	assert.Regexp(t, uploadNameRe, url)

	// The stored file carries the uploaded bytes under the random name.
	stored, err := os.ReadFile(filepath.Join(uploadDir, filepath.Base(url)))
	require.NoError(t, err)
	assert.Equal(t, content, stored)
}

func TestUploadLowercasesExtension(t *testing.T) {
	router, _ := newUploadRouter(t)

	body, contentType := uploadRequest(t, "SHOT.JPG", []byte("jpg"))
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", contentType)
	router.ServeHTTP(w, req)

	resp := decodeBody(t, w)
	assert.Regexp(t, `\.jpg$`, resp["url"].(string))
}

func TestUploadRejectsMissingFile(t *testing.T) {
	router, _ := newUploadRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/upload", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "no image file provided")
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	router, uploadDir := newUploadRouter(t)

	body, contentType := uploadRequest(t, "notes.txt", []byte("plain text"))
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", contentType)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported file type")

	entries, err := os.ReadDir(uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected upload must not leave files behind")
}

// =============================================================================
// Thumbnails
// =============================================================================

func writeTestPNG(t *testing.T, path string, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return buf.Bytes()
}

func newThumbRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	keysDir := t.TempDir()
	router := gin.New()
	router.GET("/thumbs/keys/*filepath", Thumbnail(keysDir))
	return router, keysDir
}

func TestThumbnailShrinksLargeImage(t *testing.T) {
	router, keysDir := newThumbRouter(t)
	writeTestPNG(t, filepath.Join(keysDir, "K1", "3", "big.png"), 600, 400)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/thumbs/keys/K1/3/big.png", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	thumb, _, err := image.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.LessOrEqual(t, thumb.Bounds().Dx(), thumbMaxDim)
	assert.LessOrEqual(t, thumb.Bounds().Dy(), thumbMaxDim)
}

func TestThumbnailServesSmallOriginal(t *testing.T) {
	router, keysDir := newThumbRouter(t)
	original := writeTestPNG(t, filepath.Join(keysDir, "K1", "0", "small.png"), 64, 48)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/thumbs/keys/K1/0/small.png", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, original, w.Body.Bytes(), "images within bounds are served untouched")
}

func TestThumbnailRejectsPathTraversal(t *testing.T) {
	router, keysDir := newThumbRouter(t)
	writeTestPNG(t, filepath.Join(keysDir, "K1", "0", "img.png"), 32, 32)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/thumbs/keys/../../etc/passwd", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestThumbnailMissingFile(t *testing.T) {
	router, _ := newThumbRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/thumbs/keys/K1/9/nope.png", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

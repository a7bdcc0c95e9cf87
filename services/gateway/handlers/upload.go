// Copyright (C) 2025 Rebus Chat (oss@rebus.chat)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"encoding/hex"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nfnt/resize"

	_ "golang.org/x/image/bmp"

	"github.com/rebus-chat/rebus/pkg/validation"
	"github.com/rebus-chat/rebus/services/gateway/datatypes"
)

// Upload stores a chat image under the uploads directory and returns
// its public URL. Files are renamed to a random hex name so uploads
// can never collide or leak the original filename.
func Upload(uploadDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		fh, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.UploadResponse{Success: false, Error: "no image file provided"})
			recordRequest("upload", false)
			return
		}
		ext, err := validation.SanitizeImageExt(fh.Filename)
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.UploadResponse{Success: false, Error: "unsupported file type"})
			recordRequest("upload", false)
			return
		}

		id := uuid.New()
		name := hex.EncodeToString(id[:]) + ext
		dest := filepath.Join(uploadDir, name)
		if err := c.SaveUploadedFile(fh, dest); err != nil {
			slog.Error("Failed to save uploaded image", "error", err, "dest", dest)
			c.JSON(http.StatusInternalServerError, datatypes.UploadResponse{Success: false, Error: "failed to save image"})
			recordRequest("upload", false)
			return
		}

		c.JSON(http.StatusOK, datatypes.UploadResponse{Success: true, URL: "/static/uploads/" + name})
		recordRequest("upload", true)
	}
}

// thumbMaxDim bounds the longer edge of served thumbnails.
const thumbMaxDim = 256

// Thumbnail serves a shrunken preview of a ciphertext image under the
// keys directory. Thumbnails are for display only: decryption needs
// the byte-exact original from /static/keys, since the fingerprint is
// computed over the stored bytes.
func Thumbnail(keysDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		clean, err := validation.SanitizeRelPath(c.Param("filepath"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid path"})
			return
		}

		full := filepath.Join(keysDir, clean)
		f, err := os.Open(full)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		defer f.Close()

		img, _, err := image.Decode(f)
		if err != nil {
			// Not decodable here; let the client fetch the original.
			c.File(full)
			return
		}

		b := img.Bounds()
		if b.Dx() <= thumbMaxDim && b.Dy() <= thumbMaxDim {
			c.File(full)
			return
		}

		thumb := resize.Thumbnail(thumbMaxDim, thumbMaxDim, img, resize.Lanczos3)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 85}); err != nil {
			slog.Error("Failed to encode thumbnail", "error", err, "path", clean)
			c.File(full)
			return
		}
		c.Data(http.StatusOK, "image/jpeg", buf.Bytes())
	}
}

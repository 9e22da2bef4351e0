package storage

import (
	"errors"
	"path"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	ErrUnsupportedExtension = errors.New("only .jpg, .jpeg, and .png extensions are allowed")
	ErrUnsupportedContent   = errors.New("file content is not a jpeg or png image")
	ErrEmptyFile            = errors.New("file is empty")
)

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// AssetName derives the stored file name for an upload: the original base
// name with "_<id>" inserted before the extension, e.g. "iphone_12.jpg".
func AssetName(original string, productID int64) string {
	base := baseName(original)
	ext := path.Ext(base)
	return strings.TrimSuffix(base, ext) + "_" + strconv.FormatInt(productID, 10) + ext
}

// StagingName returns a unique hidden name for an upload that cannot take its
// final name yet because that file is still in use.
func StagingName(name string) string {
	return "." + name + "." + uuid.NewString() + ".staged"
}

// CheckImage verifies that an upload has an allowed extension and that its
// content is actually a jpeg or png image.
func CheckImage(filename string, data []byte) error {
	if !allowedExtensions[strings.ToLower(path.Ext(baseName(filename)))] {
		return ErrUnsupportedExtension
	}
	if len(data) == 0 {
		return ErrEmptyFile
	}
	mt := mimetype.Detect(data)
	if !mt.Is("image/jpeg") && !mt.Is("image/png") {
		return ErrUnsupportedContent
	}
	return nil
}

// baseName strips any client-side directory, including Windows-style paths
// some browsers still send.
func baseName(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		return filename[i+1:]
	}
	return filename
}

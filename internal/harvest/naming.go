package harvest

import (
	"fmt"
	"strings"
)

const (
	// RecordExt is the extension of per-object record files.
	RecordExt = ".json"
	// ImageExt is the extension used for downloaded images.
	ImageExt = ".jpg"
)

var stemReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"?", "_",
	"*", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "_",
)

// FileStem maps an identifier to a file-system safe name stem.
func FileStem(id string) string {
	stem := stemReplacer.Replace(strings.TrimSpace(id))
	if stem == "" || stem == "." || stem == ".." {
		return "_"
	}
	return stem
}

// RecordFileName is the deterministic record file for id.
func RecordFileName(id string) string {
	return FileStem(id) + RecordExt
}

// PrimaryAssetFileName names the single image of an object.
func PrimaryAssetFileName(id string) string {
	return FileStem(id) + ImageExt
}

// AssetFileName names the n-th image of an object with several images.
func AssetFileName(id string, n int) string {
	return fmt.Sprintf("%s_%d%s", FileStem(id), n, ImageExt)
}

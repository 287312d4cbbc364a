package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MakeValidateFileName prepares a safe object store key from a user
// provided file name: drops any path, replaces spaces, lowercases the
// extension and prefixes with ID
func MakeValidateFileName(ID, fileName string) (string, error) {
	res := filepath.Base(filepath.Clean(fileName))
	if res == "." || res == string(filepath.Separator) || res == "" {
		return "", fmt.Errorf("wrong file name '%s'", fileName)
	}
	res = strings.ReplaceAll(res, " ", "_")
	ext := filepath.Ext(res)
	res = strings.TrimSuffix(res, ext) + strings.ToLower(ext)
	if ID != "" {
		res = ID + "/" + res
	}
	return res, nil
}

// SupportAudioExt checks if audio ext is supported
func SupportAudioExt(ext string) bool {
	switch ext {
	case ".wav", ".mp3", ".mp4", ".m4a", ".ogg", ".webm", ".wma":
		return true
	}
	return false
}

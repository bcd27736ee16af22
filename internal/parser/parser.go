package parser

import (
	"strings"

	"github.com/modwatch/modlog-listener/internal/models"
	"github.com/modwatch/modlog-listener/pkg/utils"
)

// Platform is the upstream platform tag stamped on every record.
const Platform = "reddit"

// BaseURL is the upstream site root used when shortening permalinks.
const BaseURL = "https://www.reddit.com"

// ConverterFn turns one raw feed payload into normalized records.
// Converters never fail the whole batch: individual malformed entries
// are logged and dropped, so the output may be shorter than the input.
type ConverterFn func(data []byte) []models.ModAction

// ForMode returns the converter for the configured upstream mode.
func ForMode(mode string) (ConverterFn, error) {
	switch strings.ToLower(mode) {
	case "atom":
		return FromAtom, nil
	case "json":
		return FromJSON, nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Unexpected upstream mode", mode)
	}
}

// SupportsCursor reports whether the mode's feed accepts "before"
// pagination. The Atom feed does not.
func SupportsCursor(mode string) bool {
	return strings.ToLower(mode) == "json"
}

// minimalUsername strips the /u/ prefix Reddit sometimes includes in
// author names.
func minimalUsername(name string) string {
	return strings.Replace(name, "/u/", "", 1)
}

// dropPrefix removes p from the front of s if present.
func dropPrefix(s, p string) string {
	if strings.HasPrefix(s, p) {
		return strings.Replace(s, p, "", 1)
	}
	return s
}

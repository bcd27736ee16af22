package parser

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/modwatch/modlog-listener/internal/models"
	"github.com/modwatch/modlog-listener/pkg/utils"
	"github.com/sirupsen/logrus"
)

// modActionFixesAtom maps the past-tense verb spellings the Atom feed
// uses in entry titles to normalized verbs.
var modActionFixesAtom = map[string]string{
	"approved":      "approve",
	"banned":        "ban",
	"distinguished": "distinguish",
	"edited":        "edit",
	"removed":       "remove",
	"stickied":      "sticky",
	"unstickied":    "unsticky",
	"spam":          "remove",
}

// FromAtom converts an Atom feed payload into normalized records.
// Entries missing required fields are dropped with a warning; the rest
// of the batch still converts.
func FromAtom(data []byte) []models.ModAction {
	logger := utils.GetLogger()

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		logger.WithField("error", err.Error()).Error("Malformed Atom feed")
		return nil
	}

	actions := make([]models.ModAction, 0, len(feed.Items))
	for _, item := range feed.Items {
		ma, ok := modActionFromAtom(logger, item)
		if !ok {
			continue
		}
		actions = append(actions, ma)
	}
	return actions
}

// modActionFromAtom converts a single Atom entry. Returns false when a
// required field is missing.
func modActionFromAtom(logger *logrus.Logger, item *gofeed.Item) (models.ModAction, bool) {
	if item.GUID == "" || len(item.Authors) == 0 || item.Authors[0].Name == "" ||
		item.UpdatedParsed == nil || len(item.Categories) == 0 || item.Title == "" {
		logger.WithField("entry_id", item.GUID).Warn("Skipping Atom entry with missing required fields")
		return models.ModAction{}, false
	}

	modname := minimalUsername(item.Authors[0].Name)
	place := item.Categories[0]

	actObj := item.Title
	actObj = dropPrefix(actObj, place+": ")
	actObj = dropPrefix(actObj, modname+" ")
	action, object := splitActionAtom(actObj)

	return models.ModAction{
		ID:        extractIDAtom(logger, item.GUID),
		Timestamp: item.UpdatedParsed.UTC().Unix(),
		Moderator: modname,
		Platform:  Platform,
		Place:     place,
		Action:    action,
		Object:    object,
	}, true
}

// extractIDAtom pulls the "ModAction_…" tail out of the Atom entry id
// URL, which is the stable upstream identifier.
func extractIDAtom(logger *logrus.Logger, idStr string) string {
	u, err := url.Parse(idStr)
	if err != nil {
		logger.WithField("entry_id", idStr).Warn("Unparseable Atom entry id")
		return idStr
	}
	start := strings.Index(u.Path, "ModAction")
	if start < 0 { // should never happen
		logger.WithField("entry_id", idStr).Warn("Atom entry id has no ModAction component")
		return idStr
	}
	return u.Path[start:]
}

// splitActionAtom splits "<verb> <object>" title text, normalizing the
// verb through the fix table. Unrecognized verbs pass through unchanged
// with an empty object.
func splitActionAtom(actObj string) (string, string) {
	for wrong, fixed := range modActionFixesAtom {
		if strings.HasPrefix(actObj, wrong+" ") {
			return fixed, strings.Replace(actObj, wrong+" ", "", 1)
		}
	}
	return actObj, ""
}

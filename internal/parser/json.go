package parser

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/modwatch/modlog-listener/internal/models"
	"github.com/modwatch/modlog-listener/pkg/utils"
	"github.com/sirupsen/logrus"
)

// modActionObjTypes maps raw upstream action codes to the normalized
// verb and the type of thing the action targets.
var modActionObjTypes = map[string]struct {
	Action  string
	ObjType string
}{
	"banuser":        {"ban", "user"},
	"unbanuser":      {"unban", "user"},
	"spamlink":       {"remove", "post"},
	"removelink":     {"remove", "post"},
	"approvelink":    {"approve", "post"},
	"spamcomment":    {"remove", "comment"},
	"removecomment":  {"remove", "comment"},
	"approvecomment": {"approve", "comment"},
	"distinguish":    {"distinguish", "comment"},
	"sticky":         {"sticky", "comment"},
	"editflair":      {"edit", "flair for post"},
	"wikirevise":     {"edit", "wiki"},
	"createrule":     {"create", "rule"},
	"editrule":       {"edit", "rule"},
}

type listingChild struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type listingEnvelope struct {
	Data *struct {
		Children []listingChild `json:"children"`
	} `json:"data"`
}

// FromJSON converts a JSON mod-action Listing payload into normalized
// records. A malformed top level yields an empty batch; a malformed
// individual item is logged and skipped while the rest still convert.
func FromJSON(data []byte) []models.ModAction {
	logger := utils.GetLogger()

	var envelope listingEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		logger.WithField("error", err.Error()).Error("Malformed JSON")
		return nil
	}
	if envelope.Data == nil || envelope.Data.Children == nil {
		logger.Error("Malformed mod-action Listing, missing data.children")
		return nil
	}

	actions := make([]models.ModAction, 0, len(envelope.Data.Children))
	for _, child := range envelope.Data.Children {
		if child.Kind != "modaction" {
			logger.WithField("kind", child.Kind).Warn("Unexpected Listing child kind")
			continue
		}

		var entry map[string]interface{}
		if err := json.Unmarshal(child.Data, &entry); err != nil {
			logger.WithField("data", string(child.Data)).Error("Skipping malformed mod action")
			continue
		}

		ma, ok := modActionFromJSON(logger, entry, child.Data)
		if !ok {
			continue
		}
		actions = append(actions, ma)
	}
	return actions
}

// modActionFromJSON converts a single Listing item. Returns false when
// a required key is missing or has the wrong type.
func modActionFromJSON(logger *logrus.Logger, entry map[string]interface{}, raw json.RawMessage) (models.ModAction, bool) {
	id, ok1 := stringField(entry, "id")
	modname, ok2 := stringField(entry, "mod")
	createdUTC, ok3 := numberField(entry, "created_utc")
	place, ok4 := stringField(entry, "subreddit")
	rawAction, ok5 := stringField(entry, "action")
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		logger.WithField("data", string(raw)).Error("Skipping mod action with missing required keys")
		return models.ModAction{}, false
	}

	action, objType := rawAction, ""
	if mapped, ok := modActionObjTypes[rawAction]; ok {
		action, objType = mapped.Action, mapped.ObjType
	}

	// Optional fields may be absent or carry an explicit null; both
	// count as empty.
	title := optionalString(entry, "target_title")
	if title != "" {
		title = `"` + title + `"`
	}

	author := optionalString(entry, "target_author")
	addBy := objType == "post" || objType == "comment" || objType == "flair for post"
	if author != "" && addBy {
		author = "by " + author
	}

	mdLink := ""
	if permalink := optionalString(entry, "target_permalink"); permalink != "" {
		mdLink = "(" + shortMDLink(logger, permalink) + ")"
	}

	fdetails := optionalString(entry, "details")
	fdesc := optionalString(entry, "description")

	var details string
	switch rawAction {
	case "distinguish":
		details = optionalString(entry, "target_body")
	case "createrule", "editrule":
		// These two repurpose "details" as the rule title and
		// "description" as the body text.
		title = `"` + fdetails + `"`
		details = fdesc
	default:
		if fdetails != "" && fdesc != "" {
			details = fdetails + ": " + fdesc
		} else {
			details = fdetails + fdesc
		}
	}

	object := joinNonEmpty(" ", objType, author, title, mdLink)

	return models.ModAction{
		ID:        id,
		Timestamp: int64(createdUTC),
		Moderator: modname,
		Platform:  Platform,
		Place:     place,
		Action:    action,
		Object:    object,
		Details:   details,
		RawAction: rawAction,
		Raw:       raw,
	}, true
}

// shortMDLink shortens a permalink into a markdown link keyed by the
// permalink's path-segment count: 7 segments identify a post, 8 a
// comment. Anything else passes through unchanged with a warning.
func shortMDLink(logger *logrus.Logger, permalink string) string {
	u, err := url.Parse(permalink)
	if err != nil {
		logger.WithField("permalink", permalink).Warn("Unexpected permalink")
		return permalink
	}
	parts := strings.Split(u.Path, "/")
	switch len(parts) {
	case 7:
		postID := parts[4]
		return fmt.Sprintf("[%s](%s/comments/%s/)", postID, BaseURL, postID)
	case 8:
		postID := parts[4]
		commentID := parts[6]
		return fmt.Sprintf("[%s:%s](%s/comments/%s/_/%s/)", postID, commentID, BaseURL, postID, commentID)
	default:
		logger.WithField("permalink", permalink).Warn("Unexpected permalink")
		return permalink
	}
}

func stringField(entry map[string]interface{}, key string) (string, bool) {
	v, ok := entry[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func numberField(entry map[string]interface{}, key string) (float64, bool) {
	v, ok := entry[key]
	if !ok {
		return 0, false
	}
	n, ok := v.(float64)
	return n, ok
}

func optionalString(entry map[string]interface{}, key string) string {
	v, ok := entry[key]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

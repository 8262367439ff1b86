package gmail

import (
	"fmt"
	"strings"
	"time"

	"github.com/warriorguo/blockflow/poller"
	"github.com/warriorguo/blockflow/utils"
)

func labelTerm(label string) string {
	if strings.ContainsAny(label, " \t\"") {
		label = `"` + strings.ReplaceAll(label, `"`, "") + `"`
	}
	return "label:" + label
}

// cleanLabels trims labels and drops the blank and repeated ones.
func cleanLabels(labels []string) []string {
	cleaned := make([]string, 0, len(labels))
	for _, label := range labels {
		if label = strings.TrimSpace(label); label != "" {
			cleaned = append(cleaned, label)
		}
	}
	return utils.UniqueSlice(cleaned)
}

/**
 * BuildQuery turns a poller query into a Gmail search expression: every
 * include label is required, every exclude label negated, and After is
 * expressed in epoch seconds.
 */
func BuildQuery(q poller.Query) string {
	terms := make([]string, 0, len(q.IncludeLabels)+len(q.ExcludeLabels)+1)
	for _, label := range cleanLabels(q.IncludeLabels) {
		terms = append(terms, labelTerm(label))
	}
	for _, label := range cleanLabels(q.ExcludeLabels) {
		terms = append(terms, "-"+labelTerm(label))
	}
	if !q.After.IsZero() {
		terms = append(terms, fmt.Sprintf("after:%d", q.After.Truncate(time.Second).Unix()))
	}
	return strings.Join(terms, " ")
}

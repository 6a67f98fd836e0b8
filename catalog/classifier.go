package catalog

import (
	"path/filepath"
	"strings"

	"github.com/hupe1980/baggo/model"
	"github.com/hupe1980/baggo/rosbag"
)

// Classifier assigns a category label to a scanned bag. The rule is
// deliberately replaceable: fleets differ in how they name runs.
type Classifier interface {
	// Classify returns a category label, or "" when no rule matches
	// (the caller substitutes model.CategoryUndefined).
	Classify(path string, info *rosbag.Info) string
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(path string, info *rosbag.Info) string

func (f ClassifierFunc) Classify(path string, info *rosbag.Info) string {
	return f(path, info)
}

// PathClassifier matches path tokens against known category labels.
// A bag stored under .../skidpad/run_03/ or named skidpad_01.bag is
// classified "skidpad". Matching is case-insensitive and considers
// every path element plus underscore-separated name tokens.
type PathClassifier struct {
	// Labels to match, in precedence order. Defaults to
	// model.Categories() minus "undefined" when empty.
	Labels []string
}

func (c PathClassifier) labels() []string {
	if len(c.Labels) > 0 {
		return c.Labels
	}
	all := model.Categories()
	return all[:len(all)-1]
}

func (c PathClassifier) Classify(path string, _ *rosbag.Info) string {
	tokens := pathTokens(path)
	for _, label := range c.labels() {
		if _, ok := tokens[label]; ok {
			return label
		}
	}
	return ""
}

func pathTokens(path string) map[string]struct{} {
	tokens := map[string]struct{}{}
	clean := filepath.ToSlash(strings.ToLower(path))
	for _, elem := range strings.Split(clean, "/") {
		elem = strings.TrimSuffix(elem, filepath.Ext(elem))
		tokens[elem] = struct{}{}
		for _, tok := range strings.FieldsFunc(elem, func(r rune) bool {
			return r == '_' || r == '-' || r == '.'
		}) {
			tokens[tok] = struct{}{}
		}
	}
	return tokens
}

// DefaultClassifier is the path-token rule used when no custom
// classifier is configured.
var DefaultClassifier Classifier = PathClassifier{}

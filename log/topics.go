package log

import (
	"strings"

	"github.com/pkg/errors"
)

var topicNames = map[string]Topics{
	"call":    TopicCall,
	"verdict": TopicVerdict,
	"trace":   TopicTrace,
	"error":   TopicError,
	"all":     AllTopics,
}

// ParseTopics converts topic names, such as "call" or
// "error", into their mask.
func ParseTopics(names []string) (Topics, error) {
	var result Topics
	for _, name := range names {
		topic, ok := topicNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, errors.Errorf("unknown log topic %q", name)
		}
		result |= topic
	}
	return result, nil
}

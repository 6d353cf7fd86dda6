package topicmgr

import (
	"fmt"
	"strings"
	"sync"
)

// Manager is the registration entry point: it validates topics before
// they reach the registry.
type Manager struct {
	registry  *Registry
	validator *Validator
}

// NewManager creates a new topic manager with registry and validator
func NewManager() *Manager {
	return &Manager{
		registry:  NewRegistry(),
		validator: NewValidator(),
	}
}

// DefineFramework creates a new typed topic for framework services
func DefineFramework(config TopicConfig) Topic {
	config.Scope = ScopeFramework
	config.Module = ""
	return newTopic(config)
}

// DefineModule creates a new typed topic for modules
func DefineModule(config TopicConfig) Topic {
	config.Scope = ScopeModule
	return newTopic(config)
}

func newTopic(config TopicConfig) *TypedTopic {
	return &TypedTopic{
		name:        config.Name,
		module:      config.Module,
		description: config.Description,
		pattern:     config.Pattern,
		metadata:    config.Metadata,
		scope:       config.Scope,
	}
}

// Register validates topic and adds it to the registry.
func (m *Manager) Register(topic Topic) error {
	if err := m.validator.ValidateDefinition(topic); err != nil {
		name, module := "", ""
		if topic != nil {
			name, module = topic.Name(), topic.Module()
		}
		return &TopicError{
			Type:    ErrorValidationFailed,
			Topic:   name,
			Module:  module,
			Message: "topic validation failed",
			Cause:   err,
		}
	}
	return m.registry.Register(topic)
}

// MustRegister registers a topic and panics on error (for static initialization)
func (m *Manager) MustRegister(topic Topic) {
	if err := m.Register(topic); err != nil {
		panic(fmt.Sprintf("failed to register topic %s: %v", topic.Name(), err))
	}
}

func (m *Manager) Get(name string) (Topic, bool)        { return m.registry.Get(name) }
func (m *Manager) List() []Topic                        { return m.registry.List() }
func (m *Manager) ListByModule(module string) []Topic   { return m.registry.ListByModule(module) }
func (m *Manager) ListByScope(scope TopicScope) []Topic { return m.registry.ListByScope(scope) }
func (m *Manager) Count() int                           { return m.registry.Count() }
func (m *Manager) ValidateTopicName(name string) error  { return m.validator.ValidateName(name) }
func (m *Manager) Reset()                               { m.registry.Reset() }
func (m *Manager) FindTopics(pattern string) []Topic    { return m.find(pattern) }

func (m *Manager) find(pattern string) []Topic {
	var matches []Topic
	for _, topic := range m.registry.List() {
		if matchesPattern(topic.Name(), pattern) {
			matches = append(matches, topic)
		}
	}
	return matches
}

// matchesPattern supports a single trailing * wildcard.
func matchesPattern(name, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return name == pattern
}

var (
	defaultManager     *Manager
	defaultManagerOnce sync.Once
)

// Default returns the default global manager
func Default() *Manager {
	defaultManagerOnce.Do(func() {
		defaultManager = NewManager()
	})
	return defaultManager
}

// Register registers a topic with the default manager
func Register(topic Topic) error { return Default().Register(topic) }

// Get retrieves a topic from the default manager
func Get(name string) (Topic, bool) { return Default().Get(name) }

// List returns all topics from the default manager
func List() []Topic { return Default().List() }

// ListByModule returns topics for a specific module from the default manager
func ListByModule(module string) []Topic { return Default().ListByModule(module) }

// FindTopics searches for topics matching a pattern using the default manager
func FindTopics(pattern string) []Topic { return Default().FindTopics(pattern) }

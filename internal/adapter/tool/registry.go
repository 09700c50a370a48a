package tool

import (
	"log/slog"
	"sync"

	"qianfan-chat/internal/domain"
)

// Registry holds named tool callbacks so options can refer to tools by name.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.ToolCallback
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]domain.ToolCallback),
		logger: logger,
	}
}

// Register adds a tool. Returns ErrDuplicateToolName if the name is taken.
func (r *Registry) Register(cb domain.ToolCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := cb.Definition().Name
	if _, exists := r.tools[name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicateToolName, name)
	}
	r.tools[name] = cb
	r.order = append(r.order, name)
	r.logger.Debug("tool registered", "tool", name)
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.ToolCallback, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cb, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return cb, nil
}

// List returns all registered tools in registration order.
func (r *Registry) List() []domain.ToolCallback {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ToolCallback, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

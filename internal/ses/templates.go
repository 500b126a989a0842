package ses

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// Renderer compiles liquid templates once and renders them by name.
type Renderer struct {
	engine *liquid.Engine
	mu     sync.RWMutex
	tpls   map[string]*liquid.Template
}

func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// {{ website | or_dash }} prints "-" for blank values.
	engine.RegisterFilter("or_dash", func(value interface{}) interface{} {
		if value == nil {
			return "-"
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			return "-"
		}
		return value
	})

	return &Renderer{engine: engine, tpls: make(map[string]*liquid.Template)}
}

// Register parses src and stores it under name.
func (r *Renderer) Register(name, src string) error {
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return fmt.Errorf("parse template %s: %w", name, err)
	}
	r.mu.Lock()
	r.tpls[name] = tpl
	r.mu.Unlock()
	return nil
}

// MustRegister is Register for templates compiled into the binary.
func (r *Renderer) MustRegister(name, src string) {
	if err := r.Register(name, src); err != nil {
		panic(err)
	}
}

// Render executes the named template with vars.
func (r *Renderer) Render(name string, vars map[string]interface{}) (string, error) {
	r.mu.RLock()
	tpl, ok := r.tpls[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %s not registered", name)
	}

	out, err := tpl.RenderString(vars)
	if err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return out, nil
}

package router

import (
	"strings"

	"chatbridge/internal/config"
	"chatbridge/internal/models"
)

// Rule maps requested model names to a route. Key is matched exactly first,
// then as a substring.
type Rule struct {
	Key   string
	Route models.Route
}

// Router resolves requested model names to backend routes. It is immutable
// and safe for concurrent use.
type Router struct {
	rules          []Rule
	defaultBackend string
}

// New constructs a router from an ordered rule table.
func New(rules []Rule, defaultBackend string) *Router {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return &Router{
		rules:          out,
		defaultBackend: defaultBackend,
	}
}

// FromConfig builds the rule table in the order the routes are configured.
func FromConfig(cfg config.Config) *Router {
	rules := make([]Rule, 0, len(cfg.Routes))
	for _, route := range cfg.Routes {
		rules = append(rules, Rule{
			Key:   route.Match,
			Route: models.Route{Backend: route.Backend, Model: route.Model},
		})
	}
	return New(rules, cfg.DefaultBackend)
}

// Resolve picks the route for model: an exact key match, else the first rule
// whose key is contained in model, else the default backend with model unchanged.
func (r *Router) Resolve(model string) models.Route {
	route, _ := r.Match(model)
	return route
}

// Match is Resolve that also reports whether a rule matched.
func (r *Router) Match(model string) (models.Route, bool) {
	for _, rule := range r.rules {
		if rule.Key == model {
			return rule.Route, true
		}
	}
	for _, rule := range r.rules {
		if strings.Contains(model, rule.Key) {
			return rule.Route, true
		}
	}
	return models.Route{Backend: r.defaultBackend, Model: model}, false
}

// Rules returns the rule table in match order.
func (r *Router) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// DefaultBackend names the backend used when no rule matches.
func (r *Router) DefaultBackend() string {
	return r.defaultBackend
}

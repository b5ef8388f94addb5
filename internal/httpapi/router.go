package httpapi

import (
	"context"
	"net/http"
	"strings"

	"worksuite.app/internal/obs"
)

// Params holds the values bound to ":name" pattern segments.
type Params map[string]string

// Match splits path and pattern on "/" and compares them segment by segment.
// A ":name" pattern segment binds the corresponding non-empty path segment;
// any other segment must match literally. Segment counts must be equal.
func Match(path, pattern string) (Params, bool) {
	ps := strings.Split(path, "/")
	pt := strings.Split(pattern, "/")
	if len(ps) != len(pt) {
		return nil, false
	}
	params := Params{}
	for i, seg := range pt {
		if len(seg) > 1 && seg[0] == ':' {
			if ps[i] == "" {
				return nil, false
			}
			params[seg[1:]] = ps[i]
			continue
		}
		if seg != ps[i] {
			return nil, false
		}
	}
	return params, true
}

type route struct {
	method  string
	pattern string
	handler http.Handler
}

// Router dispatches to the first rule whose method and pattern match.
type Router struct {
	routes   []route
	notFound http.Handler
}

func NewRouter() *Router {
	return &Router{
		notFound: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusNotFound, "not found")
		}),
	}
}

// Handle appends a rule. Rules are tried in registration order.
func (rt *Router) Handle(method, pattern string, h http.Handler) {
	rt.routes = append(rt.routes, route{method: method, pattern: pattern, handler: h})
}

func (rt *Router) HandleFunc(method, pattern string, fn http.HandlerFunc) {
	rt.Handle(method, pattern, fn)
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, rule := range rt.routes {
		if rule.method != "" && rule.method != r.Method {
			continue
		}
		params, ok := Match(r.URL.Path, rule.pattern)
		if !ok {
			continue
		}
		obs.SetRoute(r.Context(), rule.pattern)
		if len(params) > 0 {
			r = r.WithContext(context.WithValue(r.Context(), paramsKey{}, params))
		}
		rule.handler.ServeHTTP(w, r)
		return
	}
	rt.notFound.ServeHTTP(w, r)
}

type paramsKey struct{}

// PathParam returns the value bound to name by the matched route.
func PathParam(r *http.Request, name string) string {
	params, _ := r.Context().Value(paramsKey{}).(Params)
	return params[name]
}

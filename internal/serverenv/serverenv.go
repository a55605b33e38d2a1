// Package serverenv classifies the hosting environment and derives the
// runtime limit overrides that suit it.
package serverenv

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Model is how the host runs the bootstrap.
type Model int

const (
	ModelUnknown Model = iota
	// ModelWorkerPool is a pool of long-lived workers (FastCGI).
	ModelWorkerPool
	// ModelPerRequest starts one process per request (CGI).
	ModelPerRequest
	// ModelEmbedded runs inside the web server itself.
	ModelEmbedded
)

func (m Model) String() string {
	switch m {
	case ModelWorkerPool:
		return "worker-pool"
	case ModelPerRequest:
		return "per-request"
	case ModelEmbedded:
		return "embedded"
	default:
		return "unknown"
	}
}

// ParseModel parses a configured model name. Empty and unknown names map to
// ModelUnknown.
func ParseModel(s string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModelUnknown, nil
	case "worker-pool", "fcgi", "fastcgi":
		return ModelWorkerPool, nil
	case "per-request", "cgi":
		return ModelPerRequest, nil
	case "embedded", "http":
		return ModelEmbedded, nil
	default:
		return ModelUnknown, fmt.Errorf("unknown execution model %q", s)
	}
}

// Proxy is the web server in front of the bootstrap.
type Proxy int

const (
	ProxyUnknown Proxy = iota
	ProxyApache
	ProxyLiteSpeed
	ProxyNginx
)

func (p Proxy) String() string {
	switch p {
	case ProxyApache:
		return "apache"
	case ProxyLiteSpeed:
		return "litespeed"
	case ProxyNginx:
		return "nginx"
	default:
		return "unknown"
	}
}

// ParseProxy parses a configured proxy name.
func ParseProxy(s string) (Proxy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "auto" {
		return ProxyUnknown, nil
	}
	if p := proxyFromName(s); p != ProxyUnknown {
		return p, nil
	}
	return ProxyUnknown, fmt.Errorf("unknown proxy %q", s)
}

func proxyFromName(s string) Proxy {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "litespeed"), strings.Contains(s, "lshttpd"), strings.Contains(s, "openlitespeed"):
		return ProxyLiteSpeed
	case strings.Contains(s, "apache"), strings.Contains(s, "httpd"):
		return ProxyApache
	case strings.Contains(s, "nginx"):
		return ProxyNginx
	default:
		return ProxyUnknown
	}
}

// Environment is the detected classification.
type Environment struct {
	Model  Model
	Proxy  Proxy
	Parent string
}

func (e Environment) String() string {
	return e.Model.String() + "/" + e.Proxy.String()
}

// Detector classifies the environment. Configured values take precedence
// over anything detected.
type Detector struct {
	Model Model
	Proxy Proxy

	// ServerMode is the way the bootstrap was started: http, fcgi or cgi.
	ServerMode string

	parentName func(ctx context.Context) (string, error)
}

// NewDetector creates a detector with the given overrides.
func NewDetector(model Model, proxy Proxy, serverMode string) *Detector {
	return &Detector{
		Model:      model,
		Proxy:      proxy,
		ServerMode: serverMode,
		parentName: parentProcessName,
	}
}

// Detect classifies the environment from the overrides, the CGI variables
// in vars (os.Getenv when nil) and the parent process.
func (d *Detector) Detect(ctx context.Context, vars map[string]string) Environment {
	getenv := os.Getenv
	if vars != nil {
		getenv = func(k string) string { return vars[k] }
	}

	env := Environment{Model: d.Model, Proxy: d.Proxy}

	if d.parentName != nil && (env.Model == ModelUnknown || env.Proxy == ProxyUnknown) {
		if name, err := d.parentName(ctx); err == nil {
			env.Parent = name
		}
	}

	if env.Model == ModelUnknown {
		env.Model = d.detectModel(getenv, env.Parent)
	}
	if env.Proxy == ProxyUnknown {
		env.Proxy = proxyFromName(getenv("SERVER_SOFTWARE"))
	}
	if env.Proxy == ProxyUnknown && env.Parent != "" {
		env.Proxy = proxyFromName(env.Parent)
	}
	return env
}

func (d *Detector) detectModel(getenv func(string) string, parent string) Model {
	switch strings.ToLower(d.ServerMode) {
	case "fcgi":
		return ModelWorkerPool
	case "cgi":
		return ModelPerRequest
	case "http":
		return ModelEmbedded
	}
	if strings.HasPrefix(getenv("GATEWAY_INTERFACE"), "CGI/") {
		return ModelPerRequest
	}
	if p := strings.ToLower(parent); strings.Contains(p, "fpm") || strings.Contains(p, "fcgi") {
		return ModelWorkerPool
	}
	return ModelUnknown
}

func parentProcessName(ctx context.Context) (string, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getppid()))
	if err != nil {
		return "", err
	}
	return p.NameWithContext(ctx)
}

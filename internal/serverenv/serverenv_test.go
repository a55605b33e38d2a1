package serverenv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fixedParent(name string, err error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return name, err }
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name   string
		d      Detector
		vars   map[string]string
		parent string
		want   Environment
	}{
		{
			name: "fcgi behind nginx",
			d:    Detector{ServerMode: "fcgi"},
			vars: map[string]string{"SERVER_SOFTWARE": "nginx/1.25.3"},
			want: Environment{Model: ModelWorkerPool, Proxy: ProxyNginx},
		},
		{
			name: "cgi under apache",
			d:    Detector{},
			vars: map[string]string{"GATEWAY_INTERFACE": "CGI/1.1", "SERVER_SOFTWARE": "Apache/2.4.58 (Unix)"},
			want: Environment{Model: ModelPerRequest, Proxy: ProxyApache},
		},
		{
			name: "litespeed",
			d:    Detector{ServerMode: "cgi"},
			vars: map[string]string{"SERVER_SOFTWARE": "LiteSpeed"},
			want: Environment{Model: ModelPerRequest, Proxy: ProxyLiteSpeed},
		},
		{
			name:   "parent process",
			d:      Detector{},
			vars:   map[string]string{},
			parent: "php-fpm8.2",
			want:   Environment{Model: ModelWorkerPool, Proxy: ProxyUnknown, Parent: "php-fpm8.2"},
		},
		{
			name:   "parent proxy",
			d:      Detector{ServerMode: "http"},
			vars:   map[string]string{},
			parent: "httpd",
			want:   Environment{Model: ModelEmbedded, Proxy: ProxyApache, Parent: "httpd"},
		},
		{
			name: "overrides win",
			d:    Detector{Model: ModelEmbedded, Proxy: ProxyNginx, ServerMode: "fcgi"},
			vars: map[string]string{"SERVER_SOFTWARE": "Apache"},
			want: Environment{Model: ModelEmbedded, Proxy: ProxyNginx},
		},
		{
			name: "nothing known",
			d:    Detector{},
			vars: map[string]string{},
			want: Environment{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.d
			var err error
			if tt.parent == "" {
				err = errors.New("no parent")
			}
			d.parentName = fixedParent(tt.parent, err)
			got := d.Detect(context.Background(), tt.vars)
			if got != tt.want {
				t.Errorf("Detect() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	if m, err := ParseModel("FastCGI"); err != nil || m != ModelWorkerPool {
		t.Errorf("ParseModel(FastCGI) = %v, %v", m, err)
	}
	if m, err := ParseModel(""); err != nil || m != ModelUnknown {
		t.Errorf("ParseModel(\"\") = %v, %v", m, err)
	}
	if _, err := ParseModel("thread"); err == nil {
		t.Error("ParseModel(thread) should fail")
	}
	if p, err := ParseProxy("OpenLiteSpeed"); err != nil || p != ProxyLiteSpeed {
		t.Errorf("ParseProxy(OpenLiteSpeed) = %v, %v", p, err)
	}
	if _, err := ParseProxy("caddy"); err == nil {
		t.Error("ParseProxy(caddy) should fail")
	}
}

func TestOverrideFor(t *testing.T) {
	limits := Limits{MemoryLimit: "512M", MaxExecutionTime: 600}

	tests := []struct {
		env      Environment
		wantOK   bool
		wantFile string
		wantLine string
	}{
		{Environment{Model: ModelEmbedded, Proxy: ProxyApache}, false, "", ""},
		{Environment{Model: ModelUnknown, Proxy: ProxyNginx}, false, "", ""},
		{Environment{Model: ModelPerRequest, Proxy: ProxyApache}, true, ".htaccess", "php_value memory_limit 512M"},
		{Environment{Model: ModelWorkerPool, Proxy: ProxyLiteSpeed}, true, ".htaccess", "php_value max_execution_time 600"},
		{Environment{Model: ModelWorkerPool, Proxy: ProxyNginx}, true, ".user.ini", "memory_limit = 512M"},
		{Environment{Model: ModelPerRequest, Proxy: ProxyUnknown}, true, ".user.ini", "max_execution_time = 600"},
	}

	for _, tt := range tests {
		t.Run(tt.env.String(), func(t *testing.T) {
			o, ok := OverrideFor(tt.env, limits)
			if ok != tt.wantOK {
				t.Fatalf("OverrideFor() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if o.FileName != tt.wantFile {
				t.Errorf("FileName = %q, want %q", o.FileName, tt.wantFile)
			}
			if !strings.Contains(o.Content, tt.wantLine+"\n") {
				t.Errorf("Content = %q, want line %q", o.Content, tt.wantLine)
			}
		})
	}

	if _, ok := OverrideFor(Environment{Model: ModelWorkerPool}, Limits{}); ok {
		t.Error("empty limits should produce no override")
	}
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	o, _ := OverrideFor(Environment{Model: ModelWorkerPool, Proxy: ProxyNginx}, DefaultLimits())
	if err := Write(dir, o); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, ".user.ini"))
	if err != nil || string(got) != o.Content {
		t.Errorf("file = %q, %v", got, err)
	}

	if err := Write(filepath.Join(dir, "missing"), o); err == nil {
		t.Error("Write() into a missing directory should fail")
	}
	if err := Write(dir, Override{}); err != nil {
		t.Errorf("Write() of an empty override = %v", err)
	}
}

func TestHostRoom(t *testing.T) {
	h := CollectHost(context.Background(), t.TempDir())
	if h.OS == "" {
		t.Error("OS not set")
	}
	if !(Host{}).HasRoomFor(1 << 40) {
		t.Error("unknown free space should count as enough")
	}
	if (Host{DiskFree: 10}).HasRoomFor(11) {
		t.Error("11 bytes should not fit in 10")
	}
}

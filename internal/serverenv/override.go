package serverenv

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/slimrmm/siterestore/internal/failure"
)

// Limits are the runtime limits the next stage needs.
type Limits struct {
	MemoryLimit      string `mapstructure:"memory_limit" yaml:"memory_limit"`
	MaxExecutionTime int    `mapstructure:"max_execution_time" yaml:"max_execution_time"`
	MaxInputTime     int    `mapstructure:"max_input_time" yaml:"max_input_time"`
	UploadMaxSize    string `mapstructure:"upload_max_filesize" yaml:"upload_max_filesize"`
	PostMaxSize      string `mapstructure:"post_max_size" yaml:"post_max_size"`
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MemoryLimit:      "256M",
		MaxExecutionTime: 300,
		MaxInputTime:     300,
	}
}

type directive struct {
	key   string
	value string
}

func (l Limits) directives() []directive {
	var out []directive
	if l.MemoryLimit != "" {
		out = append(out, directive{"memory_limit", l.MemoryLimit})
	}
	if l.MaxExecutionTime > 0 {
		out = append(out, directive{"max_execution_time", strconv.Itoa(l.MaxExecutionTime)})
	}
	if l.MaxInputTime > 0 {
		out = append(out, directive{"max_input_time", strconv.Itoa(l.MaxInputTime)})
	}
	if l.UploadMaxSize != "" {
		out = append(out, directive{"upload_max_filesize", l.UploadMaxSize})
	}
	if l.PostMaxSize != "" {
		out = append(out, directive{"post_max_size", l.PostMaxSize})
	}
	return out
}

// Override is a configuration file to place in the installer folder.
type Override struct {
	FileName string
	Content  string
}

// OverrideFor maps an environment to its override file. Embedded and
// unknown models get none.
func OverrideFor(env Environment, limits Limits) (Override, bool) {
	if env.Model == ModelEmbedded || env.Model == ModelUnknown {
		return Override{}, false
	}
	dirs := limits.directives()
	if len(dirs) == 0 {
		return Override{}, false
	}

	var b strings.Builder
	switch env.Proxy {
	case ProxyApache, ProxyLiteSpeed:
		for _, d := range dirs {
			fmt.Fprintf(&b, "php_value %s %s\n", d.key, d.value)
		}
		return Override{FileName: ".htaccess", Content: b.String()}, true
	default:
		for _, d := range dirs {
			fmt.Fprintf(&b, "%s = %s\n", d.key, d.value)
		}
		return Override{FileName: ".user.ini", Content: b.String()}, true
	}
}

// Write places o in dir, replacing any previous file of the same name.
func Write(dir string, o Override) error {
	if o.FileName == "" {
		return nil
	}
	path := filepath.Join(dir, o.FileName)
	if err := os.WriteFile(path, []byte(o.Content), 0644); err != nil {
		return &failure.EnvironmentError{
			Reason: fmt.Sprintf("Unable to write %s.", o.FileName),
			Err:    err,
		}
	}
	return nil
}

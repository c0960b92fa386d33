package health

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mylxsw/asteria/log"
	"github.com/supremeagent/claudegate/pkg/executor"
	"github.com/xeipuuv/gojsonschema"
)

const mcpSchema = `{
  "type": "object",
  "required": ["mcpServers"],
  "properties": {
    "mcpServers": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "anyOf": [{"required": ["command"]}, {"required": ["url"]}],
        "properties": {
          "type": {"type": "string"},
          "command": {"type": "string", "minLength": 1},
          "url": {"type": "string", "minLength": 1},
          "args": {"type": "array", "items": {"type": "string"}},
          "env": {"type": "object", "additionalProperties": {"type": "string"}},
          "headers": {"type": "object", "additionalProperties": {"type": "string"}}
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(mcpSchema))
	})
	return schema, schemaErr
}

// ValidateMCPConfig checks that path holds a JSON document with an
// mcpServers map the CLI can load.
func ValidateMCPConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &executor.ConfigurationError{Setting: "mcp config", Err: err}
	}
	s, err := loadSchema()
	if err != nil {
		return err
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return &executor.ConfigurationError{Setting: "mcp config", Err: fmt.Errorf("invalid JSON: %w", err)}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &executor.ConfigurationError{Setting: "mcp config", Err: errors.New(strings.Join(msgs, "; "))}
	}
	return nil
}

const debounceInterval = 500 * time.Millisecond

// MCPWatcher re-validates the MCP config whenever the file changes.
type MCPWatcher struct {
	path     string
	fs       *fsnotify.Watcher
	onChange func(err error)
	done     chan struct{}
	wg       sync.WaitGroup
}

// WatchMCPConfig watches the directory of path, so editors that replace the
// file are noticed too. onChange may be nil.
func WatchMCPConfig(path string, onChange func(err error)) (*MCPWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &MCPWatcher{path: abs, fs: fsw, onChange: onChange, done: make(chan struct{})}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *MCPWatcher) loop() {
	defer w.wg.Done()
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		case evt, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != w.path {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, w.revalidate)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warningf("mcp config watcher error: %v", err)
		}
	}
}

func (w *MCPWatcher) revalidate() {
	select {
	case <-w.done:
		return
	default:
	}

	err := ValidateMCPConfig(w.path)
	if err != nil {
		log.WithFields(log.Fields{"path": w.path}).Errorf("mcp config changed and is now invalid: %v", err)
	} else {
		log.WithFields(log.Fields{"path": w.path}).Infof("mcp config reloaded")
	}
	if w.onChange != nil {
		w.onChange(err)
	}
}

func (w *MCPWatcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	err := w.fs.Close()
	w.wg.Wait()
	return err
}

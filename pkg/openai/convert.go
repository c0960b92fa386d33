package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/mylxsw/asteria/log"
	"github.com/supremeagent/claudegate/internal/files"
)

var (
	ErrNoMessages    = errors.New("messages must not be empty")
	ErrNoUserMessage = errors.New("the last message must have the user role")
)

// AttachmentError reports an image or file part that could not be stored.
type AttachmentError struct {
	Source string
	Err    error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment %s: %v", e.Source, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

// Workspaces provisions the working directory of a run.
type Workspaces interface {
	Ensure(name string) (string, error)
}

// Fetcher loads attachments referenced by image parts.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (*files.File, error)
}

// Conversion is a chat request reduced to one CLI run.
type Conversion struct {
	Prompt        string
	SystemPrompt  string
	Session       SessionConfig
	WorkspacePath string
	FilePaths     []string
}

type Converter struct {
	workspaces Workspaces
	fetcher    Fetcher
}

func NewConverter(workspaces Workspaces, fetcher Fetcher) *Converter {
	return &Converter{workspaces: workspaces, fetcher: fetcher}
}

// Convert recovers the session from the history, merges it with the tokens of
// the system prompt and the current message, provisions the workspace and
// stores attachments of the current message there.
func (c *Converter) Convert(ctx context.Context, req ChatRequest) (*Conversion, error) {
	msgs := req.Messages
	if len(msgs) == 0 {
		return nil, ErrNoMessages
	}
	last := msgs[len(msgs)-1]
	if last.Role != RoleUser {
		return nil, ErrNoUserMessage
	}

	var conv Conversion
	var systemCfg SessionConfig
	start := 0
	if msgs[0].Role == RoleSystem && len(msgs) > 1 {
		systemCfg, conv.SystemPrompt = ExtractSystemConfig(msgs[0].Content.PlainText())
		start = 1
	}

	currentCfg, prompt := ExtractMessageConfig(last.Content.PlainText())
	sessionCfg, resumed := ExtractSessionInfo(msgs[start : len(msgs)-1])
	if resumed {
		log.Debugf("resuming claude session %s", sessionCfg.SessionID)
	}

	conv.Session = Merge(currentCfg, sessionCfg, systemCfg)

	workspacePath, err := c.workspaces.Ensure(conv.Session.Workspace)
	if err != nil {
		return nil, err
	}
	conv.WorkspacePath = workspacePath

	if !last.Content.IsText() {
		conv.FilePaths, err = c.saveAttachments(ctx, last.Content.Parts, workspacePath)
		if err != nil {
			return nil, err
		}
	}
	conv.Prompt = files.PrefixPrompt(prompt, conv.FilePaths)
	return &conv, nil
}

func (c *Converter) saveAttachments(ctx context.Context, parts []ContentPart, dir string) ([]string, error) {
	var paths []string
	for _, part := range parts {
		switch {
		case part.Type == "image_url" && part.ImageURL != nil && part.ImageURL.URL != "":
			file, err := c.fetcher.Fetch(ctx, part.ImageURL.URL)
			if err != nil {
				return nil, &AttachmentError{Source: describeURI(part.ImageURL.URL), Err: err}
			}
			name := fmt.Sprintf("image_%s.%s", uuid.New().String(), imageExtension(part.ImageURL.URL, file.ContentType))
			p, err := files.Save(dir, name, file.Data)
			if err != nil {
				return nil, &AttachmentError{Source: name, Err: err}
			}
			paths = append(paths, p)

		case part.Type == "file" && part.File != nil && part.File.FileData != "":
			data, err := base64.StdEncoding.DecodeString(part.File.FileData)
			if err != nil {
				log.Warningf("skipping file part %q: %v", part.File.Filename, err)
				continue
			}
			name := files.SafeName(part.File.Filename)
			if name == "" {
				name = "file_" + uuid.New().String()
			}
			p, err := files.Save(dir, name, data)
			if err != nil {
				return nil, &AttachmentError{Source: name, Err: err}
			}
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// imageExtension prefers the data uri subtype, then the URL suffix, then the
// fetched content type.
func imageExtension(uri, contentType string) string {
	if rest, ok := strings.CutPrefix(uri, "data:image/"); ok {
		sub, _, _ := strings.Cut(rest, ";")
		sub, _, _ = strings.Cut(sub, ",")
		if sub == "jpeg" {
			return "jpg"
		}
		if sub != "" {
			return sub
		}
	}
	if u, err := url.Parse(uri); err == nil && u.Scheme != "data" {
		if ext := strings.TrimPrefix(path.Ext(u.Path), "."); ext != "" {
			return strings.ToLower(ext)
		}
	}
	if ext := files.ExtensionFor(contentType); ext != "bin" {
		return ext
	}
	return "png"
}

func describeURI(uri string) string {
	if strings.HasPrefix(uri, "data:") {
		head, _, _ := strings.Cut(uri, ",")
		return head
	}
	return uri
}

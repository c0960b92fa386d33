// Package gateway runs Claude CLI requests for the native and the OpenAI
// compatible protocol.
package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/mylxsw/asteria/log"
	"github.com/supremeagent/claudegate/internal/files"
	"github.com/supremeagent/claudegate/pkg/executor"
	"github.com/supremeagent/claudegate/pkg/executor/claude"
	"github.com/supremeagent/claudegate/pkg/openai"
)

// Options configures a Client.
type Options struct {
	Supervisor *executor.Supervisor
	Workspaces openai.Workspaces
	Fetcher    openai.Fetcher
	ChunkSize  int
	Hooks      Hooks
}

// Client is the entry point of both protocols.
type Client struct {
	supervisor *executor.Supervisor
	workspaces openai.Workspaces
	converter  *openai.Converter
	chunkSize  int
	hooks      Hooks
}

func New(opts Options) *Client {
	if opts.Fetcher == nil {
		opts.Fetcher = files.NewFetcher(nil)
	}
	return &Client{
		supervisor: opts.Supervisor,
		workspaces: opts.Workspaces,
		converter:  openai.NewConverter(opts.Workspaces, opts.Fetcher),
		chunkSize:  opts.ChunkSize,
		hooks:      opts.Hooks,
	}
}

// Supervisor returns the process supervisor shared by all streams.
func (c *Client) Supervisor() *executor.Supervisor { return c.supervisor }

// StreamNative relays the raw CLI lines of one run to emit.
func (c *Client) StreamNative(ctx context.Context, req NativeRequest, emit func(line string) error) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return ErrPromptRequired
	}
	if err := checkTools(req.AllowedTools, req.DisallowedTools); err != nil {
		return err
	}

	workspacePath, err := c.workspaces.Ensure(req.Workspace)
	if err != nil {
		return err
	}
	paths := files.ResolvePaths(workspacePath, req.Files)
	if len(paths) > 0 {
		log.WithFields(log.Fields{"files": paths}).Debugf("attaching %d files to prompt", len(paths))
	}

	run := executor.Request{
		Prompt:        files.PrefixPrompt(req.Prompt, paths),
		SessionID:     req.SessionID,
		WorkspacePath: workspacePath,
		Options: executor.Options{
			SystemPrompt:    req.SystemPrompt,
			SkipPermissions: req.SkipPermissions,
			AllowedTools:    req.AllowedTools,
			DisallowedTools: req.DisallowedTools,
			Skills:          req.Skills,
			SkillOptions:    req.SkillOptions,
		},
	}

	return c.run(ctx, RouteNative, run, func(line string) (bool, error) {
		return false, emit(line)
	}, nil)
}

// StreamChat converts a chat request, runs it and emits the translated
// chunks. The caller writes the [DONE] terminator when nil is returned.
func (c *Client) StreamChat(ctx context.Context, req openai.ChatRequest, emit func(openai.Chunk) error) error {
	conv, err := c.converter.Convert(ctx, req)
	if err != nil {
		return err
	}
	session := conv.Session
	if err := checkTools(session.AllowedTools, session.DisallowedTools); err != nil {
		return err
	}

	tr := openai.NewTranslator(openai.TranslatorOptions{
		Model:        req.Model,
		ChunkSize:    c.chunkSize,
		ShowThinking: session.ThinkingVisible(),
		Session:      session,
	})

	run := executor.Request{
		Prompt:        conv.Prompt,
		SessionID:     session.SessionID,
		WorkspacePath: conv.WorkspacePath,
		Options: executor.Options{
			SystemPrompt:    conv.SystemPrompt,
			SkipPermissions: session.SkipsPermissions(),
			AllowedTools:    session.AllowedTools,
			DisallowedTools: session.DisallowedTools,
			Skills:          session.Skills,
			SkillOptions:    session.SkillOptions,
		},
	}

	emitAll := func(chunks []openai.Chunk) error {
		for _, chunk := range chunks {
			if err := emit(chunk); err != nil {
				return err
			}
		}
		return nil
	}

	return c.run(ctx, RouteChat, run, func(line string) (bool, error) {
		evt, err := claude.Decode(line)
		if err != nil {
			var decodeErr *claude.DecodeError
			if errors.As(err, &decodeErr) && c.hooks.OnDecodeError != nil {
				c.hooks.OnDecodeError(ctx, decodeErr)
			}
			log.Debugf("skipping claude output line: %v", err)
			return false, nil
		}
		if err := emitAll(tr.Translate(evt)); err != nil {
			return true, err
		}
		return tr.Finished(), nil
	}, func() error {
		return emitAll(tr.Close())
	})
}

// run spawns the CLI for req and feeds each line to handle until it reports
// done. finish runs once the output ended, also before a process error is
// returned.
func (c *Client) run(ctx context.Context, route Route, req executor.Request, handle func(line string) (bool, error), finish func() error) (err error) {
	if c.hooks.OnStart != nil {
		c.hooks.OnStart(ctx, route, req)
	}
	defer func() {
		if c.hooks.OnEnd != nil {
			c.hooks.OnEnd(ctx, route, err)
		}
	}()

	p, err := c.supervisor.Spawn(ctx, req)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"route":   string(route),
		"pid":     p.PID(),
		"session": req.SessionID,
	}).Debugf("streaming claude output")

	var streamErr error
	for line, lineErr := range c.supervisor.StreamLines(ctx, p) {
		if lineErr != nil {
			streamErr = lineErr
			break
		}
		done, herr := handle(line)
		if herr != nil {
			return herr
		}
		if done {
			break
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if finish != nil {
		if ferr := finish(); ferr != nil {
			return ferr
		}
	}
	return streamErr
}

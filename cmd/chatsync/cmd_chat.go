// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/session"
	"github.com/AleutianAI/AleutianChatSync/pkg/validation"
)

const maxLineBytes = 1 << 20

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// =============================================================================
// chat
// =============================================================================

func newChatCmd(a *app) *cobra.Command {
	var conversation, metricsAddr string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation.

Lines are sent as messages. Commands:
  /new           start a new conversation
  /load <uuid>   open an existing conversation
  /quit          exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := newClientStack(a.cfg, a.logger.Slog())
			if err != nil {
				return err
			}
			defer stack.close()

			out := cmd.OutOrStdout()
			r := newRenderer(out)
			p := &repl{
				ctrl:   stack.controller,
				r:      r,
				out:    out,
				prompt: isTerminal(os.Stdin),
			}
			defer stack.controller.Subscribe(r.onSnapshot)()
			defer stack.onSessionExpired(r.sessionExpired)()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			g, ctx := errgroup.WithContext(ctx)

			if metricsAddr != "" {
				srv := &http.Server{
					Addr:    metricsAddr,
					Handler: promhttp.HandlerFor(stack.registry, promhttp.HandlerOpts{}),
				}
				g.Go(func() error { return serveHTTP(ctx, srv) })
			}

			g.Go(func() error {
				defer cancel()
				r.banner(a.cfg.Server.BaseURL)
				if conversation != "" {
					p.load(ctx, conversation)
				}
				return p.run(ctx, cmd.InOrStdin())
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&conversation, "conversation", "", "open this conversation uuid first")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve client metrics on this address")
	return cmd
}

// repl reads lines and drives one controller.
type repl struct {
	ctrl   *session.Controller
	r      *renderer
	out    io.Writer
	prompt bool
}

func (p *repl) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		if p.prompt {
			fmt.Fprint(p.out, "› ")
		}
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if p.handle(ctx, strings.TrimSpace(line)) {
				return nil
			}
		}
	}
}

// handle runs one input line and reports whether the REPL should exit.
// Unknown slash commands are sent as messages.
func (p *repl) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/new":
		if err := p.ctrl.Reset(); err != nil {
			p.r.turnFailed(err)
			return false
		}
		p.r.notice("Started a new conversation.")
	case "/load":
		arg = strings.TrimSpace(arg)
		if arg == "" {
			p.r.notice("usage: /load <uuid>")
			return false
		}
		p.load(ctx, arg)
	default:
		p.send(ctx, line)
	}
	return false
}

func (p *repl) load(ctx context.Context, arg string) {
	id, err := validation.ConversationID(arg)
	if err != nil {
		p.r.turnFailed(err)
		return
	}
	if err := p.ctrl.Load(ctx, id); err != nil {
		p.r.turnFailed(err)
		return
	}
	p.r.conversation(p.ctrl.Snapshot())
}

func (p *repl) send(ctx context.Context, content string) {
	res, err := p.ctrl.SendMessage(ctx, content)
	if err != nil {
		p.r.turnFailed(err)
		return
	}
	p.r.turnDone(res)
}

// =============================================================================
// send
// =============================================================================

func newSendCmd(a *app) *cobra.Command {
	var conversation string

	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: "Send one message and print the streamed reply",
		Long: `Send one message and print the streamed reply. With no arguments the
message is read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			if content == "" {
				data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxLineBytes))
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				content = string(data)
			}

			stack, err := newClientStack(a.cfg, a.logger.Slog())
			if err != nil {
				return err
			}
			defer stack.close()

			r := newRenderer(cmd.OutOrStdout())
			defer stack.controller.Subscribe(r.onSnapshot)()
			defer stack.onSessionExpired(r.sessionExpired)()

			return sendOnce(cmd.Context(), stack.controller, r, conversation, content)
		},
	}
	cmd.Flags().StringVar(&conversation, "conversation", "", "post into this conversation uuid")
	return cmd
}

func sendOnce(ctx context.Context, ctrl *session.Controller, r *renderer, conversation, content string) error {
	if conversation != "" {
		id, err := validation.ConversationID(conversation)
		if err != nil {
			return err
		}
		if err := ctrl.Load(ctx, id); err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
	}
	res, err := ctrl.SendMessage(ctx, strings.TrimSpace(content))
	if err != nil {
		if errors.Is(err, session.ErrEmptyMessage) {
			return err
		}
		r.turnFailed(err)
		return err
	}
	r.turnDone(res)
	if res.Created {
		r.notice("conversation " + res.ConversationID)
	}
	return nil
}

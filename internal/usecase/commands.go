package usecase

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

// CommandKind identifies one operator command.
type CommandKind int

const (
	CmdPackages CommandKind = iota + 1
	CmdScoped
	CmdGlobal
	CmdIgnore
	CmdUnignore
	CmdIgnoring
	CmdAlive
	CmdHelp
)

// commandNames maps the wire form of each command to its kind.
var commandNames = map[string]CommandKind{
	"/packages": CmdPackages,
	"/pm":       CmdScoped,
	"/nm":       CmdGlobal,
	"/ignore":   CmdIgnore,
	"/unignore": CmdUnignore,
	"/ignoring": CmdIgnoring,
	"/alive":    CmdAlive,
	"/help":     CmdHelp,
	"/start":    CmdHelp,
}

// Command is a parsed operator command. IDs is set for CmdScoped and
// Fingerprint for CmdIgnore and CmdUnignore.
type Command struct {
	Kind        CommandKind
	IDs         []int
	Fingerprint domain.Fingerprint
}

// ParseCommand parses typed text or callback data.
// ok is false for anything that is not a known command; such input must be
// ignored without a reply. err is set when a known command has malformed
// arguments.
func ParseCommand(text string) (cmd Command, ok bool, err error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Command{}, false, nil
	}

	name := strings.ToLower(fields[0])
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at] // "/alive@my_bot"
	}
	kind, known := commandNames[name]
	if !known {
		return Command{}, false, nil
	}

	cmd = Command{Kind: kind}
	args := fields[1:]

	switch kind {
	case CmdScoped:
		cmd.IDs, err = parseIDs(args)
	case CmdIgnore, CmdUnignore:
		if len(args) != 1 {
			err = fmt.Errorf("%w: expected one fingerprint", domain.ErrInvalidArgument)
			break
		}
		cmd.Fingerprint, err = domain.ParseFingerprint(args[0])
	}
	return cmd, true, err
}

// parseIDs accepts "7", "7,8", "7, 8" and "7 8".
func parseIDs(args []string) ([]int, error) {
	joined := strings.Join(args, ",")
	var ids []int
	for _, tok := range strings.Split(joined, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		id, err := strconv.Atoi(tok)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: %q is not a package id", domain.ErrInvalidArgument, tok)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no package ids given", domain.ErrInvalidArgument)
	}
	return ids, nil
}

type commandHandler func(ctx context.Context, cmd Command) *domain.Message

// CommandProcessor dispatches operator commands against the router.
type CommandProcessor struct {
	router   *Router
	status   StatusProvider
	logger   *zap.Logger
	handlers map[CommandKind]commandHandler
}

// NewCommandProcessor creates a processor with a handler for every CommandKind.
func NewCommandProcessor(router *Router, status StatusProvider, logger *zap.Logger) *CommandProcessor {
	p := &CommandProcessor{
		router: router,
		status: status,
		logger: logger,
	}
	p.handlers = map[CommandKind]commandHandler{
		CmdPackages: p.handlePackages,
		CmdScoped:   p.handleScoped,
		CmdGlobal:   p.handleGlobal,
		CmdIgnore:   p.handleIgnore,
		CmdUnignore: p.handleUnignore,
		CmdIgnoring: p.handleIgnoring,
		CmdAlive:    p.handleAlive,
		CmdHelp:     p.handleHelp,
	}
	return p
}

// Handle processes one inbound command and returns the reply, or nil when
// the text is not a command and nothing should be sent.
func (p *CommandProcessor) Handle(ctx context.Context, text string) *domain.Message {
	cmd, ok, err := ParseCommand(text)
	if !ok {
		return nil
	}
	if err != nil {
		p.logger.Info("rejected command", zap.String("text", text), zap.Error(err))
		return reply(rejection(cmd.Kind, err))
	}

	handler, ok := p.handlers[cmd.Kind]
	if !ok {
		p.logger.Error("no handler for command", zap.Int("kind", int(cmd.Kind)))
		return nil
	}

	p.logger.Info("handling command", zap.String("text", text))
	return handler(ctx, cmd)
}

func (p *CommandProcessor) handlePackages(ctx context.Context, _ Command) *domain.Message {
	pkgs, err := p.router.RefreshPackages(ctx)
	if err != nil {
		p.logger.Warn("failed to refresh packages", zap.Error(err))
		pkgs = p.router.Packages()
	}
	return reply(FormatPackages(pkgs))
}

func (p *CommandProcessor) handleScoped(ctx context.Context, cmd Command) *domain.Message {
	labels, err := p.router.EnterScoped(ctx, cmd.IDs)
	if err != nil {
		return reply("❌ None of those package IDs are known. Send /packages for the current list.")
	}
	return reply("🎯 Only reporting errors from: <code>" + escapeJoin(labels) + "</code>\nSend /nm to report everything again.")
}

func (p *CommandProcessor) handleGlobal(context.Context, Command) *domain.Message {
	p.router.EnterGlobal()
	return reply("🌐 Reporting errors from every process.")
}

func (p *CommandProcessor) handleIgnore(_ context.Context, cmd Command) *domain.Message {
	if !p.router.Ignore(cmd.Fingerprint) {
		return reply("ℹ️ <code>" + cmd.Fingerprint.String() + "</code> is already ignored.")
	}
	return reply("🔕 Ignoring <code>" + cmd.Fingerprint.String() + "</code>.")
}

func (p *CommandProcessor) handleUnignore(_ context.Context, cmd Command) *domain.Message {
	if err := p.router.Unignore(cmd.Fingerprint); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return reply("ℹ️ <code>" + cmd.Fingerprint.String() + "</code> was not ignored.")
		}
		return reply("❌ " + err.Error())
	}
	return reply("🔔 Reporting <code>" + cmd.Fingerprint.String() + "</code> again.")
}

func (p *CommandProcessor) handleIgnoring(context.Context, Command) *domain.Message {
	return reply(FormatIgnoring(p.router.Ignoring()))
}

func (p *CommandProcessor) handleAlive(context.Context, Command) *domain.Message {
	mode, watched := p.router.Mode()
	var st Status
	if p.status != nil {
		st = p.status.Status()
	}
	return reply(FormatStatus(st, mode, watched, len(p.router.Ignoring())))
}

func (p *CommandProcessor) handleHelp(context.Context, Command) *domain.Message {
	msg := reply(HelpText)
	msg.Controls = CommandControls()
	return msg
}

func rejection(kind CommandKind, err error) string {
	switch kind {
	case CmdScoped:
		return "❌ Usage: <code>/pm 1,2,3</code> (numeric IDs from /packages)"
	case CmdIgnore:
		return "❌ Usage: <code>/ignore #AB12CD34</code>"
	case CmdUnignore:
		return "❌ Usage: <code>/unignore #AB12CD34</code>"
	default:
		return "❌ " + err.Error()
	}
}

func reply(text string) *domain.Message {
	return &domain.Message{Text: text, ParseMode: parseModeHTML}
}

func escapeJoin(labels []string) string {
	return html.EscapeString(strings.Join(labels, ", "))
}

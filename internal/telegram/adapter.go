package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/assetlink/internal/runner"
	"github.com/user/assetlink/internal/state"
)

const maxTelegramMessage = 4096

// Prefix is the delivery target prefix handled by the adapter.
const Prefix = "telegram:"

// Sender is the part of the bot API the adapter sends through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter delivers job reports to Telegram chats and accepts /run commands.
type Adapter struct {
	bot    *tgbotapi.BotAPI
	sender Sender
	runner *runner.Runner
	jobs   *state.JobStore
}

// New creates a Telegram adapter.
func New(token string, r *runner.Runner, jobs *state.JobStore) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{bot: bot, sender: bot, runner: r, jobs: jobs}, nil
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			a.handleCommand(update.Message.Chat.ID, update.Message.Command(), update.Message.CommandArguments())
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleCommand(chatID int64, command, args string) {
	switch command {
	case "start", "help":
		a.sendResponse(chatID, "assetlink bot. Available: /jobs, /run <job>")

	case "jobs":
		jobs, err := a.jobs.List()
		if err != nil {
			a.sendResponse(chatID, "Error listing jobs.")
			return
		}
		if len(jobs) == 0 {
			a.sendResponse(chatID, "No jobs configured.")
			return
		}
		var b strings.Builder
		for _, job := range jobs {
			status := "enabled"
			if !job.Enabled {
				status = "disabled"
			}
			fmt.Fprintf(&b, "%s: %s (%s)\n", job.Name, job.Asset, status)
		}
		a.sendResponse(chatID, strings.TrimRight(b.String(), "\n"))

	case "run":
		name := strings.TrimSpace(args)
		job, err := a.jobs.Get(name)
		if err != nil {
			a.sendResponse(chatID, fmt.Sprintf("Unknown job %q.", name))
			return
		}
		req, err := a.runner.Submit(job, "telegram", func(rep *runner.Report) {
			a.sendResponse(chatID, rep.Summary())
		})
		if err != nil {
			a.sendResponse(chatID, fmt.Sprintf("Could not queue %s: %v", name, err))
			return
		}
		a.sendResponse(chatID, fmt.Sprintf("Queued %s (run %s).", name, req.ID))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /jobs, /run <job>")
	}
}

// Deliver sends message to the chat named by target ("telegram:<chat id>").
// It is registered as the delivery handler for Prefix.
func (a *Adapter) Deliver(target, message string) error {
	chatID, err := ParseTarget(target)
	if err != nil {
		return err
	}
	for _, part := range splitMessage(message) {
		if _, err := a.sender.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("send to %d: %w", chatID, err)
		}
	}
	return nil
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		if _, err := a.sender.Send(msg); err != nil {
			slog.Warn("telegram send failed", "chat_id", chatID, "error", err)
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

// ParseTarget extracts the chat id from "telegram:<chat id>".
func ParseTarget(target string) (int64, error) {
	rest, ok := strings.CutPrefix(target, Prefix)
	if !ok {
		return 0, fmt.Errorf("not a telegram target: %s", target)
	}
	chatID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", rest, err)
	}
	return chatID, nil
}

// Target builds the delivery target of a chat.
func Target(chatID int64) string {
	return Prefix + strconv.FormatInt(chatID, 10)
}

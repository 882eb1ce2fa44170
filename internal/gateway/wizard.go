package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/marketbot/relay/internal/bus"
	"github.com/marketbot/relay/internal/config"
	"github.com/marketbot/relay/pkg/protocol"
)

// The onboarding wizard walks a connected client through minimal setup:
// pick a provider, supply credentials, optionally enable one channel.
// Answers are applied to the live config and persisted when done. One
// wizard session per client, dropped on disconnect.

type wizardStep struct {
	ID       string `json:"id"`
	Prompt   string `json:"prompt"`
	Optional bool   `json:"optional,omitempty"`
	Secret   bool   `json:"secret,omitempty"`
}

type wizardSession struct {
	steps   []wizardStep
	answers map[string]string
	idx     int
}

func newWizardSession() *wizardSession {
	return &wizardSession{
		steps: []wizardStep{
			{ID: "provider", Prompt: "AI provider (anthropic, openai, openrouter, gemini)"},
			{ID: "apiKey", Prompt: "API key for the provider (blank to keep env value)", Optional: true, Secret: true},
			{ID: "model", Prompt: "model id (blank for default)", Optional: true},
			{ID: "channel", Prompt: "channel to enable (telegram, discord, slack, whatsapp, dingtalk, none)"},
		},
		answers: make(map[string]string),
	}
}

func (w *wizardSession) current() wizardStep { return w.steps[w.idx] }

func (w *wizardSession) done() bool { return w.idx >= len(w.steps) }

// advance records the answer for the current step and appends
// follow-up steps the answer implies.
func (w *wizardSession) advance(answer string) error {
	step := w.current()
	answer = strings.TrimSpace(answer)
	if answer == "" && !step.Optional {
		return fmt.Errorf("step %s requires an answer", step.ID)
	}

	switch step.ID {
	case "provider":
		answer = strings.ToLower(answer)
		switch answer {
		case "anthropic", "openai", "openrouter", "gemini":
		default:
			return fmt.Errorf("unknown provider %q", answer)
		}
	case "channel":
		answer = strings.ToLower(answer)
		switch answer {
		case "none":
		case "telegram", "discord":
			w.steps = append(w.steps, wizardStep{ID: answer + ".token", Prompt: answer + " bot token", Secret: true})
		case "slack":
			w.steps = append(w.steps,
				wizardStep{ID: "slack.botToken", Prompt: "slack bot token (xoxb-...)", Secret: true},
				wizardStep{ID: "slack.appToken", Prompt: "slack app token (xapp-...)", Secret: true})
		case "whatsapp":
			w.steps = append(w.steps, wizardStep{ID: "whatsapp.bridgeUrl", Prompt: "whatsapp bridge websocket url"})
		case "dingtalk":
			w.steps = append(w.steps,
				wizardStep{ID: "dingtalk.clientId", Prompt: "dingtalk client id"},
				wizardStep{ID: "dingtalk.clientSecret", Prompt: "dingtalk client secret", Secret: true})
		default:
			return fmt.Errorf("unknown channel %q", answer)
		}
	}

	w.answers[step.ID] = answer
	w.idx++
	return nil
}

// apply writes the collected answers into cfg.
func (w *wizardSession) apply(cfg *config.Config) {
	if v := w.answers["provider"]; v != "" {
		cfg.Agents.Defaults.Provider = v
	}
	if v := w.answers["model"]; v != "" {
		cfg.Agents.Defaults.Model = v
	}
	if key := w.answers["apiKey"]; key != "" {
		switch w.answers["provider"] {
		case "anthropic":
			cfg.Providers.Anthropic.APIKey = key
		case "openai":
			cfg.Providers.OpenAI.APIKey = key
		case "openrouter":
			cfg.Providers.OpenRouter.APIKey = key
		case "gemini":
			cfg.Providers.Gemini.APIKey = key
		}
	}
	switch w.answers["channel"] {
	case "telegram":
		cfg.Channels.Telegram.Token = w.answers["telegram.token"]
		cfg.Channels.Telegram.Enabled = true
	case "discord":
		cfg.Channels.Discord.Token = w.answers["discord.token"]
		cfg.Channels.Discord.Enabled = true
	case "slack":
		cfg.Channels.Slack.BotToken = w.answers["slack.botToken"]
		cfg.Channels.Slack.AppToken = w.answers["slack.appToken"]
		cfg.Channels.Slack.Enabled = true
	case "whatsapp":
		cfg.Channels.WhatsApp.BridgeURL = w.answers["whatsapp.bridgeUrl"]
		cfg.Channels.WhatsApp.Enabled = true
	case "dingtalk":
		cfg.Channels.DingTalk.ClientID = w.answers["dingtalk.clientId"]
		cfg.Channels.DingTalk.ClientSecret = w.answers["dingtalk.clientSecret"]
		cfg.Channels.DingTalk.Enabled = true
	}
}

func (s *Server) handleWizardStart(_ context.Context, client *Client, req *protocol.RequestFrame) {
	s.mu.Lock()
	w := newWizardSession()
	s.wizards[client.id] = w
	s.mu.Unlock()

	step := w.current()
	s.emitWizardEvent(client.id, "started", &step)
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"step":  step,
		"total": len(w.steps),
	}))
}

type wizardNextParams struct {
	Answer string `json:"answer"`
}

func (s *Server) handleWizardNext(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var p wizardNextParams
	if len(req.Params) > 0 {
		json.Unmarshal(req.Params, &p)
	}

	s.mu.Lock()
	w := s.wizards[client.id]
	s.mu.Unlock()
	if w == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"no wizard in progress, call wizard.start first"))
		return
	}

	if err := w.advance(p.Answer); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, err.Error()))
		return
	}

	if !w.done() {
		step := w.current()
		s.emitWizardEvent(client.id, "step", &step)
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
			"step":  step,
			"total": len(w.steps),
		}))
		return
	}

	w.apply(s.cfg)
	s.cfg.ApplyEnvOverrides()
	if s.cfgPath != "" {
		if err := config.Save(s.cfgPath, s.cfg); err != nil {
			slog.Error("wizard config save failed", "path", s.cfgPath, "error", err)
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable,
				"config save failed: "+err.Error()))
			return
		}
	}

	s.mu.Lock()
	delete(s.wizards, client.id)
	s.mu.Unlock()

	slog.Info("wizard completed", "client", client.id, "provider", w.answers["provider"], "channel", w.answers["channel"])
	s.emitWizardEvent(client.id, "completed", nil)
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"done":  true,
		"saved": s.cfgPath != "",
	}))
}

func (s *Server) handleWizardCancel(_ context.Context, client *Client, req *protocol.RequestFrame) {
	s.mu.Lock()
	_, active := s.wizards[client.id]
	delete(s.wizards, client.id)
	s.mu.Unlock()

	if active {
		s.emitWizardEvent(client.id, "cancelled", nil)
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]bool{"cancelled": active}))
}

func (s *Server) emitWizardEvent(clientID, state string, step *wizardStep) {
	payload := map[string]interface{}{
		"clientId": clientID,
		"state":    state,
	}
	if step != nil {
		payload["step"] = step.ID
	}
	s.eventPub.Broadcast(bus.Event{Name: protocol.EventWizard, Payload: payload})
}

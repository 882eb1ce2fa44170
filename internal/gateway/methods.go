package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/marketbot/relay/internal/bus"
	"github.com/marketbot/relay/pkg/protocol"
)

// HandlerFunc handles one RPC method invocation.
type HandlerFunc func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter maps method names onto handlers.
type MethodRouter struct {
	handlers map[string]HandlerFunc
}

// NewMethodRouter creates an empty router.
func NewMethodRouter() *MethodRouter {
	return &MethodRouter{handlers: make(map[string]HandlerFunc)}
}

// Register adds a handler for a method name.
func (r *MethodRouter) Register(method string, h HandlerFunc) {
	r.handlers[method] = h
}

// Dispatch invokes the handler for req, or answers INVALID_REQUEST.
func (r *MethodRouter) Dispatch(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	h, ok := r.handlers[req.Method]
	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"unknown method "+req.Method))
		return
	}
	h(ctx, client, req)
}

func (s *Server) registerCoreMethods() {
	s.router.Register(protocol.MethodHealth, s.handleHealthMethod)
	s.router.Register(protocol.MethodStatus, s.handleStatus)
	s.router.Register(protocol.MethodSend, s.handleSend)
	s.router.Register(protocol.MethodSessionsList, s.handleSessionsList)
	s.router.Register(protocol.MethodSessionsPreview, s.handleSessionsPreview)
	s.router.Register(protocol.MethodSessionsReset, s.handleSessionsReset)
	s.router.Register(protocol.MethodSessionsDelete, s.handleSessionsDelete)
	s.router.Register(protocol.MethodChannelsList, s.handleChannelsList)
	s.router.Register(protocol.MethodChannelsStatus, s.handleChannelsStatus)
	s.router.Register(protocol.MethodCronList, s.handleCronList)
	s.router.Register(protocol.MethodCronRun, s.handleCronRun)
	s.router.Register(protocol.MethodNodesList, s.handleNodesList)
	s.router.Register(protocol.MethodChatSend, s.handleChatSend)
	s.router.Register(protocol.MethodChatAbort, s.handleChatAbort)
	s.router.Register(protocol.MethodPairingApprove, s.handlePairingApprove)
	s.router.Register(protocol.MethodPairingList, s.handlePairingList)
	s.router.Register(protocol.MethodPairingRevoke, s.handlePairingRevoke)
	s.router.Register(protocol.MethodWizardStart, s.handleWizardStart)
	s.router.Register(protocol.MethodWizardNext, s.handleWizardNext)
	s.router.Register(protocol.MethodWizardCancel, s.handleWizardCancel)
}

func (s *Server) handleHealthMethod(_ context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"status":   "ok",
		"protocol": protocol.ProtocolVersion,
		"uptimeMs": time.Since(s.startedAt).Milliseconds(),
	}))
}

func (s *Server) handleStatus(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var channelStatus map[string]bool
	if s.manager != nil {
		channelStatus = s.manager.Status()
	}
	var active []string
	if s.routing != nil {
		active = s.routing.ActiveSessions()
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"server":         "mbrelay",
		"version":        ServerVersion,
		"protocol":       protocol.ProtocolVersion,
		"uptimeMs":       time.Since(s.startedAt).Milliseconds(),
		"channels":       channelStatus,
		"activeSessions": active,
		"config":         s.cfg.MaskedCopy(),
	}))
}

type sendParams struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// handleSend delivers an operator message straight to a channel.
func (s *Server) handleSend(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var p sendParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.Channel == "" || p.To == "" || p.Message == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"send requires channel, to, and message"))
		return
	}
	if s.manager == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, "no channels running"))
		return
	}
	if err := s.manager.SendToChannel(ctx, p.Channel, p.To, p.Message); err != nil {
		slog.Error("gateway send failed", "channel", p.Channel, "error", err)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]bool{"sent": true}))
}

type sessionsParams struct {
	AgentID    string `json:"agentId,omitempty"`
	SessionKey string `json:"sessionKey,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

func (s *Server) sessionAgent(p sessionsParams) string {
	if p.AgentID != "" {
		return p.AgentID
	}
	return s.cfg.ResolveDefaultAgentID()
}

func (s *Server) handleSessionsList(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var p sessionsParams
	if len(req.Params) > 0 {
		json.Unmarshal(req.Params, &p)
	}
	index, err := s.runner.Store(s.sessionAgent(p)).Index()
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error()))
		return
	}

	type sessionInfo struct {
		Key       string    `json:"key"`
		SessionID string    `json:"sessionId"`
		UpdatedAt time.Time `json:"updatedAt"`
		Summary   string    `json:"summary,omitempty"`
	}
	list := make([]sessionInfo, 0, len(index))
	for key, entry := range index {
		list = append(list, sessionInfo{
			Key:       key,
			SessionID: entry.SessionID,
			UpdatedAt: entry.UpdatedAt,
			Summary:   entry.Summary,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{"sessions": list}))
}

func (s *Server) handleSessionsPreview(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var p sessionsParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.SessionKey == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"sessions.preview requires sessionKey"))
		return
	}
	entries, err := s.runner.Store(s.sessionAgent(p)).LoadRecent(p.SessionKey)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error()))
		return
	}
	limit := p.Limit
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{
		"sessionKey": p.SessionKey,
		"entries":    entries[len(entries)-limit:],
	}))
}

func (s *Server) handleSessionsReset(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var p sessionsParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.SessionKey == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"sessions.reset requires sessionKey"))
		return
	}
	if err := s.runner.Store(s.sessionAgent(p)).Reset(p.SessionKey); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]bool{"reset": true}))
}

func (s *Server) handleSessionsDelete(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var p sessionsParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.SessionKey == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"sessions.delete requires sessionKey"))
		return
	}
	if err := s.runner.Store(s.sessionAgent(p)).Delete(p.SessionKey); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]bool{"deleted": true}))
}

func (s *Server) handleChannelsList(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var names []string
	if s.manager != nil {
		names = s.manager.EnabledChannels()
	}
	sort.Strings(names)
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{"channels": names}))
}

func (s *Server) handleChannelsStatus(_ context.Context, client *Client, req *protocol.RequestFrame) {
	status := map[string]bool{}
	if s.manager != nil {
		status = s.manager.Status()
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{"status": status}))
}

func (s *Server) handleCronList(_ context.Context, client *Client, req *protocol.RequestFrame) {
	if s.cron == nil {
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{"jobs": []string{}}))
		return
	}
	jobs := s.cron.Jobs()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })

	type jobInfo struct {
		ID       string    `json:"id"`
		Schedule string    `json:"schedule"`
		AgentID  string    `json:"agentId,omitempty"`
		Channel  string    `json:"channel,omitempty"`
		To       string    `json:"to,omitempty"`
		Disabled bool      `json:"disabled,omitempty"`
		LastRun  time.Time `json:"lastRun,omitzero"`
	}
	list := make([]jobInfo, 0, len(jobs))
	for _, j := range jobs {
		list = append(list, jobInfo{
			ID:       j.ID,
			Schedule: j.Schedule,
			AgentID:  j.AgentID,
			Channel:  j.Channel,
			To:       j.To,
			Disabled: j.Disabled,
			LastRun:  s.cron.LastRun(j.ID),
		})
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{"jobs": list}))
}

type cronRunParams struct {
	JobID string `json:"jobId"`
}

func (s *Server) handleCronRun(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var p cronRunParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.JobID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"cron.run requires jobId"))
		return
	}
	if s.cron == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, "cron not configured"))
		return
	}
	runID, err := s.cron.RunJob(p.JobID)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]string{"runId": runID}))
}

func (s *Server) handleNodesList(_ context.Context, client *Client, req *protocol.RequestFrame) {
	s.mu.RLock()
	type nodeInfo struct {
		ID       string `json:"id"`
		Role     string `json:"role,omitempty"`
		ClientID string `json:"clientId,omitempty"`
		Version  string `json:"version,omitempty"`
		Platform string `json:"platform,omitempty"`
	}
	nodes := make([]nodeInfo, 0, len(s.clients))
	for _, c := range s.clients {
		if !c.connected {
			continue
		}
		nodes = append(nodes, nodeInfo{
			ID:       c.id,
			Role:     c.role,
			ClientID: c.info.ID,
			Version:  c.info.Version,
			Platform: c.info.Platform,
		})
	}
	s.mu.RUnlock()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{"nodes": nodes}))
}

type chatSendParams struct {
	AgentID string `json:"agentId,omitempty"`
	ChatID  string `json:"chatId,omitempty"`
	Message string `json:"message"`
}

// handleChatSend injects an operator message into the normal routing
// pipeline under the "gateway" channel. The reply comes back as a chat
// event through the gateway pseudo-channel.
func (s *Server) handleChatSend(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var p chatSendParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.Message == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"chat.send requires message"))
		return
	}
	chatID := p.ChatID
	if chatID == "" {
		chatID = client.id
	}
	s.msgBus.PublishInbound(bus.InboundMessage{
		Channel:   GatewayChannelName,
		SenderID:  client.id,
		ChatID:    chatID,
		ChatType:  "direct",
		AgentID:   p.AgentID,
		Content:   p.Message,
		MessageID: req.ID,
	})
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]string{"chatId": chatID}))
}

type pairingParams struct {
	Code     string `json:"code,omitempty"`
	Channel  string `json:"channel,omitempty"`
	SenderID string `json:"senderId,omitempty"`
}

// handlePairingApprove links the sender behind a pairing code and tells them
// on their channel.
func (s *Server) handlePairingApprove(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var p pairingParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.Code == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"pairing.approve requires code"))
		return
	}
	if s.pairing == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, "pairing not configured"))
		return
	}
	channel, senderID, err := s.pairing.Approve(p.Code)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, err.Error()))
		return
	}
	if s.manager != nil {
		if err := s.manager.SendToChannel(ctx, channel, senderID,
			"Access approved. Send a message to start chatting."); err != nil {
			slog.Warn("pairing approval notification failed", "channel", channel, "sender", senderID, "error", err)
		}
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]string{
		"channel":  channel,
		"senderId": senderID,
	}))
}

func (s *Server) handlePairingList(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var p pairingParams
	if len(req.Params) > 0 {
		json.Unmarshal(req.Params, &p)
	}
	if s.pairing == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, "pairing not configured"))
		return
	}
	paired, err := s.pairing.ListPaired(p.Channel)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]interface{}{"paired": paired}))
}

func (s *Server) handlePairingRevoke(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var p pairingParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.Channel == "" || p.SenderID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"pairing.revoke requires channel and senderId"))
		return
	}
	if s.pairing == nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, "pairing not configured"))
		return
	}
	if err := s.pairing.Revoke(p.Channel, p.SenderID); err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnavailable, err.Error()))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]bool{"revoked": true}))
}

type chatAbortParams struct {
	SessionKey string `json:"sessionKey"`
}

func (s *Server) handleChatAbort(_ context.Context, client *Client, req *protocol.RequestFrame) {
	var p chatAbortParams
	if err := json.Unmarshal(req.Params, &p); err != nil || p.SessionKey == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest,
			"chat.abort requires sessionKey"))
		return
	}
	aborted := false
	if s.routing != nil {
		aborted = s.routing.Abort(p.SessionKey)
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]bool{"aborted": aborted}))
}
